package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration (matches config/config.yaml)
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Market   MarketConfig   `mapstructure:"market"`
	Wheel    WheelConfig    `mapstructure:"wheel"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Token    TokenConfig    `mapstructure:"token"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	RateLimitRPS   int      `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	URL string        `mapstructure:"url"` // empty disables the read cache
	TTL time.Duration `mapstructure:"ttl"`
}

type TelegramConfig struct {
	BotToken    string `mapstructure:"bot_token"`
	ChannelID   string `mapstructure:"channel_id"`
	AdminChatID int64  `mapstructure:"admin_chat_id"`
	WebAppURL   string `mapstructure:"web_app_url"`
}

type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	LoginMaxAge time.Duration `mapstructure:"login_max_age"`
}

// MarketConfig holds the scenario economics, fixed for the life of a deployment
type MarketConfig struct {
	Owner  string `mapstructure:"owner"`
	FeeBps uint64 `mapstructure:"fee_bps"`
	MinBet uint64 `mapstructure:"min_bet"`
	MaxBet uint64 `mapstructure:"max_bet"`
}

type WheelConfig struct {
	SpinCost      uint64        `mapstructure:"spin_cost"`
	ExtraSpinCost uint64        `mapstructure:"extra_spin_cost"`
	BypassFeeBps  uint64        `mapstructure:"bypass_fee_bps"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	// JackpotNotify is the prize amount at or above which a win is broadcast
	JackpotNotify uint64 `mapstructure:"jackpot_notify"`
}

type WorkerConfig struct {
	Schedule   string        `mapstructure:"schedule"`
	WarnBefore time.Duration `mapstructure:"warn_before"`
}

type TokenConfig struct {
	Mode       string            `mapstructure:"mode"` // vault or erc20
	Custody    string            `mapstructure:"custody"`
	RPCURL     string            `mapstructure:"rpc_url"`
	Contract   string            `mapstructure:"contract"`
	CustodyKey string            `mapstructure:"custody_key"`
	Faucet     map[string]uint64 `mapstructure:"faucet"` // vault mode only: address -> opening balance
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 10)
	v.SetDefault("server.rate_limit_burst", 20)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "/app/data/market.db")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 10*time.Minute)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.channel_id", "")
	v.SetDefault("telegram.admin_chat_id", 0)
	v.SetDefault("telegram.web_app_url", "")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.login_max_age", 5*time.Minute)

	v.SetDefault("market.owner", "")
	v.SetDefault("market.fee_bps", 100)
	v.SetDefault("market.min_bet", 1_000_000)
	v.SetDefault("market.max_bet", 10_000_000_000)

	v.SetDefault("wheel.spin_cost", 1_000_000)
	v.SetDefault("wheel.extra_spin_cost", 2_000_000)
	v.SetDefault("wheel.bypass_fee_bps", 1000)
	v.SetDefault("wheel.cooldown", 24*time.Hour)
	v.SetDefault("wheel.jackpot_notify", 10_000_000)

	v.SetDefault("worker.schedule", "@every 1m")
	v.SetDefault("worker.warn_before", time.Hour)

	v.SetDefault("token.mode", "vault")
	v.SetDefault("token.custody", "0x000000000000000000000000000000000000c0de")
	v.SetDefault("token.rpc_url", "")
	v.SetDefault("token.contract", "")
	v.SetDefault("token.custody_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads config/config.yaml when present. Values from .env and the
// process environment (MARKET_SERVER_PORT, MARKET_WHEEL_SPIN_COST, ...) win.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	overrideFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overrideFromEnv keeps the bare variable names the bot deployment already uses
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("CHANNEL_ID"); v != "" {
		cfg.Telegram.ChannelID = v
	}
	if v := os.Getenv("WEB_APP_URL"); v != "" {
		cfg.Telegram.WebAppURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
}

// maxAmount is the largest amount the ledger's BIGINT columns hold
const maxAmount = math.MaxInt64

// Validate rejects configurations the engines cannot run with
func (c *Config) Validate() error {
	if c.Market.FeeBps > 10000 {
		return fmt.Errorf("market.fee_bps must be <= 10000, got %d", c.Market.FeeBps)
	}
	if c.Market.MinBet == 0 || c.Market.MinBet > c.Market.MaxBet {
		return fmt.Errorf("market.min_bet must be > 0 and <= market.max_bet")
	}
	if c.Market.MaxBet > maxAmount {
		return fmt.Errorf("market.max_bet must be <= %d, got %d", uint64(maxAmount), c.Market.MaxBet)
	}
	if c.Wheel.SpinCost > maxAmount {
		return fmt.Errorf("wheel.spin_cost must be <= %d, got %d", uint64(maxAmount), c.Wheel.SpinCost)
	}
	if c.Wheel.ExtraSpinCost == 0 || c.Wheel.ExtraSpinCost > maxAmount {
		return fmt.Errorf("wheel.extra_spin_cost must be > 0 and <= %d, got %d", uint64(maxAmount), c.Wheel.ExtraSpinCost)
	}
	if c.Wheel.BypassFeeBps > 10000 {
		return fmt.Errorf("wheel.bypass_fee_bps must be <= 10000, got %d", c.Wheel.BypassFeeBps)
	}
	if c.Wheel.Cooldown <= 0 {
		return fmt.Errorf("wheel.cooldown must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.Token.Mode {
	case "vault":
	case "erc20":
		if c.Token.RPCURL == "" || c.Token.Contract == "" || c.Token.CustodyKey == "" {
			return fmt.Errorf("token.mode erc20 requires rpc_url, contract and custody_key")
		}
	default:
		return fmt.Errorf("unsupported token.mode %q", c.Token.Mode)
	}
	return nil
}
