package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"scenariomarket/internal/config"
	"scenariomarket/internal/handlers"
	"scenariomarket/internal/logger"
	"scenariomarket/internal/service"
	"scenariomarket/internal/token"
)

// openTokens picks the transfer backend. Only the vault can report balances.
func openTokens(ctx context.Context, cfg config.TokenConfig) (service.Transferer, handlers.BalanceReader, error) {
	switch cfg.Mode {
	case "erc20":
		erc20, err := token.DialERC20(ctx, cfg.RPCURL, cfg.Contract, cfg.CustodyKey)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("", "token_backend", fmt.Sprintf("mode=erc20 contract=%s custody=%s", cfg.Contract, erc20.Custody().Hex()))
		return erc20, nil, nil

	default:
		if !common.IsHexAddress(cfg.Custody) {
			return nil, nil, fmt.Errorf("token.custody must be a hex address, got %q", cfg.Custody)
		}
		faucet := make(map[common.Address]uint64, len(cfg.Faucet))
		for addr, amount := range cfg.Faucet {
			if !common.IsHexAddress(addr) {
				return nil, nil, fmt.Errorf("token.faucet: invalid address %q", addr)
			}
			faucet[common.HexToAddress(addr)] = amount
		}
		vault := token.NewVault(common.HexToAddress(cfg.Custody), faucet)
		logger.Warn("", "token_backend", fmt.Sprintf("mode=vault custody=%s faucet_accounts=%d; balances are in memory only", cfg.Custody, len(faucet)))
		return vault, vault, nil
	}
}
