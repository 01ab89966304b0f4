package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know the bindvar for
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Ledger is the persistent stake ledger. Reads outside a transaction go
// through the embedded Store; every mutation goes through BeginTx.
type Ledger struct {
	Store
	db        *sqlx.DB
	isolation sql.IsolationLevel
}

// Store runs ledger queries against either the pool or an open transaction
type Store struct {
	ext sqlx.ExtContext
}

// Tx is a ledger transaction. Callers must Commit or Rollback.
type Tx struct {
	Store
	tx *sqlx.Tx
}

// Open connects to the ledger database and runs migrations
func Open(ctx context.Context, driver, dsn string) (*Ledger, error) {
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			absPath, err := filepath.Abs(dsn)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
			dsn = absPath
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	l := NewLedger(db)
	if driver == DriverSQLite {
		// one connection: writes are serialized anyway and :memory: is per-connection
		db.SetMaxOpenConns(1)
		if dsn != ":memory:" {
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
				db.Close()
				return nil, err
			}
		}
	}

	if err := l.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// NewLedger wraps an existing connection without migrating it
func NewLedger(db *sqlx.DB) *Ledger {
	isolation := sql.LevelDefault
	if db.DriverName() == DriverPostgres {
		isolation = sql.LevelSerializable
	}
	return &Ledger{Store: Store{ext: db}, db: db, isolation: isolation}
}

// DB returns the underlying connection pool
func (l *Ledger) DB() *sqlx.DB {
	return l.db
}

// Close closes the database connection
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Ping checks connectivity
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// BeginTx opens a ledger transaction
func (l *Ledger) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := l.db.BeginTxx(ctx, &sql.TxOptions{Isolation: l.isolation})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{Store: Store{ext: tx}, tx: tx}, nil
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS admins (
		address TEXT PRIMARY KEY,
		added_by TEXT NOT NULL,
		added_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scenarios (
		id BIGINT PRIMARY KEY,
		description TEXT NOT NULL,
		creator TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		betting_deadline BIGINT NOT NULL,
		resolution_deadline BIGINT NOT NULL,
		total_pool BIGINT NOT NULL DEFAULT 0,
		yes_pool BIGINT NOT NULL DEFAULT 0,
		no_pool BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'OPEN',
		outcome BOOLEAN NOT NULL DEFAULT FALSE,
		resolution TEXT NOT NULL DEFAULT '',
		resolved_at BIGINT NOT NULL DEFAULT 0,
		admin_fee BIGINT NOT NULL DEFAULT 0,
		CHECK (total_pool = yes_pool + no_pool),
		CHECK (resolution_deadline > betting_deadline)
	)`,
	`CREATE TABLE IF NOT EXISTS bets (
		user_address TEXT NOT NULL,
		scenario_id BIGINT NOT NULL REFERENCES scenarios(id),
		amount BIGINT NOT NULL,
		choice BOOLEAN NOT NULL,
		claimed BOOLEAN NOT NULL DEFAULT FALSE,
		payout BIGINT NOT NULL DEFAULT 0,
		placed_at BIGINT NOT NULL,
		claimed_at BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_address, scenario_id)
	)`,
	`CREATE TABLE IF NOT EXISTS prize_tiers (
		idx INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		amount BIGINT NOT NULL,
		probability BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS wheel_state (
		id INTEGER PRIMARY KEY,
		prize_pool BIGINT NOT NULL DEFAULT 0,
		spin_cost BIGINT NOT NULL DEFAULT 0,
		admin_balance BIGINT NOT NULL DEFAULT 0,
		paused BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS spin_records (
		user_address TEXT PRIMARY KEY,
		last_spin_time BIGINT NOT NULL,
		spin_count BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		scenario_id BIGINT NOT NULL DEFAULT 0,
		actor TEXT NOT NULL DEFAULT '',
		amount BIGINT NOT NULL DEFAULT 0,
		details TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bets_scenario_id ON bets(scenario_id)`,
	`CREATE INDEX IF NOT EXISTS idx_scenarios_status ON scenarios(status)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_events_scenario_id ON ledger_events(scenario_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_events_created_at ON ledger_events(created_at)`,
}

// Migrate creates the ledger tables if they do not exist
func (l *Ledger) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Seed installs the initial owner, spin cost and prize tiers. Values already
// present are left alone, so restarts never reset a live wheel.
func (l *Ledger) Seed(ctx context.Context, owner string, spinCost uint64, tiers []PrizeTier) error {
	tx, err := l.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.exec(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO NOTHING
	`, metaOwnerKey, owner); err != nil {
		return fmt.Errorf("failed to seed owner: %w", err)
	}

	if _, err := tx.exec(ctx, `
		INSERT INTO wheel_state (id, prize_pool, spin_cost, admin_balance, paused)
		VALUES (1, 0, ?, 0, FALSE)
		ON CONFLICT (id) DO NOTHING
	`, spinCost); err != nil {
		return fmt.Errorf("failed to seed wheel state: %w", err)
	}

	var count int
	if err := tx.get(ctx, &count, `SELECT COUNT(*) FROM prize_tiers`); err != nil {
		return fmt.Errorf("failed to count prize tiers: %w", err)
	}
	if count == 0 {
		for i, tier := range tiers {
			if _, err := tx.exec(ctx, `
				INSERT INTO prize_tiers (idx, name, amount, probability)
				VALUES (?, ?, ?, ?)
			`, i, tier.Name, tier.Amount, tier.Probability); err != nil {
				return fmt.Errorf("failed to seed prize tier %d: %w", i, err)
			}
		}
	}

	return tx.Commit()
}

func (s Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.ext.ExecContext(ctx, s.ext.Rebind(query), args...)
}

func (s Store) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, s.ext, dest, s.ext.Rebind(query), args...)
}

func (s Store) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, s.ext, dest, s.ext.Rebind(query), args...)
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%s: expected 1 row affected, got %d", what, n)
	}
	return nil
}
