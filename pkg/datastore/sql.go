// Package datastore is the persistence gateway to the sourcebans schema.
// All statements are parameterised; rows are decoded into typed records
// before they leave this package.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// ErrStoreUnavailable matches every connection, timeout or driver failure
// returned by this package.
var ErrStoreUnavailable = errors.New("datastore: store unavailable")

// StoreError wraps a driver failure with the operation that produced it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "datastore: " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Config selects and tunes the backing database.
type Config struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	Migrate         bool          `mapstructure:"migrate"` // sqlite only
}

// DefaultConfig returns a local SQLite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:       DriverSQLite,
		DSN:          "simpleadmin.db",
		MaxOpenConns: 10,
		MaxIdleConns: 2,
		QueryTimeout: 5 * time.Second,
		Migrate:      true,
	}
}

// queryer is satisfied by *sqlx.Conn and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type baseProvider struct {
	q       queryer
	bind    int
	timeout time.Duration
}

func (p *baseProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

// in expands slice arguments and rebinds placeholders for the driver.
func (p *baseProvider) in(query string, args ...any) (string, []any, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return sqlx.Rebind(p.bind, q), a, nil
}

// sqlxGet and sqlxSelect keep call sites short.
func sqlxGet(ctx context.Context, q sqlx.QueryerContext, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

func sqlxSelect(ctx context.Context, q sqlx.QueryerContext, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

type connProvider struct {
	baseProvider
	conn *sqlx.Conn
	once sync.Once
	err  error
}

func (c *connProvider) Close() error {
	c.once.Do(func() { c.err = c.conn.Close() })
	return c.err
}

func (c *connProvider) Tx(ctx context.Context, fn func(DataStore) error) error {
	tx, err := c.conn.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txProvider{baseProvider: baseProvider{q: tx, bind: c.bind, timeout: c.timeout}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

type txProvider struct {
	baseProvider
}

func (t *txProvider) Tx(_ context.Context, fn func(DataStore) error) error {
	return fn(t)
}

func (t *txProvider) Close() error { return nil }

// ProviderFactory owns the connection pool.
type ProviderFactory struct {
	DB      *sqlx.DB
	timeout time.Duration
}

// NewProviderFactory opens the database described by cfg and, for SQLite
// with Migrate set, brings the schema up to date.
func NewProviderFactory(cfg Config) (*ProviderFactory, error) {
	dsn := cfg.DSN
	switch cfg.Driver {
	case DriverSQLite:
	case DriverMySQL:
		dsn = NormalizeMySQLDSN(dsn)
	default:
		return nil, fmt.Errorf("datastore: unsupported driver %q", cfg.Driver)
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: open db: %w", err)
	}

	ctx := context.Background()
	if cfg.Driver == DriverSQLite {
		// SQLite doesn't support concurrent writers.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("datastore: %s: %w", pragma, err)
			}
		}
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("datastore: ping: %w", err)
		}
	}

	f := &ProviderFactory{DB: db, timeout: cfg.QueryTimeout}
	if cfg.Migrate {
		if cfg.Driver != DriverSQLite {
			slog.Warn("schema migration is only supported for sqlite, skipping", "driver", cfg.Driver)
		} else if err := f.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("datastore: migrate: %w", err)
		}
	}
	return f, nil
}

// Acquire checks a connection out of the pool.
func (f *ProviderFactory) Acquire(ctx context.Context) (DataStore, error) {
	conn, err := f.DB.Connx(ctx)
	if err != nil {
		return nil, storeErr("acquire", err)
	}
	return &connProvider{
		baseProvider: baseProvider{q: conn, bind: sqlx.BindType(f.DB.DriverName()), timeout: f.timeout},
		conn:         conn,
	}, nil
}

// Close closes the pool.
func (f *ProviderFactory) Close() error {
	return f.DB.Close()
}

func (f *ProviderFactory) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sb_srvgroups (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		name     TEXT    NOT NULL UNIQUE,
		flags    TEXT    NOT NULL DEFAULT '',
		immunity INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sb_admins (
		aid       INTEGER PRIMARY KEY AUTOINCREMENT,
		user      TEXT    NOT NULL,
		authid    TEXT    NOT NULL DEFAULT '',
		password  TEXT    NOT NULL,
		gid       INTEGER NOT NULL DEFAULT -1,
		email     TEXT    NOT NULL,
		srv_group TEXT,
		immunity  INTEGER
	);

	CREATE TABLE IF NOT EXISTS sb_bans (
		bid        INTEGER PRIMARY KEY AUTOINCREMENT,
		ip         TEXT,
		authid     TEXT    NOT NULL DEFAULT '',
		name       TEXT    NOT NULL DEFAULT '',
		created    INTEGER NOT NULL DEFAULT 0,
		ends       INTEGER NOT NULL DEFAULT 0,
		length     INTEGER NOT NULL DEFAULT 0,
		reason     TEXT    NOT NULL DEFAULT '',
		aid        INTEGER NOT NULL DEFAULT 0,
		adminIp    TEXT    NOT NULL DEFAULT '',
		sid        INTEGER NOT NULL DEFAULT 0,
		RemovedBy  INTEGER,
		RemoveType TEXT,
		RemovedOn  INTEGER,
		ureason    TEXT
	);

	CREATE TABLE IF NOT EXISTS sb_comms (
		bid        INTEGER PRIMARY KEY AUTOINCREMENT,
		authid     TEXT    NOT NULL DEFAULT '',
		name       TEXT    NOT NULL DEFAULT '',
		created    INTEGER NOT NULL DEFAULT 0,
		ends       INTEGER NOT NULL DEFAULT 0,
		length     INTEGER NOT NULL DEFAULT 0,
		reason     TEXT    NOT NULL DEFAULT '',
		aid        INTEGER NOT NULL DEFAULT 0,
		type       INTEGER NOT NULL DEFAULT 2,
		passed     INTEGER DEFAULT 0,
		RemovedBy  INTEGER,
		RemoveType TEXT,
		RemovedOn  INTEGER,
		ureason    TEXT
	);
	`
	if err := f.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := f.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_bans_authid ON sb_bans (authid)",
				"CREATE INDEX IF NOT EXISTS idx_bans_ip ON sb_bans (ip)",
				"CREATE INDEX IF NOT EXISTS idx_comms_authid ON sb_comms (authid)",
				"CREATE UNIQUE INDEX IF NOT EXISTS idx_admins_authid ON sb_admins (authid)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := f.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := f.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (f *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := f.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := f.DB.GetContext(ctx, &count, "SELECT COUNT(*) FROM schema_migrations"); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := f.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (f *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := f.DB.GetContext(ctx, &version, "SELECT version FROM schema_migrations LIMIT 1"); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (f *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := f.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (f *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := f.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// optional turns an empty string into a NULL bind argument so that
// "col = ?" never matches.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
