// Package dolt implements the storage repositories on a MySQL-protocol server.
//
// It targets dolt sql-server, which speaks the MySQL wire protocol, and works
// unchanged against MySQL itself. Connections go through
// github.com/go-sql-driver/mysql; transient failures (stale pool connections,
// server restarts, serialization conflicts) are retried with exponential
// backoff.
//
// Updates are optimistic: every row carries a version and an UPDATE only
// applies when the caller's version matches.
package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
)

// Defaults for Config fields left empty.
const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 3306
	DefaultUser     = "root"
	DefaultDatabase = "taskorch"
)

// Config holds connection settings.
type Config struct {
	// DSN is a go-sql-driver/mysql data source name. When set, the discrete
	// fields below are ignored.
	DSN string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      bool // required by hosted Dolt

	MaxOpenConns int
	// ConnectTimeout bounds the initial connect-and-create retries (default 30s).
	ConnectTimeout time.Duration
	// Now overrides the timestamp source; tests use it for stable values.
	Now func() time.Time
}

// Store owns the connection pool shared by the repositories.
type Store struct {
	db       *sql.DB
	dsn      string
	database string
	now      func() time.Time
	closed   atomic.Bool

	// newBackoff returns a fresh policy per call; BackOff values are stateful.
	newBackoff func() backoff.BackOff
}

var databaseNameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_\-]{0,63}$`)

func validateDatabaseName(name string) error {
	if !databaseNameRe.MatchString(name) {
		return fmt.Errorf("invalid database name %q (letters, digits, '_' and '-' only)", name)
	}
	return nil
}

// mysqlConfig resolves c into a driver config. ParseTime is always on since
// timestamps are scanned into time.Time.
func (c *Config) mysqlConfig() (*mysql.Config, error) {
	if c.DSN != "" {
		mc, err := mysql.ParseDSN(c.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse dsn: %w", err)
		}
		if mc.DBName == "" {
			mc.DBName = DefaultDatabase
		}
		mc.ParseTime = true
		mc.Loc = time.UTC
		return mc, nil
	}

	mc := mysql.NewConfig()
	mc.User = c.User
	if mc.User == "" {
		mc.User = DefaultUser
	}
	mc.Passwd = c.Password
	host, port := c.Host, c.Port
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.DBName = c.Database
	if mc.DBName == "" {
		mc.DBName = DefaultDatabase
	}
	if c.TLS {
		mc.TLSConfig = "true"
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc, nil
}

// FormatDSN returns the DSN New would connect with.
func (c *Config) FormatDSN() (string, error) {
	mc, err := c.mysqlConfig()
	if err != nil {
		return "", err
	}
	return mc.FormatDSN(), nil
}

func newConnectBackoff(maxElapsed time.Duration) func() backoff.BackOff {
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = maxElapsed
		return bo
	}
}

// New connects, creates the database if needed and applies the schema.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	mc, err := cfg.mysqlConfig()
	if err != nil {
		return nil, err
	}
	if err := validateDatabaseName(mc.DBName); err != nil {
		return nil, err
	}

	s := &Store{
		dsn:        mc.FormatDSN(),
		database:   mc.DBName,
		now:        cfg.Now,
		newBackoff: newConnectBackoff(cfg.ConnectTimeout),
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.ensureDatabase(ctx, mc); err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
	s.db = db

	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// ensureDatabase connects without a database selected and creates it. The
// server may still be starting, so connection errors are retried.
func (s *Store) ensureDatabase(ctx context.Context, mc *mysql.Config) error {
	initCfg := mc.Clone()
	initCfg.DBName = ""
	connector, err := mysql.NewConnector(initCfg)
	if err != nil {
		return fmt.Errorf("mysql connector: %w", err)
	}
	initDB := sql.OpenDB(connector)
	defer func() { _ = initDB.Close() }()

	stmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", mc.DBName) //nolint:gosec // G201: name checked by validateDatabaseName
	err = s.withRetry(ctx, func() error {
		_, err := initDB.ExecContext(ctx, stmt)
		if err != nil && isDatabaseExists(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to server at %s: %w", mc.Addr, err)
	}
	return nil
}

// Repositories returns kind-scoped repositories over the store.
func (s *Store) Repositories() storage.Repositories {
	return storage.Repositories{
		Projects:     &itemRepo{s: s, kind: types.KindProject},
		Features:     &itemRepo{s: s, kind: types.KindFeature},
		Tasks:        &itemRepo{s: s, kind: types.KindTask},
		Dependencies: &depRepo{s: s},
	}
}

// Database returns the selected database name.
func (s *Store) Database() string {
	return s.database
}

// DSN returns the data source name in use, password included.
func (s *Store) DSN() string {
	return s.dsn
}

// UnderlyingDB exposes the pool for diagnostics and tests.
func (s *Store) UnderlyingDB() *sql.DB {
	return s.db
}

// Close closes the pool. Calling it twice is a no-op.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
