// Package database opens a bun database for a DSN. Postgres URLs use
// pgdriver, everything else is handed to the sqlite shim.
package database

import (
	"database/sql"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

const (
	DriverPostgres = "postgres"
	// DriverSQLite is the name the sqlite shim registers with database/sql
	DriverSQLite = sqliteshim.ShimName

	DefaultPingTimeout = 5 * time.Second
)

// IsPostgres reports whether dsn points to a postgres server
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Driver returns the database/sql driver name for dsn
func Driver(dsn string) string {
	if IsPostgres(dsn) {
		return DriverPostgres
	}
	return DriverSQLite
}

// Settings describes a connection. It satisfies the go-persistence-bun
// client configuration.
type Settings struct {
	DSN   string `koanf:"dsn"`
	Debug bool   `koanf:"debug"`
	// PingTimeout bounds the connection check, 5s when zero
	PingTimeout time.Duration `koanf:"ping_timeout"`
	// OtelIdentifier names the database in traces, empty disables tracing
	OtelIdentifier string `koanf:"otel_identifier"`
}

func (s Settings) GetDebug() bool    { return s.Debug }
func (s Settings) GetDriver() string { return Driver(s.DSN) }
func (s Settings) GetServer() string { return s.DSN }
func (s Settings) GetDSN() string    { return s.DSN }

func (s Settings) GetPingTimeout() time.Duration {
	if s.PingTimeout <= 0 {
		return DefaultPingTimeout
	}
	return s.PingTimeout
}

func (s Settings) GetOtelIdentifier() string { return s.OtelIdentifier }

type Option func(*bun.DB)

// WithQueryDebug logs every query
func WithQueryDebug(enabled bool) Option {
	return func(db *bun.DB) {
		if enabled {
			db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
		}
	}
}

// OpenSQL opens the connection pool for dsn and picks the matching dialect
func OpenSQL(dsn string) (*sql.DB, schema.Dialect, error) {
	if dsn == "" {
		return nil, nil, goerrors.New("database dsn is required", goerrors.CategoryValidation)
	}

	if IsPostgres(dsn) {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		return sqldb, pgdialect.New(), nil
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
	}
	// sqlite allows a single writer
	sqldb.SetMaxOpenConns(1)
	return sqldb, sqlitedialect.New(), nil
}

// Open returns a bun database for dsn without the persistence client
func Open(dsn string, opts ...Option) (*bun.DB, error) {
	sqldb, dialect, err := OpenSQL(dsn)
	if err != nil {
		return nil, err
	}

	db := bun.NewDB(sqldb, dialect)
	for _, opt := range opts {
		opt(db)
	}

	return db, nil
}
