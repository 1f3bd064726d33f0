package auth

import (
	"context"
	"embed"
	"io/fs"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/migrate"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package. Each
// dialect has its own directory under data/sql/migrations.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// MigrationsDir returns the migrations directory for the dialect of db
func MigrationsDir(db *bun.DB) string {
	if db.Dialect().Name() == dialect.PG {
		return "data/sql/migrations/postgres"
	}
	return "data/sql/migrations/sqlite"
}

// Migrate applies the pending users and password_reset migrations
func Migrate(ctx context.Context, db *bun.DB, logger ...Logger) error {
	var lgr Logger = defLogger{}
	if len(logger) > 0 && logger[0] != nil {
		lgr = logger[0]
	}

	dir, err := fs.Sub(migrationsFS, MigrationsDir(db))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "missing migrations for dialect")
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(dir); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to discover migrations")
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to init migrations table")
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to run migrations")
	}

	if group.IsZero() {
		lgr.Debug("no new migrations")
		return nil
	}

	lgr.Info("migrated", "group", group.ID, "migrations", len(group.Migrations))
	return nil
}
