package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql

	"github.com/shuttleup/shuttle/internal/logger"
	"github.com/shuttleup/shuttle/pkg/store/migrations"
)

// runMigrations executes database migrations using golang-migrate.
// golang-migrate takes PostgreSQL advisory locks, so concurrent server
// instances pointed at the same database will not race each other.
func runMigrations(ctx context.Context, connString, databaseName string) error {
	logger.Info("running database migrations")

	// golang-migrate requires a database/sql connection
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    databaseName,
	})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err == migrate.ErrNoChange {
		logger.Info("no migrations to apply, database is up to date")
	} else {
		logger.Info("migrations applied")
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err != migrate.ErrNilVersion {
		logger.Info("current schema version", "version", version, "dirty", dirty)
		if dirty {
			logger.Warn("database schema is in dirty state, manual intervention may be required")
		}
	}

	return nil
}

// RunMigrations runs the PostgreSQL schema migrations. Used by the migrate
// CLI command; the server also runs them automatically on startup.
func RunMigrations(ctx context.Context, cfg *PostgresConfig) error {
	c := &Config{Type: DatabaseTypePostgres, Postgres: *cfg}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return runMigrations(ctx, c.Postgres.DSN(), c.Postgres.Database)
}

// MigrationVersion returns the current schema version and whether the
// schema is in a dirty state. A zero version means no migrations have
// been applied yet.
func MigrationVersion(cfg *PostgresConfig) (uint, bool, error) {
	c := &Config{Type: DatabaseTypePostgres, Postgres: *cfg}
	c.ApplyDefaults()

	db, err := sql.Open("pgx", c.Postgres.DSN())
	if err != nil {
		return 0, false, fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, false, fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return 0, false, err
	}
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}

	return version, dirty, nil
}
