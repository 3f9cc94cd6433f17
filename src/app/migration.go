package app

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationUp applies pending journal schema migrations. The server must
// not start against a half-migrated ledger, so failures are returned to
// the caller instead of logged and ignored.
func MigrationUp(databaseDSN string, migrationPath string) error {
	migration, err := migrate.New(migrationPath, databaseDSN)
	if err != nil {
		return fmt.Errorf("failed to create migrate: %w", err)
	}
	defer migration.Close()

	if err := migration.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migration up: %w", err)
	}
	return nil
}

// MigrationDown rolls the journal schema back. Destroys ledger history;
// operator tooling only.
func MigrationDown(databaseDSN string, migrationPath string) error {
	migration, err := migrate.New(migrationPath, databaseDSN)
	if err != nil {
		return fmt.Errorf("failed to create migrate: %w", err)
	}
	defer migration.Close()

	if err := migration.Down(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migration down: %w", err)
	}
	return nil
}
