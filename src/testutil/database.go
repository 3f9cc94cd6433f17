package testutil

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/StartaleGroup/scs-aa-paymasters/src/utils"
)

var migrationPath = utils.MigrationSourceURL()

// SetupTestDB connects to TEST_DB_URL and runs migrations. Tests that
// call it are skipped when no test database is configured.
func SetupTestDB(t *testing.T) *gorm.DB {
	_ = godotenv.Load(filepath.Join(utils.FindProjectRoot(), ".env"))

	dsn := os.Getenv("TEST_DB_URL")
	if dsn == "" {
		t.Skip("TEST_DB_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	migration, err := migrate.New(
		migrationPath,
		dsn)
	if err != nil {
		log.Fatalf("failed to create migrate: %v", err)
	}

	_ = migration.Up()
	return db
}

// CleanupTestDB rolls the schema back down.
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	dsn := os.Getenv("TEST_DB_URL")
	if dsn == "" {
		t.Fatalf("TEST_DB_URL is not set")
	}

	migration, err := migrate.New(
		migrationPath,
		dsn)
	if err != nil {
		log.Fatalf("failed to create migrate: %v", err)
	}

	_ = migration.Down()
}
