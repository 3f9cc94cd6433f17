package utils

import (
	"os"
	"path/filepath"
	"runtime"
)

// FindProjectRoot walks up from this file until it hits the directory
// containing go.mod. Used by tests and tooling that need repo-relative
// paths regardless of the working directory they run from.
func FindProjectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			panic("project root not found: no go.mod on any parent path")
		}
		dir = parent
	}
}

// MigrationSourceURL returns the file:// source for the ledger schema
// migrations shipped with the repo.
func MigrationSourceURL() string {
	return "file://" + filepath.Join(FindProjectRoot(), "migrations")
}
