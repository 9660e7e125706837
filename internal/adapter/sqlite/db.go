// Package sqlite persists messages and their resolved locations in SQLite.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/couchcryptid/intelmap-ingest/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// Open connects to the SQLite database at path and applies pending migrations.
// The pool is limited to a single connection so concurrent writers are
// serialized instead of failing with SQLITE_BUSY.
func Open(path string, logger *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyMigrations(db.DB, logger); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("close database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("database ready", "path", path)
	return db, nil
}

func applyMigrations(db *sql.DB, logger *slog.Logger) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	start := time.Now()
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("no migrations to apply")
			return nil
		}
		return err
	}

	version, _, _ := m.Version()
	logger.Info("migrations applied", "version", version, "duration", time.Since(start))
	return nil
}

// dsn turns a plain file path into a modernc.org/sqlite DSN with foreign keys
// enforced and a busy timeout. Paths that already carry a query are kept.
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_time_format", "sqlite")
	return "file:" + path + "?" + params.Encode()
}
