package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

func (db *DB) migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, db.dialect.migrationsDir())
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	// An in-memory database only exists on the shared handle, so migrate it in
	// place. Everything else gets a separate connection that the migrator owns.
	shared := db.dialect == DialectSQLite && isMemoryDSN(dsn)
	target := db.conn
	if !shared {
		target, err = sql.Open(db.dialect.driverName(), dsn)
		if err != nil {
			return fmt.Errorf("open migration database: %w", err)
		}
		defer target.Close()
	}

	driver, err := db.dialect.migrationDriver(target)
	if err != nil {
		return fmt.Errorf("create %s driver: %w", db.dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, db.dialect.String(), driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if !shared {
		// Closing the migrator also closes its database handle.
		defer m.Close()
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
