package store

import (
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	mysqlmigrate "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies every pending migration under migrationsPath in
// order, replacing apicall's hand-rolled ;-split SQL runner with a
// versioned, checksummed migration tool so a partial failure never
// leaves the schema half-applied.
func RunMigrations(conn *Connection, migrationsPath string) error {
	driver, err := mysqlmigrate.WithInstance(conn.DB, &mysqlmigrate.Config{})
	if err != nil {
		return fmt.Errorf("building migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "mysql", driver)
	if err != nil {
		return fmt.Errorf("loading migrations from %s: %w", migrationsPath, err)
	}

	log.Printf("[Store] applying migrations from %s", migrationsPath)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	log.Printf("[Store] schema up to date")
	return nil
}
