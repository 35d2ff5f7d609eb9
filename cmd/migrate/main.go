/*
main.go - Schema migration tool

PURPOSE:
  Runs the embedded golang-migrate files against a SQLite database
  without starting the server. The server applies pending up migrations
  on its own; this tool is for rolling back and inspecting.

USAGE:
  ./migrate [-db path] [up|down|drop|version]

  The action defaults to "up". The database path defaults to DB_PATH.
*/
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/holiday-engine/config"
	"github.com/warp/holiday-engine/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	action := "up"
	if flag.NArg() > 0 {
		action = flag.Arg(0)
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		path = cfg.Database.Path
	}

	if err := runMigration(action, path); err != nil {
		log.Fatalf("migration %s failed: %v", action, err)
	}
	log.Printf("migration %s completed", action)
}

func runMigration(action, path string) error {
	db, err := sql.Open("sqlite3", sqlite.DSN(path))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	m, err := sqlite.NewMigrator(db)
	if err != nil {
		db.Close()
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	switch action {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	case "drop":
		return m.Drop()
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Printf("no migration applied")
				return nil
			}
			return err
		}
		log.Printf("version=%d dirty=%t", version, dirty)
		return nil
	default:
		return fmt.Errorf("unsupported action %q", action)
	}
}
