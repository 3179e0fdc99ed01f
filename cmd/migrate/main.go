package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/saviobatista/pkes-sim/internal/config"
	"github.com/saviobatista/pkes-sim/internal/db/migrations"
)

type action int

const (
	actionUp action = iota
	actionRollback
	actionStatus
)

func main() {
	dbURL, act, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Printf("%v", err)
		os.Exit(2)
	}

	if err := run(dbURL, act, os.Stdout); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

// parseFlags reads -db, -rollback and -status; -db defaults to DB_CONN_STR
func parseFlags(args []string) (string, action, error) {
	defaultDB := config.Default().DBConnStr
	if env := os.Getenv(config.EnvDBConnStr); env != "" {
		defaultDB = env
	}

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbURL := fs.String("db", defaultDB, "Database connection string")
	rollback := fs.Bool("rollback", false, "Rollback the last applied migration")
	status := fs.Bool("status", false, "List applied and pending migrations")
	if err := fs.Parse(args); err != nil {
		return "", actionUp, err
	}

	switch {
	case *rollback && *status:
		return "", actionUp, errors.New("-rollback and -status are mutually exclusive")
	case *rollback:
		return *dbURL, actionRollback, nil
	case *status:
		return *dbURL, actionStatus, nil
	}
	return *dbURL, actionUp, nil
}

func run(dbURL string, act action, out io.Writer) error {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}()

	return migrate(db, act, out)
}

func migrate(db *sql.DB, act action, out io.Writer) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := migrations.New(db)
	all := migrations.All()

	switch act {
	case actionRollback:
		last, err := migrator.Rollback(all)
		if err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		log.Printf("Schema rolled back to before %s", last.Name)
	case actionStatus:
		return printStatus(migrator, all, out)
	default:
		count, err := migrator.Migrate(all)
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		log.Printf("Schema up to date (%d applied)", count)
	}
	return nil
}

// printStatus writes one "applied|pending <name>" line per known migration
func printStatus(migrator *migrations.Migrator, all []*migrations.Migration, out io.Writer) error {
	if err := migrator.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	applied, err := migrator.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	pending := make(map[string]bool)
	for _, m := range migrations.Pending(all, applied) {
		pending[m.Name] = true
	}
	for _, m := range all {
		state := "applied"
		if pending[m.Name] {
			state = "pending"
		}
		if _, err := fmt.Fprintf(out, "%-8s %s\n", state, m.Name); err != nil {
			return err
		}
	}
	return nil
}
