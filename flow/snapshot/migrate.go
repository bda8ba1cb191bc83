package snapshot

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver for database/sql

	"github.com/coachpo/flow/errs"
)

// applyMigrations brings the snapshot sink's schema up to date, grounded in
// the teacher's golang-migrate + pgx/v5 wiring. The snapshot sink is
// explicitly non-durable (§9 Non-goals: no replay, no durability guarantee)
// so failures here only disable snapshotting — they never fail node startup.
func applyMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errs.New("snapshot/migrate", errs.CodeStorage, errs.WithCause(err))
	}
	defer db.Close()

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return errs.New("snapshot/migrate", errs.CodeStorage, errs.WithCause(fmt.Errorf("init pgx driver: %w", err)))
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errs.New("snapshot/migrate", errs.CodeStorage, errs.WithCause(fmt.Errorf("load embedded migrations: %w", err)))
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return errs.New("snapshot/migrate", errs.CodeStorage, errs.WithCause(fmt.Errorf("init migrate instance: %w", err)))
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errs.New("snapshot/migrate", errs.CodeStorage, errs.WithCause(fmt.Errorf("apply migrations: %w", err)))
	}
	return nil
}
