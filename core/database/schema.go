package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

var (
	ErrNewerSchema   = errors.New("database was written by a newer version of rad")
	ErrInvalidSchema = errors.New("invalid schema")
)

// Migration is one schema step. Steps run in version order inside a
// transaction, and the version is stored in PRAGMA user_version.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

func sortedSchema(schema []Migration) ([]Migration, error) {
	steps := make([]Migration, len(schema))
	copy(steps, schema)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })

	for i, step := range steps {
		if step.Version <= 0 {
			return nil, fmt.Errorf("%w: version %d is not positive", ErrInvalidSchema, step.Version)
		}
		if i > 0 && steps[i-1].Version == step.Version {
			return nil, fmt.Errorf("%w: version %d appears twice", ErrInvalidSchema, step.Version)
		}
	}
	return steps, nil
}

func (db *DB) userVersion(ctx context.Context) (int, error) {
	var v int
	err := db.sql.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// migrate applies the steps newer than the stored version. A database
// newer than the schema is refused rather than read.
func (db *DB) migrate(ctx context.Context, schema []Migration, logger *slog.Logger) error {
	steps, err := sortedSchema(schema)
	if err != nil {
		return err
	}
	current, err := db.userVersion(ctx)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}

	latest := 0
	if len(steps) > 0 {
		latest = steps[len(steps)-1].Version
	}
	if current > latest {
		return fmt.Errorf("%w: version %d, expected at most %d", ErrNewerSchema, current, latest)
	}

	for _, step := range steps {
		if step.Version <= current {
			continue
		}
		err := db.Tx(ctx, func(tx *sql.Tx) error {
			if err := step.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", step.Version))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", step.Version, step.Description, err)
		}
		logger.Debug("applied migration", "db", db.path, "version", step.Version, "description", step.Description)
		current = step.Version
	}

	db.version = current
	return nil
}
