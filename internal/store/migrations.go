package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// migration is one schema step.
type migration struct {
	version     int
	description string
	up          func(*sql.Tx, dialect) error
}

var migrations = []migration{
	{1, "create screenshots table", migration001Up},
	{2, "create themes table", migration002Up},
	{3, "create screenshot indexes", migration003Up},
}

// Migrate applies pending migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_version (
			id %s,
			version INTEGER NOT NULL UNIQUE,
			description TEXT NOT NULL,
			applied_at BIGINT NOT NULL
		)`, s.dialect.serialPK)); err != nil {
		return apperrors.Wrap(err, apperrors.PersistenceWrite, "create schema_version")
	}

	current, err := s.Version(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.execTx(ctx, func(tx *sql.Tx) error {
			if err := m.up(tx, s.dialect); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
			_, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO schema_version (version, description, applied_at)
				VALUES (?, ?, ?)`), m.version, m.description, time.Now().UnixMilli())
			return err
		})
		if err != nil {
			return apperrors.Wrap(err, apperrors.PersistenceWrite, "migrate")
		}
		slog.Info("database migration applied", "version", m.version, "description", m.description)
	}
	return nil
}

// Version returns the latest applied schema version.
func (s *Store) Version(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, apperrors.Wrap(err, apperrors.Internal, "read schema version")
	}
	return v, nil
}

func migration001Up(tx *sql.Tx, d dialect) error {
	_, err := tx.Exec(fmt.Sprintf(`
		CREATE TABLE screenshots (
			id %s,
			filename TEXT NOT NULL,
			filepath TEXT NOT NULL UNIQUE,
			timestamp BIGINT NOT NULL,
			theme TEXT,
			ocr_text TEXT,
			file_size BIGINT NOT NULL DEFAULT 0
		)`, d.serialPK))
	return err
}

func migration002Up(tx *sql.Tx, d dialect) error {
	_, err := tx.Exec(fmt.Sprintf(`
		CREATE TABLE themes (
			id %s,
			name TEXT NOT NULL UNIQUE,
			last_used BIGINT NOT NULL,
			use_count INTEGER NOT NULL DEFAULT 1
		)`, d.serialPK))
	return err
}

func migration003Up(tx *sql.Tx, _ dialect) error {
	for _, stmt := range []string{
		`CREATE INDEX idx_screenshots_timestamp ON screenshots(timestamp)`,
		`CREATE INDEX idx_screenshots_theme ON screenshots(theme)`,
		`CREATE INDEX idx_themes_last_used ON themes(last_used)`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
