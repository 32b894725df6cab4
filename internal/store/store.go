// Package store persists capture records in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// dialect captures the few DDL differences between drivers.
type dialect struct {
	name     string
	serialPK string
}

var dialects = map[string]dialect{
	DriverSQLite:   {name: DriverSQLite, serialPK: "INTEGER PRIMARY KEY AUTOINCREMENT"},
	DriverPostgres: {name: DriverPostgres, serialPK: "BIGSERIAL PRIMARY KEY"},
}

// Store wraps the database connection.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the database. For SQLite the DSN is a file path whose
// directory is created if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, apperrors.Newf(apperrors.ConfigInvalid, "unsupported database driver %q", driver)
	}

	if driver == DriverSQLite {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, apperrors.Wrap(err, apperrors.PersistenceWrite, "create database directory")
			}
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "ping database")
	}

	if driver == DriverSQLite {
		// SQLite works best with a single writer connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	return &Store{db: db, dialect: d}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Driver returns the driver name in use.
func (s *Store) Driver() string { return s.dialect.name }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect.name != DriverPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// execTx runs fn inside a transaction.
func (s *Store) execTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
