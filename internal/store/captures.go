package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// Capture is one persisted screenshot record.
type Capture struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	Path       string    `json:"filepath"`
	CapturedAt time.Time `json:"timestamp"`
	Theme      string    `json:"theme,omitempty"`
	Text       string    `json:"ocrText,omitempty"`
	FileSize   int64     `json:"fileSize"`
}

// Statistics summarises stored captures.
type Statistics struct {
	Total      int64 `json:"total"`
	Today      int64 `json:"today"`
	TotalBytes int64 `json:"totalSize"`
}

// Theme is a theme with its usage history.
type Theme struct {
	Name     string    `json:"name"`
	LastUsed time.Time `json:"lastUsed"`
	UseCount int       `json:"useCount"`
}

// Query filters Search. Zero fields are ignored.
type Query struct {
	Text  string
	Theme string
	From  time.Time
	To    time.Time
	Limit int
}

// DefaultSearchLimit applies when Query.Limit is not positive.
const DefaultSearchLimit = 100

const captureColumns = `id, filename, filepath, timestamp, theme, ocr_text, file_size`

// SaveCapture inserts a capture and returns its id. Saving the same filepath
// again returns the existing id without touching the record.
func (s *Store) SaveCapture(ctx context.Context, c Capture) (int64, error) {
	var id int64
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.rebind(`
			INSERT INTO screenshots (filename, filepath, timestamp, theme, file_size)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (filepath) DO NOTHING
			RETURNING id`),
			c.Filename, c.Path, c.CapturedAt.UnixMilli(), nullString(c.Theme), c.FileSize,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM screenshots WHERE filepath = ?`), c.Path).Scan(&id)
		}
		if err != nil {
			return err
		}
		if c.Theme == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO themes (name, last_used, use_count) VALUES (?, ?, 1)
			ON CONFLICT (name) DO UPDATE SET
				use_count = themes.use_count + 1,
				last_used = excluded.last_used`),
			c.Theme, c.CapturedAt.UnixMilli())
		return err
	})
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.PersistenceWrite, "save capture").WithMetadata("filepath", c.Path)
	}
	return id, nil
}

// UpdateText sets the OCR text of a record.
func (s *Store) UpdateText(ctx context.Context, id int64, text string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE screenshots SET ocr_text = ? WHERE id = ?`), text, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.PersistenceWrite, "update OCR text")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Newf(apperrors.NotFound, "capture %d not found", id)
	}
	return nil
}

// Get returns a record by id.
func (s *Store) Get(ctx context.Context, id int64) (Capture, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+captureColumns+` FROM screenshots WHERE id = ?`), id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Capture{}, apperrors.Newf(apperrors.NotFound, "capture %d not found", id)
	}
	if err != nil {
		return Capture{}, apperrors.Wrap(err, apperrors.Internal, "get capture")
	}
	return c, nil
}

// Statistics counts all records, today's records and total bytes.
func (s *Store) Statistics(ctx context.Context, now time.Time) (Statistics, error) {
	y, m, d := now.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	var st Statistics
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT
			COUNT(*),
			CAST(COALESCE(SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(file_size), 0) AS BIGINT)
		FROM screenshots`), startOfDay.UnixMilli()).Scan(&st.Total, &st.Today, &st.TotalBytes)
	if err != nil {
		return Statistics{}, apperrors.Wrap(err, apperrors.Internal, "statistics")
	}
	return st, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// escapeLike makes s match literally inside a LIKE pattern.
func escapeLike(s string) string { return likeEscaper.Replace(s) }

// Search returns matching records, newest first.
func (s *Store) Search(ctx context.Context, q Query) ([]Capture, error) {
	var (
		where []string
		args  []any
	)
	if q.Theme != "" {
		where = append(where, `theme LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(q.Theme)+"%")
	}
	if q.Text != "" {
		where = append(where, `ocr_text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(q.Text)+"%")
	}
	if !q.From.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, q.To.UnixMilli())
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	query := `SELECT ` + captureColumns + ` FROM screenshots`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	return s.queryCaptures(ctx, query, args...)
}

// DeleteOlderThan removes records captured before cutoff and returns how
// many were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM screenshots WHERE timestamp < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.PersistenceWrite, "delete old captures")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Themes lists themes by popularity, then recency.
func (s *Store) Themes(ctx context.Context) ([]Theme, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, last_used, use_count FROM themes ORDER BY use_count DESC, last_used DESC`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "list themes")
	}
	defer rows.Close()

	var themes []Theme
	for rows.Next() {
		var (
			t  Theme
			ms int64
		)
		if err := rows.Scan(&t.Name, &ms, &t.UseCount); err != nil {
			return nil, apperrors.Wrap(err, apperrors.Internal, "scan theme")
		}
		t.LastUsed = time.UnixMilli(ms)
		themes = append(themes, t)
	}
	return themes, rows.Err()
}

func (s *Store) queryCaptures(ctx context.Context, query string, args ...any) ([]Capture, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "query captures")
	}
	defer rows.Close()

	var out []Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.Internal, "scan capture")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "iterate captures")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCapture(sc scanner) (Capture, error) {
	var (
		c     Capture
		ms    int64
		theme sql.NullString
		text  sql.NullString
	)
	if err := sc.Scan(&c.ID, &c.Filename, &c.Path, &ms, &theme, &text, &c.FileSize); err != nil {
		return Capture{}, err
	}
	c.CapturedAt = time.UnixMilli(ms)
	c.Theme = theme.String
	c.Text = text.String
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
