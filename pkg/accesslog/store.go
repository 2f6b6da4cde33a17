package accesslog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS access_log (
	id          TEXT PRIMARY KEY,
	time        INTEGER NOT NULL,
	mode        TEXT NOT NULL,
	client_addr TEXT NOT NULL,
	identity    TEXT,
	target      TEXT,
	method      TEXT,
	path        TEXT,
	status      TEXT NOT NULL,
	bytes_in    INTEGER NOT NULL,
	bytes_out   INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_log_time ON access_log(time);
`

// Store is the SQLite-backed access log storage.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenStore opens (creating if needed) the access log database at path.
// WAL mode keeps inserts from blocking the retention pruner.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open access log: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure access log: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create access log schema: %w", err)
	}

	logger := slog.Default().With("component", "accesslog")
	logger.Info("access log opened", "path", path)

	return &Store{db: db, logger: logger}, nil
}

// Insert persists one record.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_log (
			id, time, mode, client_addr, identity, target,
			method, path, status, bytes_in, bytes_out, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Time.UnixMilli(), r.Mode, r.ClientAddr,
		nullable(r.Identity), nullable(r.Target),
		nullable(r.Method), nullable(r.Path),
		r.Status, r.BytesIn, r.BytesOut, r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert access record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, time, mode, client_addr, identity, target,
		       method, path, status, bytes_in, bytes_out, duration_ms
		FROM access_log ORDER BY time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query access log: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			r          Record
			ts         int64
			durationMs int64
			identity   sql.NullString
			target     sql.NullString
			method     sql.NullString
			path       sql.NullString
		)
		if err := rows.Scan(&r.ID, &ts, &r.Mode, &r.ClientAddr, &identity, &target,
			&method, &path, &r.Status, &r.BytesIn, &r.BytesOut, &durationMs); err != nil {
			return nil, fmt.Errorf("scan access record: %w", err)
		}
		r.Time = time.UnixMilli(ts).UTC()
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Identity = identity.String
		r.Target = target.String
		r.Method = method.String
		r.Path = path.String
		records = append(records, &r)
	}
	return records, rows.Err()
}

// Prune deletes records older than cutoff and returns the count removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM access_log WHERE time < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune access log: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM access_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count access log: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
