// Package store persists the completed-job history to sqlite so queue
// history survives restarts and can be purged on a retention schedule.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"ippserv/internal/system"
)

type Store struct {
	db *sql.DB
}

// JobRow is one persisted history entry.
type JobRow struct {
	ID           int64
	JobID        int
	PrinterName  string
	Name         string
	UserName     string
	Format       string
	State        string
	Reasons      string
	Impressions  int
	CreatedAt    time.Time
	ProcessingAt time.Time
	CompletedAt  time.Time
}

func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS job_history (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        job_id INTEGER NOT NULL,
        printer_name TEXT NOT NULL,
        name TEXT NOT NULL DEFAULT '',
        user_name TEXT NOT NULL DEFAULT '',
        format TEXT NOT NULL DEFAULT '',
        state TEXT NOT NULL,
        reasons TEXT NOT NULL DEFAULT '',
        impressions INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL,
        processing_at DATETIME,
        completed_at DATETIME NOT NULL
    )`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_job_history_completed ON job_history(completed_at)`)
	return err
}

// RecordJob implements system.HistoryRecorder.
func (s *Store) RecordJob(rec system.HistoryRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `INSERT INTO job_history
        (job_id, printer_name, name, user_name, format, state, reasons, impressions, created_at, processing_at, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.PrinterName, rec.Name, rec.UserName, rec.Format,
		rec.State, rec.Reasons, rec.Impressions,
		rec.CreatedAt.UTC(), nullableTime(rec.ProcessingAt), rec.CompletedAt.UTC())
	return err
}

// ListRecent returns the newest history rows, most recent first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]JobRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
        id, job_id, printer_name, name, user_name, format, state, reasons, impressions,
        created_at, processing_at, completed_at
        FROM job_history ORDER BY completed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRow
	for rows.Next() {
		var r JobRow
		var processing sql.NullTime
		if err := rows.Scan(&r.ID, &r.JobID, &r.PrinterName, &r.Name, &r.UserName,
			&r.Format, &r.State, &r.Reasons, &r.Impressions,
			&r.CreatedAt, &processing, &r.CompletedAt); err != nil {
			return nil, err
		}
		if processing.Valid {
			r.ProcessingAt = processing.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PurgeOlderThan removes history rows completed before the cutoff and
// returns how many were dropped.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_history WHERE completed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeLoop runs retention cleanup every interval until ctx is done.
func (s *Store) PurgeLoop(ctx context.Context, retention, interval time.Duration, logf func(format string, args ...interface{})) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := s.PurgeOlderThan(ctx, time.Now().Add(-retention))
				if err != nil {
					logf("history purge failed: %v", err)
				} else if n > 0 {
					logf("purged %d job history rows", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
