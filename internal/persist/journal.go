// Package persist journals the schedule to SQLite so that it survives a
// restart of the scheduler.
package persist

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Journal keeps the latest schedule snapshot. Every Save replaces the
// previous one in a single transaction.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// One writer: the schedule owner.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 2000")

	j := &Journal{db: db}
	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal %s: %w", path, err)
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, string(b))
	return err
}

// Close releases the database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Save replaces the journaled schedule with snap.
func (j *Journal) Save(ctx context.Context, snap schedule.Snapshot) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities`); err != nil {
		return fmt.Errorf("journal clear: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO activities(position, apid, seq_count, coarse, fine, payload) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("journal prepare: %w", err)
	}
	defer stmt.Close()
	for i, a := range snap.Activities {
		if _, err := stmt.ExecContext(ctx, i, a.ID.APID, a.ID.SeqCount, a.ReleaseTime.Coarse, a.ReleaseTime.Fine, a.Payload); err != nil {
			return fmt.Errorf("journal %s: %w", a.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schedule_state(id, enabled, saved_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET enabled=excluded.enabled, saved_at=excluded.saved_at`,
		snap.Enabled, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("journal state: %w", err)
	}
	return tx.Commit()
}

// Load returns the journaled schedule. An empty journal yields an empty,
// disabled snapshot.
func (j *Journal) Load(ctx context.Context) (schedule.Snapshot, error) {
	var snap schedule.Snapshot

	var enabled bool
	err := j.db.QueryRowContext(ctx, `SELECT enabled FROM schedule_state WHERE id = 1`).Scan(&enabled)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return snap, fmt.Errorf("journal state: %w", err)
	default:
		snap.Enabled = enabled
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT apid, seq_count, coarse, fine, payload FROM activities ORDER BY position`)
	if err != nil {
		return snap, fmt.Errorf("journal activities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a      schedule.Activity
			coarse uint32
			fine   uint16
		)
		if err := rows.Scan(&a.ID.APID, &a.ID.SeqCount, &coarse, &fine, &a.Payload); err != nil {
			return snap, fmt.Errorf("journal scan: %w", err)
		}
		a.ReleaseTime = obtime.New(coarse, fine)
		snap.Activities = append(snap.Activities, a)
	}
	return snap, rows.Err()
}
