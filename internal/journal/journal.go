// Package journal keeps a SQLite ledger of capture outcomes so captures
// that were saved but never delivered can be sent again later.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/depthlink/internal/capture"
	"github.com/banshee-data/depthlink/internal/monitoring"
	"github.com/banshee-data/depthlink/internal/timeutil"
)

// ErrNotFound is returned when a capture id has no journal entry.
var ErrNotFound = errors.New("capture not in journal")

// Journal records capture outcomes.
type Journal struct {
	db    *sql.DB
	path  string
	clock timeutil.Clock
}

// Open opens (creating if needed) the journal database at path and
// applies pending migrations.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps the PRAGMAs below in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	j := &Journal{db: db, path: path, clock: timeutil.RealClock{}}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	monitoring.Logf("journal: opened %s", path)
	return j, nil
}

// SetClock replaces the clock used for recorded_at and delivered_at.
func (j *Journal) SetClock(c timeutil.Clock) { j.clock = c }

// DB exposes the underlying database for admin tooling.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

// Entry is one journal row.
type Entry struct {
	CaptureID     string     `json:"capture_id"`
	MonotonicNS   int64      `json:"monotonic_ns"`
	WallTime      string     `json:"wall_time"`
	Destination   string     `json:"destination"`
	StoredPath    string     `json:"stored_path"`
	LocalStatus   string     `json:"local_status"`
	LocalError    string     `json:"local_error,omitempty"`
	NetworkStatus string     `json:"network_status"`
	Attempts      int        `json:"attempts"`
	NetworkError  string     `json:"network_error,omitempty"`
	Redeliveries  int        `json:"redeliveries"`
	RecordedAt    time.Time  `json:"recorded_at"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
}

// Delivered reports whether the capture reached its destination.
func (e *Entry) Delivered() bool { return e.DeliveredAt != nil }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Record implements capture.Recorder. A first outcome inserts the entry; a
// redelivery outcome updates only the network columns.
func (j *Journal) Record(ctx context.Context, o *capture.Outcome) error {
	if o.CaptureID == "" {
		return nil
	}
	now := j.clock.Now().UnixNano()
	var delivered sql.NullInt64
	if o.Network.Status == capture.Succeeded {
		delivered = sql.NullInt64{Int64: now, Valid: true}
	}

	if o.Redelivery {
		res, err := j.db.ExecContext(ctx, `
			UPDATE captures SET
				network_status = ?,
				attempts       = attempts + ?,
				network_error  = ?,
				delivered_at   = COALESCE(delivered_at, ?),
				redeliveries   = redeliveries + 1
			WHERE capture_id = ?`,
			o.Network.Status.String(), o.Network.Attempts, errString(o.Network.Err), delivered, o.CaptureID)
		if err != nil {
			return fmt.Errorf("journal redelivery of %s: %w", o.CaptureID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("journal redelivery of %s: %w", o.CaptureID, ErrNotFound)
		}
		return nil
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO captures (
			capture_id, monotonic_ns, wall_time, destination,
			stored_path, local_status, local_error,
			network_status, attempts, network_error,
			recorded_at, delivered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.CaptureID, o.Timestamp.MonotonicNanos, o.Timestamp.Wall.Format(time.RFC3339Nano), o.Destination.String(),
		o.Local.Path, o.Local.Status.String(), errString(o.Local.Err),
		o.Network.Status.String(), o.Network.Attempts, errString(o.Network.Err),
		now, delivered)
	if err != nil {
		return fmt.Errorf("journal %s: %w", o.CaptureID, err)
	}
	return nil
}

const selectEntry = `
	SELECT capture_id, monotonic_ns, wall_time, destination,
	       stored_path, local_status, local_error,
	       network_status, attempts, network_error, redeliveries,
	       recorded_at, delivered_at
	FROM captures`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e           Entry
		recordedAt  int64
		deliveredAt sql.NullInt64
	)
	err := s.Scan(&e.CaptureID, &e.MonotonicNS, &e.WallTime, &e.Destination,
		&e.StoredPath, &e.LocalStatus, &e.LocalError,
		&e.NetworkStatus, &e.Attempts, &e.NetworkError, &e.Redeliveries,
		&recordedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}
	e.RecordedAt = time.Unix(0, recordedAt).UTC()
	if deliveredAt.Valid {
		t := time.Unix(0, deliveredAt.Int64).UTC()
		e.DeliveredAt = &t
	}
	return &e, nil
}

// Get returns the entry for id.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := scanEntry(j.db.QueryRowContext(ctx, selectEntry+` WHERE capture_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return e, err
}

// Pending lists captures that were saved locally but never delivered,
// oldest first. A limit of zero or less returns all of them.
func (j *Journal) Pending(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, selectEntry+`
		WHERE local_status = ? AND delivered_at IS NULL
		ORDER BY recorded_at, monotonic_ns
		LIMIT ?`, capture.Succeeded.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// MarkDelivered records that id reached its destination.
func (j *Journal) MarkDelivered(ctx context.Context, id string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE captures SET network_status = ?, delivered_at = COALESCE(delivered_at, ?) WHERE capture_id = ?`,
		capture.Succeeded.String(), j.clock.Now().UnixNano(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

// Counts summarises the journal.
type Counts struct {
	Total     int `json:"total"`
	Saved     int `json:"saved"`
	Delivered int `json:"delivered"`
	Pending   int `json:"pending"`
}

// Counts returns totals over all entries.
func (j *Journal) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(local_status = ?), 0),
		       COALESCE(SUM(delivered_at IS NOT NULL), 0),
		       COALESCE(SUM(local_status = ? AND delivered_at IS NULL), 0)
		FROM captures`,
		capture.Succeeded.String(), capture.Succeeded.String()).Scan(&c.Total, &c.Saved, &c.Delivered, &c.Pending)
	return c, err
}
