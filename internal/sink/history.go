package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	sequence  INTEGER NOT NULL,
	tick_id   TEXT PRIMARY KEY,
	taken_at  INTEGER NOT NULL,
	count     INTEGER NOT NULL,
	degraded  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS samples (
	tick_id       TEXT NOT NULL REFERENCES snapshots(tick_id) ON DELETE CASCADE,
	pid           INTEGER NOT NULL,
	parent_pid    INTEGER,
	kind          TEXT NOT NULL,
	name          TEXT NOT NULL,
	cpu_percent   REAL NOT NULL,
	memory_bytes  INTEGER NOT NULL,
	private_bytes INTEGER NOT NULL,
	PRIMARY KEY (tick_id, pid)
);
CREATE INDEX IF NOT EXISTS samples_pid ON samples(pid);
CREATE INDEX IF NOT EXISTS snapshots_taken_at ON snapshots(taken_at);
`

// Sample is one recorded process at one tick.
type Sample struct {
	TickID       string
	TakenAt      time.Time
	PID          int
	ParentPID    *int
	Kind         monitor.ProcessKind
	Name         string
	CPUPercent   float64
	MemoryBytes  uint64
	PrivateBytes uint64
}

// History records snapshots into a SQLite database.
type History struct {
	db *sql.DB
}

// OpenHistory opens or creates the database at path. ":memory:" keeps the
// history in memory.
func OpenHistory(path string) (*History, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	// one writer; also keeps an in-memory database alive on one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(historySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// OnSnapshot implements monitor.Sink. Each snapshot is written in one
// transaction.
func (h *History) OnSnapshot(ctx context.Context, snap *monitor.Snapshot) (err error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (sequence, tick_id, taken_at, count, degraded) VALUES (?, ?, ?, ?, ?)`,
		snap.Sequence, snap.TickID, snap.TakenAt.UnixMilli(), snap.Count, snap.Degraded,
	); err != nil {
		return fmt.Errorf("history: recording snapshot %d: %w", snap.Sequence, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples
		(tick_id, pid, parent_pid, kind, name, cpu_percent, memory_bytes, private_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer stmt.Close()

	var insertErr error
	walkErr := monitor.Walk(snap.Roots, func(rec *monitor.ProcessRecord, _ int) {
		if insertErr != nil {
			return
		}
		var parent sql.NullInt64
		if rec.ParentPID != nil {
			parent = sql.NullInt64{Int64: int64(*rec.ParentPID), Valid: true}
		}
		_, insertErr = stmt.ExecContext(ctx, snap.TickID, rec.PID, parent, string(rec.Kind),
			rec.DisplayName, rec.CPUPercent, int64(rec.MemoryBytes), int64(rec.PrivateBytes))
	})
	if err = errors.Join(insertErr, walkErr); err != nil {
		return fmt.Errorf("history: recording samples: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return nil
}

// Samples returns the most recent samples of pid, newest first.
func (h *History) Samples(ctx context.Context, pid, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT s.tick_id, n.taken_at, s.pid, s.parent_pid, s.kind, s.name,
		       s.cpu_percent, s.memory_bytes, s.private_bytes
		FROM samples s JOIN snapshots n ON n.tick_id = s.tick_id
		WHERE s.pid = ?
		ORDER BY n.sequence DESC
		LIMIT ?`, pid, limit)
	if err != nil {
		return nil, fmt.Errorf("querying samples of pid %d: %w", pid, err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			s       Sample
			takenAt int64
			parent  sql.NullInt64
			kind    string
			mem     int64
			private int64
		)
		if err := rows.Scan(&s.TickID, &takenAt, &s.PID, &parent, &kind, &s.Name,
			&s.CPUPercent, &mem, &private); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		s.TakenAt = time.UnixMilli(takenAt)
		s.Kind = monitor.ProcessKind(kind)
		s.MemoryBytes = uint64(mem)
		s.PrivateBytes = uint64(private)
		if parent.Valid {
			p := int(parent.Int64)
			s.ParentPID = &p
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PeakCPU returns the highest recorded CPU percentage of pid and whether
// any sample exists.
func (h *History) PeakCPU(ctx context.Context, pid int) (float64, bool, error) {
	var peak sql.NullFloat64
	err := h.db.QueryRowContext(ctx, `SELECT max(cpu_percent) FROM samples WHERE pid = ?`, pid).Scan(&peak)
	if err != nil {
		return 0, false, fmt.Errorf("querying peak cpu of pid %d: %w", pid, err)
	}
	return peak.Float64, peak.Valid, nil
}

// SnapshotCount returns the number of recorded snapshots.
func (h *History) SnapshotCount(ctx context.Context) (int, error) {
	var n int
	if err := h.db.QueryRowContext(ctx, `SELECT count(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return n, nil
}

// Prune deletes snapshots taken before cutoff and returns how many were
// removed. Their samples go with them.
func (h *History) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM snapshots WHERE taken_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return res.RowsAffected()
}
