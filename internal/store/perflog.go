package store

import (
	"context"
	"fmt"
	"time"
)

// PerfLogCap is the number of most recent perf_log rows kept by TrimPerfLog.
const PerfLogCap = 1000

// PerfRow is one timing sample.
type PerfRow struct {
	ID         int64
	Kind       string
	Duration   time.Duration
	RecordedAt time.Time
}

// AppendPerf inserts rows in a single transaction.
func (s *Store) AppendPerf(ctx context.Context, rows ...PerfRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append perf: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO perf_log (kind, duration_ns, recorded_at) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("append perf: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Kind, int64(r.Duration), r.RecordedAt.UnixNano()); err != nil {
			return fmt.Errorf("append perf %s: %w", r.Kind, err)
		}
	}
	return tx.Commit()
}

// TrimPerfLog deletes all but the limit most recent rows (by id) and
// returns the number deleted.
func (s *Store) TrimPerfLog(ctx context.Context, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM perf_log
		WHERE id <= (
			SELECT id FROM perf_log ORDER BY id DESC LIMIT 1 OFFSET ?
		)
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("trim perf log: %w", err)
	}
	return res.RowsAffected()
}

// PerfLogLen returns the number of perf_log rows.
func (s *Store) PerfLogLen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM perf_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count perf log: %w", err)
	}
	return n, nil
}

// RecentPerf returns up to limit rows, newest first.
func (s *Store) RecentPerf(ctx context.Context, limit int) ([]PerfRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, duration_ns, recorded_at
		FROM perf_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query perf log: %w", err)
	}
	defer rows.Close()

	var out []PerfRow
	for rows.Next() {
		var (
			r          PerfRow
			durationNS int64
			recordedAt int64
		)
		if err := rows.Scan(&r.ID, &r.Kind, &durationNS, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan perf row: %w", err)
		}
		r.Duration = time.Duration(durationNS)
		r.RecordedAt = time.Unix(0, recordedAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
