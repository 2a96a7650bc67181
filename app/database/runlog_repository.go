package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ RunLogRepository = (*SQLRunLogRepository)(nil)

// SQLRunLogRepository handles the append-only run log
type SQLRunLogRepository struct {
	db *DB
}

func NewRunLogRepository(db *DB) *SQLRunLogRepository {
	return &SQLRunLogRepository{db: db}
}

const runLogColumns = `id, trigger_kind, started_at, duration_ms, published, skipped_cap, skipped_duplicate, errors, summary`

func (r *SQLRunLogRepository) Append(entry RunLogEntry) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO run_log (trigger_kind, started_at, duration_ms, published, skipped_cap, skipped_duplicate, errors, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Trigger, entry.StartedAt.UTC().Unix(), entry.Duration.Milliseconds(),
		entry.Published, entry.SkippedCap, entry.SkippedDuplicate, entry.Errors, entry.Summary)
	if err != nil {
		return 0, fmt.Errorf("failed to append run log entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run log id: %w", err)
	}
	return id, nil
}

func (r *SQLRunLogRepository) ListRecent(limit int) ([]RunLogEntry, error) {
	rows, err := r.db.Query(`
		SELECT `+runLogColumns+`
		FROM run_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list run log: %w", err)
	}
	defer rows.Close()

	var entries []RunLogEntry
	for rows.Next() {
		entry, err := scanRunLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run log rows: %w", err)
	}
	return entries, nil
}

func (r *SQLRunLogRepository) GetLastEntry() (*RunLogEntry, error) {
	row := r.db.QueryRow(`SELECT ` + runLogColumns + ` FROM run_log ORDER BY id DESC LIMIT 1`)
	entry, err := scanRunLogEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

func (r *SQLRunLogRepository) GetRunCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM run_log`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get run count: %w", err)
	}
	return count, nil
}

func scanRunLogEntry(s rowScanner) (*RunLogEntry, error) {
	var entry RunLogEntry
	var startedAt, durationMs int64

	err := s.Scan(&entry.ID, &entry.Trigger, &startedAt, &durationMs,
		&entry.Published, &entry.SkippedCap, &entry.SkippedDuplicate,
		&entry.Errors, &entry.Summary)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run log row: %w", err)
	}

	entry.StartedAt = time.Unix(startedAt, 0).UTC()
	entry.Duration = time.Duration(durationMs) * time.Millisecond
	return &entry, nil
}
