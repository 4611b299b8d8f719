package sqlite

import (
	"context"
	"strings"
	"time"

	warden "github.com/eugener/warden/internal"
)

// InsertStreamRecords batch-inserts stream audit records.
func (s *Store) InsertStreamRecords(ctx context.Context, records []warden.StreamRecord) error {
	if len(records) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 11
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.RequestID, r.Model, r.Provider,
			r.EventsSent, r.BytesSent,
			boolToInt(r.HeadersSent), boolToInt(r.Completed),
			r.TerminationReason, r.DurationMs,
			r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO stream_records
		(id, request_id, model, provider, events_sent, bytes_sent,
		 headers_sent, completed, termination_reason, duration_ms, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryStreamRecords returns stream records matching the filter, newest first.
func (s *Store) QueryStreamRecords(ctx context.Context, f warden.StreamFilter) ([]warden.StreamRecord, error) {
	where, args := streamWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, request_id, model, provider, events_sent, bytes_sent,
		headers_sent, completed, termination_reason, duration_ms, created_at
		FROM stream_records` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []warden.StreamRecord
	for rows.Next() {
		var r warden.StreamRecord
		var headersSent, completed int
		var createdAt string
		if err := rows.Scan(
			&r.ID, &r.RequestID, &r.Model, &r.Provider,
			&r.EventsSent, &r.BytesSent,
			&headersSent, &completed,
			&r.TerminationReason, &r.DurationMs, &createdAt,
		); err != nil {
			return nil, err
		}
		r.HeadersSent = headersSent != 0
		r.Completed = completed != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountStreamRecords returns the number of records matching the filter.
func (s *Store) CountStreamRecords(ctx context.Context, f warden.StreamFilter) (int, error) {
	where, args := streamWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM stream_records`+where, args...).Scan(&n)
	return n, err
}

func streamWhere(f warden.StreamFilter) (string, []any) {
	var conds []string
	var args []any
	if f.RequestID != "" {
		conds = append(conds, "request_id = ?")
		args = append(args, f.RequestID)
	}
	if f.Reason != "" {
		conds = append(conds, "termination_reason = ?")
		args = append(args, f.Reason)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
