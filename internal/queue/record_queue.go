package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/models"
)

// RecordQueue spools records whose upload failed so they are sent first next cycle
type RecordQueue struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewRecordQueue creates a new record queue
func NewRecordQueue(db *sql.DB, logger *zap.Logger) *RecordQueue {
	return &RecordQueue{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue adds records to the queue. Records already queued are kept as they are.
func (q *RecordQueue) Enqueue(ctx context.Context, email string, records []models.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO pending_records (record_id, record_data, user_email, created_at, retry_count)
		VALUES (?, ?, ?, ?, 0)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	created := q.now().UnixNano()
	for i, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			q.logger.Error("Failed to marshal record", zap.Error(err), zap.String("record_id", record.RecordID))
			continue
		}
		// offset keeps insertion order stable within one call
		if _, err := stmt.ExecContext(ctx, record.RecordID, string(data), email, created+int64(i)); err != nil {
			return fmt.Errorf("failed to enqueue record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	q.logger.Debug("Records spooled", zap.Int("count", len(records)))
	return nil
}

// Dequeue returns up to limit queued records in insertion order, with their queue ids.
// Records stay queued until Remove is called.
func (q *RecordQueue) Dequeue(ctx context.Context, email string, limit int) ([]models.NormalizedRecord, []int64, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, record_data
		FROM pending_records
		WHERE user_email = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, email, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer rows.Close()

	var (
		records []models.NormalizedRecord
		ids     []int64
		corrupt []int64
	)
	for rows.Next() {
		var id int64
		var data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, nil, fmt.Errorf("failed to scan pending record: %w", err)
		}

		var record models.NormalizedRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			q.logger.Error("Dropping corrupt spooled record", zap.Error(err), zap.Int64("id", id))
			corrupt = append(corrupt, id)
			continue
		}
		records = append(records, record)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read pending records: %w", err)
	}
	rows.Close()

	if err := q.Remove(ctx, corrupt); err != nil {
		return nil, nil, err
	}
	return records, ids, nil
}

// Remove deletes records from the queue by their queue ids
func (q *RecordQueue) Remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query, args := inClause("DELETE FROM pending_records WHERE id IN ", ids)
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to remove records: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	q.logger.Debug("Records removed from queue", zap.Int64("count", rowsAffected))
	return nil
}

// IncrementRetry records a failed resend attempt
func (q *RecordQueue) IncrementRetry(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query, args := inClause("UPDATE pending_records SET retry_count = retry_count + 1, last_attempt = ? WHERE id IN ", ids)
	args = append([]any{q.now().UnixNano()}, args...)
	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to increment retry: %w", err)
	}
	return nil
}

// PendingCount returns the number of queued records for a user
func (q *RecordQueue) PendingCount(ctx context.Context, email string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_records WHERE user_email = ?
	`, email).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return count, nil
}

// DropExhausted removes records that have been retried more than maxRetries times
func (q *RecordQueue) DropExhausted(ctx context.Context, maxRetries int) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM pending_records WHERE retry_count > ?
	`, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to drop exhausted records: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		q.logger.Warn("Dropped spooled records after too many retries",
			zap.Int64("count", rowsAffected),
			zap.Int("max_retries", maxRetries),
		)
	}
	return rowsAffected, nil
}

func inClause(prefix string, ids []int64) (string, []any) {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString("(")
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("?")
		args[i] = id
	}
	b.WriteString(")")
	return b.String(), args
}
