package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
	"github.com/hookline-lab/project-hookline/internal/core/storage"
)

const (
	queryEnqueueDelivery = `
		INSERT INTO outbox (
			id, contract_id, event, target_url, target_secret,
			status, attempt_count, next_attempt_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	// queryClaimDueDeliveries atomically claims a batch of due pending rows.
	// A row counts as claimable when it is unlocked or its lock has expired
	// ($2 = now - lock timeout). FOR UPDATE SKIP LOCKED keeps concurrent
	// claimers from blocking on each other's rows.
	queryClaimDueDeliveries = `
		UPDATE outbox SET locked_at = $1
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status = 'pending'
			  AND next_attempt_at <= $1
			  AND (locked_at IS NULL OR locked_at < $2)
			ORDER BY next_attempt_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING
			id, contract_id, event, target_url, target_secret,
			status, attempt_count, next_attempt_at, last_error,
			locked_at, created_at, delivered_at
	`

	// Terminal transitions guard on status = 'pending' so a terminal row can
	// never be revisited, whatever the caller does.
	queryMarkDelivered = `
		UPDATE outbox
		SET status = 'delivered', attempt_count = $2, delivered_at = $3, locked_at = NULL
		WHERE id = $1 AND status = 'pending'
	`

	queryMarkRejected = `
		UPDATE outbox
		SET status = 'rejected', attempt_count = $2, last_error = $3, locked_at = NULL
		WHERE id = $1 AND status = 'pending'
	`

	queryMarkRetry = `
		UPDATE outbox
		SET attempt_count = $2, next_attempt_at = $3, last_error = $4, locked_at = NULL
		WHERE id = $1 AND status = 'pending'
	`

	queryMarkDeadLetter = `
		UPDATE outbox
		SET status = 'dead_letter', attempt_count = $2, last_error = $3, locked_at = NULL
		WHERE id = $1 AND status = 'pending'
	`

	queryGetDelivery = `
		SELECT
			id, contract_id, event, target_url, target_secret,
			status, attempt_count, next_attempt_at, last_error,
			locked_at, created_at, delivered_at
		FROM outbox
		WHERE id = $1
	`
)

// OutboxAdapter implements storage.OutboxStore for PostgreSQL.
// It shares the contract adapter's connection pool.
type OutboxAdapter struct {
	db *sql.DB
}

// NewOutboxAdapter creates an outbox adapter on an existing connection.
func NewOutboxAdapter(db *sql.DB) *OutboxAdapter {
	return &OutboxAdapter{db: db}
}

// EnqueueDelivery inserts a new pending outbox row.
func (a *OutboxAdapter) EnqueueDelivery(ctx context.Context, d *v1.Delivery) error {
	_, err := a.db.ExecContext(ctx, queryEnqueueDelivery,
		d.ID,
		d.ContractID,
		d.EventJSON,
		d.TargetURL,
		d.TargetSecret,
		string(d.Status),
		d.AttemptCount,
		d.NextAttemptAt,
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}

	slog.Debug("[Postgres] Enqueued delivery",
		"delivery_id", d.ID,
		"contract_id", d.ContractID)
	return nil
}

// ClaimDueDeliveries claims up to limit due pending rows by setting
// locked_at = now in a single conditional update.
func (a *OutboxAdapter) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lockTimeout time.Duration) ([]*v1.Delivery, error) {
	rows, err := a.db.QueryContext(ctx, queryClaimDueDeliveries,
		now,
		now.Add(-lockTimeout),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*v1.Delivery
	for rows.Next() {
		d, err := scanDeliveryRow(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed deliveries: %w", err)
	}

	return deliveries, nil
}

// MarkDelivered records a successful 2xx delivery. Terminal.
func (a *OutboxAdapter) MarkDelivered(ctx context.Context, id string, attemptCount int, deliveredAt time.Time) error {
	return a.transition(ctx, "delivered", queryMarkDelivered, id, attemptCount, deliveredAt)
}

// MarkRejected records a permanent 4xx failure. Terminal, never retried.
func (a *OutboxAdapter) MarkRejected(ctx context.Context, id string, attemptCount int, lastError string) error {
	return a.transition(ctx, "rejected", queryMarkRejected, id, attemptCount, lastError)
}

// MarkRetry keeps the row pending for another attempt and releases the lock.
func (a *OutboxAdapter) MarkRetry(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	return a.transition(ctx, "retry", queryMarkRetry, id, attemptCount, nextAttemptAt, lastError)
}

// MarkDeadLetter parks the row after the attempt ceiling. Terminal.
func (a *OutboxAdapter) MarkDeadLetter(ctx context.Context, id string, attemptCount int, lastError string) error {
	return a.transition(ctx, "dead_letter", queryMarkDeadLetter, id, attemptCount, lastError)
}

func (a *OutboxAdapter) transition(ctx context.Context, name, query string, args ...interface{}) error {
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark delivery %s: %w", name, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read %s result: %w", name, err)
	}
	if affected == 0 {
		// Row vanished or already terminal; either way nothing to do.
		return storage.ErrNotFound
	}
	return nil
}

// GetDelivery fetches one outbox row by id.
func (a *OutboxAdapter) GetDelivery(ctx context.Context, id string) (*v1.Delivery, error) {
	d, err := scanDeliveryRow(a.db.QueryRowContext(ctx, queryGetDelivery, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// scanDeliveryRow scans a database row into a Delivery.
func scanDeliveryRow(row scanner) (*v1.Delivery, error) {
	var d v1.Delivery
	var status string
	var lastError sql.NullString
	var lockedAt, deliveredAt sql.NullTime

	err := row.Scan(
		&d.ID,
		&d.ContractID,
		&d.EventJSON,
		&d.TargetURL,
		&d.TargetSecret,
		&status,
		&d.AttemptCount,
		&d.NextAttemptAt,
		&lastError,
		&lockedAt,
		&d.CreatedAt,
		&deliveredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan delivery row: %w", err)
	}

	d.Status = v1.DeliveryStatus(status)
	if lastError.Valid {
		d.LastError = lastError.String
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		d.LockedAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		d.DeliveredAt = &t
	}

	return &d, nil
}
