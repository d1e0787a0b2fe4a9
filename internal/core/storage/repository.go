package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
)

// ErrDuplicate is returned when a contract with the same id already exists.
var ErrDuplicate = errors.New("contract already exists")

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ContractStore is the durable side of the contract registry. The in-memory
// cache is rebuilt from it on every reload; writes always hit the store
// before the cache is touched.
type ContractStore interface {
	// SaveContract inserts a new contract. Returns ErrDuplicate if the id
	// is already taken.
	SaveContract(ctx context.Context, contract *v1.Contract) error

	// UpsertContract inserts or replaces a contract by id. Used by the
	// declarative loader, which re-applies config-origin contracts on boot.
	UpsertContract(ctx context.Context, contract *v1.Contract) error

	// DeactivateContract flips active to false. Returns ErrNotFound for an
	// unknown id.
	DeactivateContract(ctx context.Context, id string) error

	// ListContracts returns every contract, active or not, in creation order.
	ListContracts(ctx context.Context) ([]*v1.Contract, error)
}

// OutboxStore is the durable queue of pending external deliveries. Rows are
// created by the dispatcher and mutated only by the delivery worker.
type OutboxStore interface {
	// EnqueueDelivery inserts a new pending row.
	EnqueueDelivery(ctx context.Context, d *v1.Delivery) error

	// ClaimDueDeliveries atomically claims up to limit pending rows whose
	// next_attempt_at has passed, setting locked_at=now. Rows whose lock is
	// older than lockTimeout count as unlocked, so a crashed worker's claims
	// expire and are reclaimed.
	ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lockTimeout time.Duration) ([]*v1.Delivery, error)

	// MarkDelivered transitions a pending row to delivered. Terminal.
	MarkDelivered(ctx context.Context, id string, attemptCount int, deliveredAt time.Time) error

	// MarkRejected transitions a pending row to rejected (4xx). Terminal.
	MarkRejected(ctx context.Context, id string, attemptCount int, lastError string) error

	// MarkRetry keeps the row pending with an incremented attempt count and
	// a recomputed next_attempt_at, and releases the claim lock.
	MarkRetry(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time, lastError string) error

	// MarkDeadLetter transitions a pending row to dead_letter after the
	// attempt ceiling. Terminal; last error preserved for operators.
	MarkDeadLetter(ctx context.Context, id string, attemptCount int, lastError string) error

	// GetDelivery fetches one row by id. Returns ErrNotFound if missing.
	GetDelivery(ctx context.Context, id string) (*v1.Delivery, error)
}
