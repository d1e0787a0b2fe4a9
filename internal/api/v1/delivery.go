package v1

import (
	"encoding/json"
	"time"
)

// DeliveryStatus is the lifecycle state of one outbox row.
type DeliveryStatus string

const (
	// StatusPending rows are awaiting delivery (or a retry).
	StatusPending DeliveryStatus = "pending"
	// StatusDelivered is terminal: the target acknowledged with a 2xx.
	StatusDelivered DeliveryStatus = "delivered"
	// StatusRejected is terminal: the target answered 4xx; never retried.
	StatusRejected DeliveryStatus = "rejected"
	// StatusDeadLetter is terminal: retries exhausted; kept for operators.
	StatusDeadLetter DeliveryStatus = "dead_letter"
)

// IsTerminal reports whether the status is final. Terminal rows are never
// revisited by the delivery worker.
func (s DeliveryStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusRejected || s == StatusDeadLetter
}

// Delivery is one durable outbox row: a matched event bound for an external
// HTTP target. Created pending by the dispatcher, then owned exclusively by
// the delivery worker.
type Delivery struct {
	ID         string `json:"id"`
	ContractID string `json:"contract_id"`

	// EventJSON is the serialized canonical event; it is also the exact POST
	// body, so signatures computed over it are reproducible.
	EventJSON json.RawMessage `json:"event"`

	TargetURL string `json:"target_url"`

	// TargetSecret signs the delivery when non-empty. Write-only: redacted
	// from admin read responses.
	TargetSecret string `json:"-"`

	Status        DeliveryStatus `json:"status"`
	AttemptCount  int            `json:"attempt_count"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	LastError     string         `json:"last_error,omitempty"`
	LockedAt      *time.Time     `json:"locked_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
}
