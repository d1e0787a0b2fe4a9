// Package dispatch routes canonical events to their matched targets:
// in-process handlers are invoked directly, HTTP targets become durable
// outbox rows for the delivery worker.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
	"github.com/hookline-lab/project-hookline/internal/contract"
	"github.com/hookline-lab/project-hookline/internal/core/storage"
	"github.com/hookline-lab/project-hookline/internal/handlers"
)

// Dispatcher is the single entry point for events. One synchronous match,
// then per-contract fan-out: handler invocations run on their own goroutines
// and never block sibling deliveries; outbox enqueues are the only work done
// on the caller's goroutine.
type Dispatcher struct {
	registry *contract.Registry
	handlers *handlers.Registry
	outbox   storage.OutboxStore

	wg sync.WaitGroup
}

// NewDispatcher wires the dispatcher to its collaborators.
func NewDispatcher(registry *contract.Registry, handlerReg *handlers.Registry, outbox storage.OutboxStore) *Dispatcher {
	if registry == nil {
		panic("dispatch: contract registry must not be nil")
	}
	if handlerReg == nil {
		panic("dispatch: handler registry must not be nil")
	}
	if outbox == nil {
		panic("dispatch: outbox store must not be nil")
	}
	return &Dispatcher{
		registry: registry,
		handlers: handlerReg,
		outbox:   outbox,
	}
}

// Dispatch fans one event out to every matched contract. A failure on one
// contract never aborts delivery to the others.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *v1.Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("dispatch rejected event: %w", err)
	}

	matched := d.registry.Match(evt)

	slog.Debug("[Dispatch] Matched contracts",
		"event_source", evt.Source,
		"event_type", evt.Type,
		"matches", len(matched))

	for _, c := range matched {
		switch {
		case c.Target.Handler != "":
			d.invokeHandler(ctx, c, evt)
		case c.Target.URL != "":
			d.enqueue(ctx, c, evt)
		default:
			// register validation prevents this; surface it rather than
			// silently dropping the event for this contract.
			slog.Warn("[Dispatch] Contract has no delivery target",
				"contract_id", c.ID,
				"event_source", evt.Source,
				"event_type", evt.Type)
		}
	}

	return nil
}

// Wait blocks until all in-flight handler invocations finish. Used during
// shutdown and by tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// invokeHandler runs the contract's in-process handler on its own goroutine.
// Panics and errors are contained and logged; a contract pointing at an
// unregistered key is a silent-data-loss bug class, so it is logged loudly.
func (d *Dispatcher) invokeHandler(ctx context.Context, c *v1.Contract, evt *v1.Event) {
	fn, ok := d.handlers.Lookup(c.Target.Handler)
	if !ok {
		slog.Warn("[Dispatch] No handler registered for contract target",
			"contract_id", c.ID,
			"handler_key", c.Target.Handler,
			"event_source", evt.Source,
			"event_type", evt.Type)
		return
	}

	// The handler outlives the caller: an inbound request context is cancelled
	// as soon as the 202 is written, so the goroutine must not inherit that
	// cancellation. Values (trace ids) carry over; the deadline does not.
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("[Dispatch] Handler panicked",
					"contract_id", c.ID,
					"handler_key", c.Target.Handler,
					"panic", rec,
					"stack", string(debug.Stack()))
			}
		}()

		if err := fn(ctx, evt); err != nil {
			slog.Error("[Dispatch] Handler failed",
				"contract_id", c.ID,
				"handler_key", c.Target.Handler,
				"event_source", evt.Source,
				"event_type", evt.Type,
				"error", err)
		}
	}()
}

// enqueue writes a pending outbox row for an HTTP target. Enqueue failures
// are logged with the contract id and event identity; fan-out continues.
func (d *Dispatcher) enqueue(ctx context.Context, c *v1.Contract, evt *v1.Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		slog.Error("[Dispatch] Failed to serialize event for outbox",
			"contract_id", c.ID,
			"event_source", evt.Source,
			"event_type", evt.Type,
			"error", err)
		return
	}

	now := time.Now().UTC()
	row := &v1.Delivery{
		ID:            uuid.NewString(),
		ContractID:    c.ID,
		EventJSON:     body,
		TargetURL:     c.Target.URL,
		TargetSecret:  c.Target.Secret,
		Status:        v1.StatusPending,
		AttemptCount:  0,
		NextAttemptAt: now,
		CreatedAt:     now,
	}

	if err := d.outbox.EnqueueDelivery(ctx, row); err != nil {
		slog.Error("[Dispatch] Failed to enqueue delivery",
			"contract_id", c.ID,
			"event_source", evt.Source,
			"event_type", evt.Type,
			"error", err)
		return
	}

	slog.Debug("[Dispatch] Delivery enqueued",
		"delivery_id", row.ID,
		"contract_id", c.ID)
}
