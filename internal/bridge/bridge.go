// Package bridge adapts internal domain events into the canonical envelope
// and feeds them to the dispatcher. It is the only entry point for
// in-process producers; everything else arrives via inbound webhooks.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
)

// Dispatcher is the routing core's single dispatch entry point.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt *v1.Event) error
}

// DomainEvent is the narrow shape producers hand to the bridge. Payload may
// be any JSON-serializable value; it is carried through untouched.
type DomainEvent struct {
	Source     string
	Type       string
	OccurredAt time.Time
	Properties map[string]string
	Payload    interface{}
}

// Bridge converts domain events into canonical envelopes.
type Bridge struct {
	dispatcher Dispatcher
}

// New creates a bridge in front of the dispatcher.
func New(dispatcher Dispatcher) *Bridge {
	if dispatcher == nil {
		panic("bridge: dispatcher must not be nil")
	}
	return &Bridge{dispatcher: dispatcher}
}

// Publish converts and dispatches one domain event. A zero OccurredAt is
// stamped at publish time.
func (b *Bridge) Publish(ctx context.Context, de DomainEvent) error {
	var payload json.RawMessage
	if de.Payload != nil {
		raw, err := json.Marshal(de.Payload)
		if err != nil {
			return fmt.Errorf("bridge: serializing payload for %s/%s: %w", de.Source, de.Type, err)
		}
		payload = raw
	}

	ts := de.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	evt := &v1.Event{
		Source:     de.Source,
		Type:       de.Type,
		Timestamp:  ts,
		Properties: de.Properties,
		Payload:    payload,
	}

	return b.dispatcher.Dispatch(ctx, evt)
}
