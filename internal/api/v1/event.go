package v1

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the canonical envelope routed through the system.
// It separates routing attributes (matched against contracts) from the
// payload (carried through untouched).
type Event struct {
	// Source identifies the origin of the event.
	// Examples: "billing", "github", "agent:worker-3"
	Source string `json:"source"`

	// Type is the dot-segmented event name (e.g. "order.created",
	// "agent.tool.completed"). Contracts match on it literally or with
	// single-segment wildcards.
	Type string `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Properties is a flat map of routing attributes. Only this map (plus
	// Source and Type) participates in contract matching; values are carried
	// in their canonical string form.
	Properties map[string]string `json:"properties,omitempty"`

	// Payload is the opaque domain data. The router never inspects it.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate ensures the envelope carries the attributes routing depends on.
func (e *Event) Validate() error {
	if e.Source == "" {
		return fmt.Errorf("source is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Property returns the named routing property and whether it is present.
func (e *Event) Property(name string) (string, bool) {
	if e.Properties == nil {
		return "", false
	}
	v, ok := e.Properties[name]
	return v, ok
}
