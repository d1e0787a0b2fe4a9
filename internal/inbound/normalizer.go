package inbound

import (
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
)

// CanonicalNormalizerKey names the built-in normalizer for sources that
// already POST the canonical envelope shape.
const CanonicalNormalizerKey = "canonical"

// CanonicalNormalizer parses the payload as a canonical event. A missing
// timestamp is stamped at receipt; source and type must be present.
func CanonicalNormalizer(body []byte) (*v1.Event, error) {
	var evt v1.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("invalid event JSON: %w", err)
	}

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return &evt, nil
}
