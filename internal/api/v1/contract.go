package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Origin records who created a contract.
type Origin string

const (
	// OriginConfig marks contracts loaded from declarative YAML files.
	OriginConfig Origin = "config"
	// OriginAPI marks contracts created through the admin API at runtime.
	OriginAPI Origin = "api"
)

// ValidationError is returned when a contract or criterion is rejected at
// the boundary. Callers map it to a 400 response.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ScalarList holds the `match` side of a criterion. It accepts a single
// scalar or a list of scalars on the wire and canonicalizes every value to
// its string form.
type ScalarList []string

func (s *ScalarList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}

	switch val := v.(type) {
	case []interface{}:
		out := make(ScalarList, 0, len(val))
		for _, item := range val {
			str, err := scalarString(item)
			if err != nil {
				return err
			}
			out = append(out, str)
		}
		*s = out
		return nil
	default:
		str, err := scalarString(val)
		if err != nil {
			return err
		}
		*s = ScalarList{str}
		return nil
	}
}

func (s *ScalarList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		out := make(ScalarList, 0, len(node.Content))
		for _, item := range node.Content {
			out = append(out, item.Value)
		}
		*s = out
		return nil
	case yaml.ScalarNode:
		*s = ScalarList{node.Value}
		return nil
	default:
		return fmt.Errorf("match must be a scalar or a list of scalars")
	}
}

func scalarString(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("match values must be scalars, got %T", v)
	}
}

// Contains reports set membership.
func (s ScalarList) Contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

// PropertyCriterion describes how one event property is evaluated.
//
// Exactly one of Match / Pattern may be set. When neither is set the
// criterion is a presence check. Required defaults to true when omitted.
type PropertyCriterion struct {
	Match    ScalarList `json:"match,omitempty" yaml:"match,omitempty"`
	Pattern  string     `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Required *bool      `json:"required,omitempty" yaml:"required,omitempty"`
}

// IsRequired resolves the default: an omitted required flag means required.
func (c PropertyCriterion) IsRequired() bool {
	return c.Required == nil || *c.Required
}

// Validate rejects criteria that set both match and pattern. Picking one
// silently would hide a misconfigured subscription, so it is an error.
func (c PropertyCriterion) Validate() error {
	if len(c.Match) > 0 && c.Pattern != "" {
		return &ValidationError{
			Field:  "criterion",
			Reason: "match and pattern are mutually exclusive",
		}
	}
	return nil
}

// Target is where a matched event is delivered: either an in-process handler
// key or an external HTTP endpoint. Exactly one of Handler / URL must be set.
type Target struct {
	Handler string `json:"handler,omitempty" yaml:"handler,omitempty"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`

	// Secret signs outbound deliveries when URL is set. It is write-only on
	// the admin API: persisted and used by the delivery worker, never echoed
	// back in read responses.
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// Validate enforces the exactly-one invariant.
func (t Target) Validate() error {
	if t.Handler == "" && t.URL == "" {
		return &ValidationError{Field: "target", Reason: "one of handler or url is required"}
	}
	if t.Handler != "" && t.URL != "" {
		return &ValidationError{Field: "target", Reason: "handler and url are mutually exclusive"}
	}
	return nil
}

// IsHTTP reports whether the target is an external HTTP endpoint.
func (t Target) IsHTTP() bool {
	return t.URL != ""
}

// Contract is a declarative subscription: predicates over the event envelope
// plus a delivery target. A contract with no criteria at all matches every
// event; that is an intentional match-all subscription.
type Contract struct {
	ID              string                       `json:"id" yaml:"id"`
	SourceCriterion *PropertyCriterion           `json:"source_criterion,omitempty" yaml:"source_criterion,omitempty"`
	TypeCriterion   *PropertyCriterion           `json:"type_criterion,omitempty" yaml:"type_criterion,omitempty"`
	Properties      map[string]PropertyCriterion `json:"properties,omitempty" yaml:"properties,omitempty"`
	Target          Target                       `json:"target" yaml:"target"`
	Active          bool                         `json:"active" yaml:"active"`
	CreatedAt       time.Time                    `json:"created_at" yaml:"created_at"`
	Origin          Origin                       `json:"origin" yaml:"origin"`
}

// Validate checks the target invariant and every criterion. A violation is a
// ValidationError; nothing is persisted for invalid contracts.
func (c *Contract) Validate() error {
	if c.ID == "" {
		return &ValidationError{Field: "id", Reason: "id is required"}
	}
	if err := c.Target.Validate(); err != nil {
		return err
	}
	if c.SourceCriterion != nil {
		if err := c.SourceCriterion.Validate(); err != nil {
			return err
		}
	}
	if c.TypeCriterion != nil {
		if err := c.TypeCriterion.Validate(); err != nil {
			return err
		}
	}
	for name, crit := range c.Properties {
		if name == "" {
			return &ValidationError{Field: "properties", Reason: "property name must not be empty"}
		}
		if err := crit.Validate(); err != nil {
			return err
		}
	}
	return nil
}
