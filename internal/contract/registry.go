// Package contract owns the authoritative contract set: a durable store plus
// a read-optimized in-memory cache that is swapped wholesale, never mutated,
// so concurrent readers always see a complete contract set.
package contract

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
	"github.com/hookline-lab/project-hookline/internal/core/storage"
	"github.com/hookline-lab/project-hookline/internal/matching"
)

// snapshot is one immutable generation of the cache. Readers grab the
// pointer once and work on a consistent view for the whole call.
type snapshot struct {
	contracts []*v1.Contract // every contract, creation order
	active    []*v1.Contract // the subset matched on the hot path
}

var emptySnapshot = &snapshot{}

// Registry is the contract registry. All writes go through the durable store
// first; the cache is only rebuilt after a successful write, so a crash
// mid-registration never leaves a contract active in memory but absent on
// disk.
type Registry struct {
	store storage.ContractStore
	cache atomic.Pointer[snapshot]
}

// NewRegistry creates a registry with an empty cache. Call Reload before
// serving traffic.
func NewRegistry(store storage.ContractStore) *Registry {
	r := &Registry{store: store}
	r.cache.Store(emptySnapshot)
	return r
}

// Register validates and persists a new contract, then rebuilds the cache.
// A missing id is generated; a zero created_at is stamped now.
func (r *Registry) Register(ctx context.Context, contract *v1.Contract) error {
	if contract.ID == "" {
		contract.ID = uuid.NewString()
	}
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = time.Now().UTC()
	}
	if err := contract.Validate(); err != nil {
		return err
	}

	if err := r.store.SaveContract(ctx, contract); err != nil {
		return err
	}

	slog.Info("[Registry] Contract registered",
		"contract_id", contract.ID,
		"origin", contract.Origin,
		"target_handler", contract.Target.Handler,
		"target_url", contract.Target.URL != "")

	return r.Reload(ctx)
}

// Deactivate flips a contract inactive and rebuilds the cache.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	if err := r.store.DeactivateContract(ctx, id); err != nil {
		return err
	}

	slog.Info("[Registry] Contract deactivated", "contract_id", id)

	return r.Reload(ctx)
}

// ApplyDeclared upserts config-origin contracts (from declarative YAML
// files), then rebuilds the cache once.
func (r *Registry) ApplyDeclared(ctx context.Context, contracts []*v1.Contract) error {
	for _, c := range contracts {
		if err := r.store.UpsertContract(ctx, c); err != nil {
			return fmt.Errorf("applying declared contract %q: %w", c.ID, err)
		}
	}

	if len(contracts) > 0 {
		slog.Info("[Registry] Declared contracts applied", "count", len(contracts))
	}

	return r.Reload(ctx)
}

// Reload builds a new cache from the durable store and swaps it into place
// atomically. Concurrent Match calls see either the fully-old or fully-new
// generation, never a partial one.
func (r *Registry) Reload(ctx context.Context) error {
	contracts, err := r.store.ListContracts(ctx)
	if err != nil {
		return fmt.Errorf("registry reload: %w", err)
	}

	next := &snapshot{contracts: contracts}
	for _, c := range contracts {
		if c.Active {
			next.active = append(next.active, c)
		}
	}

	r.cache.Store(next)

	slog.Debug("[Registry] Cache reloaded",
		"contracts", len(next.contracts),
		"active", len(next.active))
	return nil
}

// Match returns every active contract whose criteria pass against the event.
// Linear scan over the active set; fine for contract counts in the low
// hundreds.
func (r *Registry) Match(evt *v1.Event) []*v1.Contract {
	snap := r.cache.Load()

	var matched []*v1.Contract
	for _, c := range snap.active {
		if matching.MatchEvent(evt, c) {
			matched = append(matched, c)
		}
	}
	return matched
}

// ListContracts returns contracts from the cache, optionally filtered by a
// declared property name and, if value is non-empty, by declared match value.
func (r *Registry) ListContracts(property, value string) []*v1.Contract {
	snap := r.cache.Load()

	if property == "" {
		return snap.contracts
	}

	var out []*v1.Contract
	for _, c := range snap.contracts {
		crit, ok := c.Properties[property]
		if !ok {
			continue
		}
		if value != "" && !crit.Match.Contains(value) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ListDeclaredProperties returns the vocabulary of declared property names
// across all contracts, each mapped to the sorted set of declared match
// values.
func (r *Registry) ListDeclaredProperties() map[string][]string {
	snap := r.cache.Load()

	sets := make(map[string]map[string]struct{})
	for _, c := range snap.contracts {
		for name, crit := range c.Properties {
			if _, ok := sets[name]; !ok {
				sets[name] = make(map[string]struct{})
			}
			for _, v := range crit.Match {
				sets[name][v] = struct{}{}
			}
		}
	}

	out := make(map[string][]string, len(sets))
	for name, values := range sets {
		list := make([]string, 0, len(values))
		for v := range values {
			list = append(list, v)
		}
		sort.Strings(list)
		out[name] = list
	}
	return out
}
