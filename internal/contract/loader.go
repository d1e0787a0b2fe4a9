package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
	"gopkg.in/yaml.v3"
)

// rawContract is the on-disk YAML shape of a declarative contract.
// Active is a pointer so an omitted flag defaults to true.
type rawContract struct {
	ID              string                          `yaml:"id"`
	SourceCriterion *v1.PropertyCriterion           `yaml:"source_criterion"`
	TypeCriterion   *v1.PropertyCriterion           `yaml:"type_criterion"`
	Properties      map[string]v1.PropertyCriterion `yaml:"properties"`
	Target          v1.Target                       `yaml:"target"`
	Active          *bool                           `yaml:"active"`
}

// LoadDirectory reads declarative contracts from *.yaml files in dir.
// Each file holds exactly one contract. Contracts are validated eagerly;
// any malformed file fails the whole load. A missing directory is valid
// (zero declared contracts).
func LoadDirectory(dir string) ([]*v1.Contract, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("contract dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("contract path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading contract dir: %w", err)
	}

	seen := make(map[string]string) // id -> file, for duplicate detection
	var contracts []*v1.Contract

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading contract file %s: %w", path, err)
		}

		var raw rawContract
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing contract file %s: %w", path, err)
		}
		if raw.ID == "" {
			continue // skip empty / comment-only files
		}

		if prev, exists := seen[raw.ID]; exists {
			return nil, fmt.Errorf("contract %q in %s: duplicate id (already declared in %s)", raw.ID, path, prev)
		}
		seen[raw.ID] = path

		active := true
		if raw.Active != nil {
			active = *raw.Active
		}

		contract := &v1.Contract{
			ID:              raw.ID,
			SourceCriterion: raw.SourceCriterion,
			TypeCriterion:   raw.TypeCriterion,
			Properties:      raw.Properties,
			Target:          raw.Target,
			Active:          active,
			CreatedAt:       time.Now().UTC(),
			Origin:          v1.OriginConfig,
		}
		if err := contract.Validate(); err != nil {
			return nil, fmt.Errorf("contract %q in %s: %w", raw.ID, path, err)
		}

		contracts = append(contracts, contract)
	}

	return contracts, nil
}
