package postgres

import (
	"encoding/json"
	"fmt"

	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
)

// contractArgs flattens a contract into query arguments, marshalling the
// criteria to JSON. Nil criteria produce nil (SQL NULL) rather than the JSON
// "null" string.
func contractArgs(contract *v1.Contract) ([]interface{}, error) {
	var sourceJSON, typeJSON, propsJSON []byte
	var err error

	if contract.SourceCriterion != nil {
		sourceJSON, err = json.Marshal(contract.SourceCriterion)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal source criterion: %w", err)
		}
	}
	if contract.TypeCriterion != nil {
		typeJSON, err = json.Marshal(contract.TypeCriterion)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal type criterion: %w", err)
		}
	}
	if len(contract.Properties) > 0 {
		propsJSON, err = json.Marshal(contract.Properties)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal property criteria: %w", err)
		}
	}

	return []interface{}{
		contract.ID,
		sourceJSON,
		typeJSON,
		propsJSON,
		contract.Target.Handler,
		contract.Target.URL,
		contract.Target.Secret,
		contract.Active,
		contract.CreatedAt,
		string(contract.Origin),
	}, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanContractRow scans a database row into a Contract.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanContractRow(row scanner) (*v1.Contract, error) {
	var contract v1.Contract
	var sourceJSON, typeJSON, propsJSON []byte
	var origin string

	err := row.Scan(
		&contract.ID,
		&sourceJSON,
		&typeJSON,
		&propsJSON,
		&contract.Target.Handler,
		&contract.Target.URL,
		&contract.Target.Secret,
		&contract.Active,
		&contract.CreatedAt,
		&origin,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan contract row: %w", err)
	}

	if len(sourceJSON) > 0 {
		contract.SourceCriterion = &v1.PropertyCriterion{}
		if err := json.Unmarshal(sourceJSON, contract.SourceCriterion); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source criterion: %w", err)
		}
	}
	if len(typeJSON) > 0 {
		contract.TypeCriterion = &v1.PropertyCriterion{}
		if err := json.Unmarshal(typeJSON, contract.TypeCriterion); err != nil {
			return nil, fmt.Errorf("failed to unmarshal type criterion: %w", err)
		}
	}
	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &contract.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal property criteria: %w", err)
		}
	}

	contract.Origin = v1.Origin(origin)
	return &contract, nil
}
