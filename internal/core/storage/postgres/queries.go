package postgres

// SQL queries for contract storage.

const (
	// querySaveContract inserts a contract. ON CONFLICT DO NOTHING makes a
	// duplicate id observable as zero affected rows.
	querySaveContract = `
		INSERT INTO contracts (
			id, source_criterion, type_criterion, properties,
			target_handler, target_url, target_secret,
			active, created_at, origin
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	// queryUpsertContract replaces a contract by id. Used for config-origin
	// contracts, which are re-applied from their YAML files on every boot.
	queryUpsertContract = `
		INSERT INTO contracts (
			id, source_criterion, type_criterion, properties,
			target_handler, target_url, target_secret,
			active, created_at, origin
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			source_criterion = EXCLUDED.source_criterion,
			type_criterion   = EXCLUDED.type_criterion,
			properties       = EXCLUDED.properties,
			target_handler   = EXCLUDED.target_handler,
			target_url       = EXCLUDED.target_url,
			target_secret    = EXCLUDED.target_secret,
			active           = EXCLUDED.active,
			origin           = EXCLUDED.origin
	`

	queryDeactivateContract = `
		UPDATE contracts SET active = false WHERE id = $1
	`

	queryListContracts = `
		SELECT
			id, source_criterion, type_criterion, properties,
			target_handler, target_url, target_secret,
			active, created_at, origin
		FROM contracts
		ORDER BY created_at ASC, id ASC
	`
)
