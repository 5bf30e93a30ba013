package sqlstore

// schema is valid for both sqlite and PostgreSQL. Dates are bound as UTC
// midnight timestamps so equality and range comparisons agree in both.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS inventories (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		date DATE NOT NULL,
		received BIGINT NOT NULL DEFAULT 0,
		sold BIGINT NOT NULL DEFAULT 0,
		waste BIGINT NOT NULL DEFAULT 0,
		remaining BIGINT NOT NULL DEFAULT 0,
		bucket_fresh_end BIGINT NOT NULL DEFAULT 0,
		bucket_aged_end BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		CONSTRAINT uix_inventory_store_item_date UNIQUE (store_id, item_id, date),
		CONSTRAINT chk_received_nonneg CHECK (received >= 0),
		CONSTRAINT chk_sold_nonneg CHECK (sold >= 0),
		CONSTRAINT chk_waste_nonneg CHECK (waste >= 0),
		CONSTRAINT chk_remaining_nonneg CHECK (remaining >= 0),
		CONSTRAINT chk_fresh_nonneg CHECK (bucket_fresh_end >= 0),
		CONSTRAINT chk_aged_nonneg CHECK (bucket_aged_end >= 0),
		CONSTRAINT chk_remaining_buckets CHECK (remaining = bucket_fresh_end + bucket_aged_end)
	)`,

	// Carryover lookups and store-wide day listings
	`CREATE INDEX IF NOT EXISTS idx_inventories_store_date
		ON inventories(store_id, date)`,
}
