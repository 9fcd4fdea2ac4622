package storage

// Migration is one idempotent schema statement set
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetPostgresMigrations returns the PostgreSQL schema
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "offers table",
			SQL: `
				CREATE TABLE IF NOT EXISTS offers (
					offer_id BIGINT PRIMARY KEY,
					seller_address TEXT NOT NULL,
					initial_amount TEXT NOT NULL,
					price_per_unit TEXT NOT NULL,
					offer_token TEXT NOT NULL,
					buyer_token TEXT NOT NULL,
					transaction_hash TEXT NOT NULL,
					block_number BIGINT NOT NULL,
					log_index BIGINT NOT NULL,
					creation_timestamp TIMESTAMPTZ NOT NULL,
					status TEXT
				);
			`,
		},
		{
			Version:     "002",
			Description: "offer_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS offer_events (
					unique_id TEXT PRIMARY KEY,
					offer_id BIGINT NOT NULL REFERENCES offers(offer_id),
					event_type TEXT NOT NULL,
					buyer_address TEXT,
					amount_bought TEXT,
					price_bought TEXT,
					new_amount TEXT,
					new_price TEXT,
					transaction_hash TEXT NOT NULL,
					block_number BIGINT NOT NULL,
					log_index BIGINT NOT NULL,
					event_timestamp TIMESTAMPTZ NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_offer_events_offer_id ON offer_events(offer_id);
			`,
		},
		{
			Version:     "003",
			Description: "indexing_state watermark table",
			SQL: `
				CREATE TABLE IF NOT EXISTS indexing_state (
					indexing_id BIGSERIAL PRIMARY KEY,
					from_block BIGINT NOT NULL,
					to_block BIGINT NOT NULL
				);
			`,
		},
		{
			Version:     "004",
			Description: "event_queue export table",
			SQL: `
				CREATE TABLE IF NOT EXISTS event_queue (
					queue_id BIGSERIAL PRIMARY KEY,
					payload JSONB NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now()
				);
			`,
		},
	}
}

// GetSQLiteMigrations returns the SQLite schema, used for development and
// tests
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "offers table",
			SQL: `
				CREATE TABLE IF NOT EXISTS offers (
					offer_id INTEGER PRIMARY KEY,
					seller_address TEXT NOT NULL,
					initial_amount TEXT NOT NULL,
					price_per_unit TEXT NOT NULL,
					offer_token TEXT NOT NULL,
					buyer_token TEXT NOT NULL,
					transaction_hash TEXT NOT NULL,
					block_number INTEGER NOT NULL,
					log_index INTEGER NOT NULL,
					creation_timestamp TIMESTAMP NOT NULL,
					status TEXT
				);
			`,
		},
		{
			Version:     "002",
			Description: "offer_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS offer_events (
					unique_id TEXT PRIMARY KEY,
					offer_id INTEGER NOT NULL REFERENCES offers(offer_id),
					event_type TEXT NOT NULL,
					buyer_address TEXT,
					amount_bought TEXT,
					price_bought TEXT,
					new_amount TEXT,
					new_price TEXT,
					transaction_hash TEXT NOT NULL,
					block_number INTEGER NOT NULL,
					log_index INTEGER NOT NULL,
					event_timestamp TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_offer_events_offer_id ON offer_events(offer_id);
			`,
		},
		{
			Version:     "003",
			Description: "indexing_state watermark table",
			SQL: `
				CREATE TABLE IF NOT EXISTS indexing_state (
					indexing_id INTEGER PRIMARY KEY AUTOINCREMENT,
					from_block INTEGER NOT NULL,
					to_block INTEGER NOT NULL
				);
			`,
		},
		{
			Version:     "004",
			Description: "event_queue export table",
			SQL: `
				CREATE TABLE IF NOT EXISTS event_queue (
					queue_id INTEGER PRIMARY KEY AUTOINCREMENT,
					payload TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}
