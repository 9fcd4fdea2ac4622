package storage

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/internal/models"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// PostgresStore implements Store on PostgreSQL, the production backend
type PostgresStore struct {
	db         *sql.DB
	config     *config.StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewPostgresStore creates a PostgreSQL store
func NewPostgresStore(cfg *config.StorageConfig) *PostgresStore {
	return &PostgresStore{
		config:     cfg,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// Connect opens the connection pool
func (p *PostgresStore) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")
	return nil
}

// Close closes the connection pool
func (p *PostgresStore) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgresStore) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return p.db.Ping()
}

// Migrate applies the schema
func (p *PostgresStore) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	for _, migration := range p.migrations {
		p.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := p.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				"Migration "+migration.Version+" failed", err.Error())
		}
	}
	return nil
}

// BeginTx opens a batch transaction
func (p *PostgresStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	return tx, nil
}

// InsertOffer inserts an offer row, ignoring duplicates on offer_id
func (p *PostgresStore) InsertOffer(ctx context.Context, tx *sql.Tx, offer *models.Offer) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offers (
			offer_id, seller_address, initial_amount, price_per_unit,
			offer_token, buyer_token, transaction_hash, block_number, log_index,
			creation_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (offer_id) DO NOTHING`,
		offer.OfferID, offer.SellerAddress, offer.InitialAmount, offer.PricePerUnit,
		offer.OfferToken, offer.BuyerToken, offer.TransactionHash, offer.BlockNumber,
		offer.LogIndex, offer.CreationTimestamp)
	return err
}

// InsertOfferEvent inserts a lifecycle event row, ignoring duplicates on
// unique_id
func (p *PostgresStore) InsertOfferEvent(ctx context.Context, tx *sql.Tx, event *models.OfferEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offer_events (
			unique_id, offer_id, event_type, buyer_address, amount_bought,
			price_bought, new_amount, new_price, transaction_hash,
			block_number, log_index, event_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (unique_id) DO NOTHING`,
		event.UniqueID, event.OfferID, event.EventType,
		nullable(event.BuyerAddress), nullable(event.AmountBought), nullable(event.PriceBought),
		nullable(event.NewAmount), nullable(event.NewPrice),
		event.TransactionHash, event.BlockNumber, event.LogIndex, event.EventTimestamp)
	return err
}

// UpdateOfferStatus writes the derived status of an offer
func (p *PostgresStore) UpdateOfferStatus(ctx context.Context, tx *sql.Tx, offerID uint64, status models.OfferStatus) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE offers SET status = $1 WHERE offer_id = $2`, string(status), offerID)
	return err
}

// OfferHistory returns the offer row and its events ordered by
// (block_number, log_index). A missing offer yields (nil, nil, nil).
func (p *PostgresStore) OfferHistory(ctx context.Context, tx *sql.Tx, offerID uint64) (*models.Offer, []*models.OfferEvent, error) {
	offer := &models.Offer{}
	var status sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT offer_id, seller_address, initial_amount, price_per_unit,
		       offer_token, buyer_token, transaction_hash, block_number,
		       log_index, creation_timestamp, status
		FROM offers WHERE offer_id = $1`, offerID).Scan(
		&offer.OfferID, &offer.SellerAddress, &offer.InitialAmount, &offer.PricePerUnit,
		&offer.OfferToken, &offer.BuyerToken, &offer.TransactionHash, &offer.BlockNumber,
		&offer.LogIndex, &offer.CreationTimestamp, &status)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	offer.Status = models.OfferStatus(status.String)

	rows, err := tx.QueryContext(ctx, `
		SELECT unique_id, offer_id, event_type, buyer_address, amount_bought,
		       price_bought, new_amount, new_price, transaction_hash,
		       block_number, log_index, event_timestamp
		FROM offer_events WHERE offer_id = $1
		ORDER BY block_number ASC, log_index ASC`, offerID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var events []*models.OfferEvent
	for rows.Next() {
		event := &models.OfferEvent{}
		var buyer, amountBought, priceBought, newAmount, newPrice sql.NullString
		if err := rows.Scan(
			&event.UniqueID, &event.OfferID, &event.EventType,
			&buyer, &amountBought, &priceBought, &newAmount, &newPrice,
			&event.TransactionHash, &event.BlockNumber, &event.LogIndex,
			&event.EventTimestamp); err != nil {
			return nil, nil, err
		}
		event.BuyerAddress = buyer.String
		event.AmountBought = amountBought.String
		event.PriceBought = priceBought.String
		event.NewAmount = newAmount.String
		event.NewPrice = newPrice.String
		events = append(events, event)
	}
	return offer, events, rows.Err()
}

// MergeIndexedRange merges the range into the watermark: the latest row is
// extended in place when the new range continues it, a disjoint higher range
// inserts a new row, anything else is a no-op. Rows are never deleted.
func (p *PostgresStore) MergeIndexedRange(ctx context.Context, tx *sql.Tx, r models.BlockRange) error {
	var (
		indexingID       int64
		lastFrom, lastTo uint64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT indexing_id, from_block, to_block
		FROM indexing_state ORDER BY indexing_id DESC LIMIT 1`).Scan(&indexingID, &lastFrom, &lastTo)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO indexing_state (from_block, to_block) VALUES ($1, $2)`, r.From, r.To)
		return err
	case err != nil:
		return err
	}

	if lastFrom <= r.From && r.From <= lastTo+1 && r.To > lastTo {
		_, err = tx.ExecContext(ctx,
			`UPDATE indexing_state SET to_block = $1 WHERE indexing_id = $2`, r.To, indexingID)
		return err
	}

	if r.To > lastTo {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO indexing_state (from_block, to_block) VALUES ($1, $2)`, r.From, r.To)
		return err
	}

	return nil
}

// LastIndexedBlock returns the to_block of the latest watermark row
func (p *PostgresStore) LastIndexedBlock(ctx context.Context) (uint64, bool, error) {
	var toBlock uint64
	err := p.db.QueryRowContext(ctx,
		`SELECT to_block FROM indexing_state ORDER BY indexing_id DESC LIMIT 1`).Scan(&toBlock)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return toBlock, true, nil
}

// HasIndexingState reports whether any watermark row exists
func (p *PostgresStore) HasIndexingState(ctx context.Context) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM indexing_state LIMIT 1`).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// OfferIntegrity returns max(offer_id) and the offers row count
func (p *PostgresStore) OfferIntegrity(ctx context.Context) (int64, int64, error) {
	var maxID sql.NullInt64
	var count int64
	err := p.db.QueryRowContext(ctx,
		`SELECT MAX(offer_id), COUNT(*) FROM offers`).Scan(&maxID, &count)
	if err != nil {
		return 0, 0, err
	}
	if !maxID.Valid {
		return -1, count, nil
	}
	return maxID.Int64, count, nil
}

// EnqueueAcceptedEvent appends one exported payload to the event_queue table
func (p *PostgresStore) EnqueueAcceptedEvent(ctx context.Context, payload []byte) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO event_queue (payload) VALUES ($1)`, payload)
	return err
}

// nullable maps an empty string to SQL NULL
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
