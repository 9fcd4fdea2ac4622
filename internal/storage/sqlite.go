package storage

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/internal/models"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// SQLiteStore implements Store on SQLite, used for development and tests
type SQLiteStore struct {
	db         *sql.DB
	config     *config.StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStore creates a SQLite store
func NewSQLiteStore(cfg *config.StorageConfig) *SQLiteStore {
	return &SQLiteStore{
		config:     cfg,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect opens the database file
func (s *SQLiteStore) Connect() error {
	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// SQLite serializes writers; a single connection avoids database-locked
	// errors under the batch transaction.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping SQLite database", err.Error())
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStore) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate applies the schema
func (s *SQLiteStore) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				"Migration "+migration.Version+" failed", err.Error())
		}
	}
	return nil
}

// BeginTx opens a batch transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	return tx, nil
}

// InsertOffer inserts an offer row, ignoring duplicates on offer_id
func (s *SQLiteStore) InsertOffer(ctx context.Context, tx *sql.Tx, offer *models.Offer) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offers (
			offer_id, seller_address, initial_amount, price_per_unit,
			offer_token, buyer_token, transaction_hash, block_number, log_index,
			creation_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (offer_id) DO NOTHING`,
		offer.OfferID, offer.SellerAddress, offer.InitialAmount, offer.PricePerUnit,
		offer.OfferToken, offer.BuyerToken, offer.TransactionHash, offer.BlockNumber,
		offer.LogIndex, offer.CreationTimestamp)
	return err
}

// InsertOfferEvent inserts a lifecycle event row, ignoring duplicates on
// unique_id
func (s *SQLiteStore) InsertOfferEvent(ctx context.Context, tx *sql.Tx, event *models.OfferEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offer_events (
			unique_id, offer_id, event_type, buyer_address, amount_bought,
			price_bought, new_amount, new_price, transaction_hash,
			block_number, log_index, event_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (unique_id) DO NOTHING`,
		event.UniqueID, event.OfferID, event.EventType,
		nullable(event.BuyerAddress), nullable(event.AmountBought), nullable(event.PriceBought),
		nullable(event.NewAmount), nullable(event.NewPrice),
		event.TransactionHash, event.BlockNumber, event.LogIndex, event.EventTimestamp)
	return err
}

// UpdateOfferStatus writes the derived status of an offer
func (s *SQLiteStore) UpdateOfferStatus(ctx context.Context, tx *sql.Tx, offerID uint64, status models.OfferStatus) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE offers SET status = ? WHERE offer_id = ?`, string(status), offerID)
	return err
}

// OfferHistory returns the offer row and its events ordered by
// (block_number, log_index). A missing offer yields (nil, nil, nil).
func (s *SQLiteStore) OfferHistory(ctx context.Context, tx *sql.Tx, offerID uint64) (*models.Offer, []*models.OfferEvent, error) {
	offer := &models.Offer{}
	var status sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT offer_id, seller_address, initial_amount, price_per_unit,
		       offer_token, buyer_token, transaction_hash, block_number,
		       log_index, creation_timestamp, status
		FROM offers WHERE offer_id = ?`, offerID).Scan(
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
		FROM offer_events WHERE offer_id = ?
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

// MergeIndexedRange merges the range into the watermark. Same rules as the
// PostgreSQL backend: extend the latest row when contiguous, insert a new
// row for a disjoint higher range, otherwise no-op.
func (s *SQLiteStore) MergeIndexedRange(ctx context.Context, tx *sql.Tx, r models.BlockRange) error {
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
			`INSERT INTO indexing_state (from_block, to_block) VALUES (?, ?)`, r.From, r.To)
		return err
	case err != nil:
		return err
	}

	if lastFrom <= r.From && r.From <= lastTo+1 && r.To > lastTo {
		_, err = tx.ExecContext(ctx,
			`UPDATE indexing_state SET to_block = ? WHERE indexing_id = ?`, r.To, indexingID)
		return err
	}

	if r.To > lastTo {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO indexing_state (from_block, to_block) VALUES (?, ?)`, r.From, r.To)
		return err
	}

	return nil
}

// LastIndexedBlock returns the to_block of the latest watermark row
func (s *SQLiteStore) LastIndexedBlock(ctx context.Context) (uint64, bool, error) {
	var toBlock uint64
	err := s.db.QueryRowContext(ctx,
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
func (s *SQLiteStore) HasIndexingState(ctx context.Context) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM indexing_state LIMIT 1`).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// OfferIntegrity returns max(offer_id) and the offers row count
func (s *SQLiteStore) OfferIntegrity(ctx context.Context) (int64, int64, error) {
	var maxID sql.NullInt64
	var count int64
	err := s.db.QueryRowContext(ctx,
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
func (s *SQLiteStore) EnqueueAcceptedEvent(ctx context.Context, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_queue (payload) VALUES (?)`, string(payload))
	return err
}
