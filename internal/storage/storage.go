package storage

import (
	"context"
	"database/sql"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/internal/models"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// Store is the relational persistence boundary of the indexer. Row
// operations take an explicit transaction so the applier can commit one
// whole batch atomically; reads outside a batch open their own short-lived
// unit of work.
type Store interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// BeginTx opens the transaction an event batch is applied under
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Offer and event rows (idempotent inserts on their unique keys)
	InsertOffer(ctx context.Context, tx *sql.Tx, offer *models.Offer) error
	InsertOfferEvent(ctx context.Context, tx *sql.Tx, event *models.OfferEvent) error
	UpdateOfferStatus(ctx context.Context, tx *sql.Tx, offerID uint64, status models.OfferStatus) error
	OfferHistory(ctx context.Context, tx *sql.Tx, offerID uint64) (*models.Offer, []*models.OfferEvent, error)

	// Watermark (indexing_state)
	MergeIndexedRange(ctx context.Context, tx *sql.Tx, r models.BlockRange) error
	LastIndexedBlock(ctx context.Context) (uint64, bool, error)
	HasIndexingState(ctx context.Context) (bool, error)

	// OfferIntegrity returns max(offer_id) and the row count of the offers
	// table, the inputs of the backfill completeness check
	OfferIntegrity(ctx context.Context) (maxOfferID int64, rowCount int64, err error)

	// EnqueueAcceptedEvent stores one exported OfferAccepted payload in the
	// event_queue fan-out table
	EnqueueAcceptedEvent(ctx context.Context, payload []byte) error
}

// NewStore creates a storage backend from the configuration
func NewStore(cfg *config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "postgres":
		return NewPostgresStore(cfg), nil
	case "sqlite":
		return NewSQLiteStore(cfg), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"unsupported storage type", cfg.Type)
	}
}
