package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/realtoken-community/yam-indexer/internal/metrics"
	"github.com/realtoken-community/yam-indexer/internal/models"
	"github.com/realtoken-community/yam-indexer/internal/notification"
	"github.com/realtoken-community/yam-indexer/internal/status"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// ApplyResult summarizes one batch application
type ApplyResult struct {
	Applied        int
	Skipped        int
	DroppedInvalid int
}

// EventApplier writes decoded event batches to the store. One batch is one
// transaction; a failing record is rolled back to a savepoint and skipped so
// the rest of the batch still lands.
type EventApplier struct {
	store    Store
	notifier notification.Notifier
	logger   *logrus.Logger

	droppedInvalid atomic.Uint64
}

// NewEventApplier creates an applier over the given store
func NewEventApplier(store Store, notifier notification.Notifier) *EventApplier {
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}
	return &EventApplier{
		store:    store,
		notifier: notifier,
		logger:   utils.GetLogger(),
	}
}

// Apply writes the batch under a single transaction. Records carrying the
// corrupted log index are counted and dropped before touching the database.
// When r is non-nil the watermark is advanced in the same transaction, so a
// commit means both the rows and the progress marker landed together.
func (a *EventApplier) Apply(ctx context.Context, batch []models.RawEvent, r *models.BlockRange) (*ApplyResult, error) {
	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result := &ApplyResult{}
	for i := range batch {
		event := &batch[i]

		if event.HasInvalidLogIndex() {
			result.DroppedInvalid++
			a.droppedInvalid.Add(1)
			metrics.InvalidLogIndexInc()
			a.logger.WithFields(logrus.Fields{
				"topic":     event.Topic,
				"offer_id":  event.OfferID,
				"tx_hash":   event.TransactionHash,
				"log_index": event.LogIndex,
			}).Warn("Dropping event with invalid log index")
			continue
		}

		if err := a.applyOne(ctx, tx, event); err != nil {
			result.Skipped++
			metrics.RecordFailureInc()
			a.logger.WithFields(logrus.Fields{
				"topic":    event.Topic,
				"offer_id": event.OfferID,
				"tx_hash":  event.TransactionHash,
				"error":    err.Error(),
			}).Error("Failed to apply event, skipping record")
			a.notifier.Notify(ctx, fmt.Sprintf(
				"Failed to apply %s event for offer %d (tx %s): %v",
				event.Topic, event.OfferID, event.TransactionHash, err))
			continue
		}

		result.Applied++
		metrics.EventAppliedInc(string(event.Topic))
	}

	if r != nil {
		if err := a.store.MergeIndexedRange(ctx, tx, *r); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase,
				"Failed to advance indexing watermark", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase,
			"Failed to commit event batch", err.Error())
	}
	return result, nil
}

// applyOne dispatches a single record under a savepoint, so a statement error
// does not poison the enclosing transaction.
func (a *EventApplier) applyOne(ctx context.Context, tx *sql.Tx, event *models.RawEvent) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT record_sp"); err != nil {
		return err
	}

	var err error
	switch event.Topic {
	case models.EventOfferCreated:
		err = a.applyCreated(ctx, tx, event)
	case models.EventOfferAccepted:
		err = a.applyAccepted(ctx, tx, event)
	case models.EventOfferUpdated:
		err = a.applyUpdated(ctx, tx, event)
	case models.EventOfferDeleted:
		err = a.applyDeleted(ctx, tx, event)
	default:
		err = utils.NewAppError(utils.ErrCodeValidation, "unknown event topic", string(event.Topic))
	}

	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT record_sp"); rbErr != nil {
			return fmt.Errorf("%w (savepoint rollback failed: %v)", err, rbErr)
		}
		return err
	}

	_, err = tx.ExecContext(ctx, "RELEASE SAVEPOINT record_sp")
	return err
}

func (a *EventApplier) applyCreated(ctx context.Context, tx *sql.Tx, event *models.RawEvent) error {
	offer := &models.Offer{
		OfferID:           event.OfferID,
		SellerAddress:     utils.ChecksumAddress(event.Seller),
		InitialAmount:     event.Amount,
		PricePerUnit:      event.Price,
		OfferToken:        utils.ChecksumAddress(event.OfferToken),
		BuyerToken:        utils.ChecksumAddress(event.BuyerToken),
		TransactionHash:   event.TransactionHash,
		BlockNumber:       event.BlockNumber,
		LogIndex:          event.LogIndex,
		CreationTimestamp: eventTime(event),
	}
	return a.store.InsertOffer(ctx, tx, offer)
}

func (a *EventApplier) applyAccepted(ctx context.Context, tx *sql.Tx, event *models.RawEvent) error {
	record := &models.OfferEvent{
		OfferID:         event.OfferID,
		EventType:       models.EventOfferAccepted,
		BuyerAddress:    utils.ChecksumAddress(event.Buyer),
		AmountBought:    event.Amount,
		PriceBought:     event.Price,
		TransactionHash: event.TransactionHash,
		BlockNumber:     event.BlockNumber,
		LogIndex:        event.LogIndex,
		UniqueID:        utils.EventUniqueID(event.TransactionHash, event.LogIndex),
		EventTimestamp:  eventTime(event),
	}
	if err := a.store.InsertOfferEvent(ctx, tx, record); err != nil {
		return err
	}

	offer, history, err := a.store.OfferHistory(ctx, tx, event.OfferID)
	if err != nil {
		return err
	}
	if offer == nil {
		// The creation has not been indexed yet; the status settles on the
		// next reconciliation pass.
		a.logger.WithField("offer_id", event.OfferID).Debug("Accepted event for unknown offer, status deferred")
		return nil
	}

	derived := status.Derive(offer, history)
	if derived == models.StatusUnresolved || derived == models.StatusInProgress {
		return nil
	}
	return a.store.UpdateOfferStatus(ctx, tx, event.OfferID, derived)
}

func (a *EventApplier) applyUpdated(ctx context.Context, tx *sql.Tx, event *models.RawEvent) error {
	record := &models.OfferEvent{
		OfferID:         event.OfferID,
		EventType:       models.EventOfferUpdated,
		NewAmount:       event.Amount,
		NewPrice:        event.Price,
		TransactionHash: event.TransactionHash,
		BlockNumber:     event.BlockNumber,
		LogIndex:        event.LogIndex,
		UniqueID:        utils.EventUniqueID(event.TransactionHash, event.LogIndex),
		EventTimestamp:  eventTime(event),
	}
	if err := a.store.InsertOfferEvent(ctx, tx, record); err != nil {
		return err
	}
	// An update resets the remaining amount, so the offer is buyable again
	return a.store.UpdateOfferStatus(ctx, tx, event.OfferID, models.StatusInProgress)
}

func (a *EventApplier) applyDeleted(ctx context.Context, tx *sql.Tx, event *models.RawEvent) error {
	record := &models.OfferEvent{
		OfferID:         event.OfferID,
		EventType:       models.EventOfferDeleted,
		TransactionHash: event.TransactionHash,
		BlockNumber:     event.BlockNumber,
		LogIndex:        event.LogIndex,
		UniqueID:        utils.EventUniqueID(event.TransactionHash, event.LogIndex),
		EventTimestamp:  eventTime(event),
	}
	if err := a.store.InsertOfferEvent(ctx, tx, record); err != nil {
		return err
	}
	return a.store.UpdateOfferStatus(ctx, tx, event.OfferID, models.StatusDeleted)
}

// DroppedInvalidLogIndex returns the lifetime count of dropped corrupted
// records
func (a *EventApplier) DroppedInvalidLogIndex() uint64 {
	return a.droppedInvalid.Load()
}

func eventTime(event *models.RawEvent) time.Time {
	if event.Timestamp != nil {
		return *event.Timestamp
	}
	return time.Now().UTC()
}
