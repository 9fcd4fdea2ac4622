// Package backfill rebuilds and repairs the offer database from the two
// redundant live endpoints and the historical feed. A full run replays the
// whole contract history in two phases (creations first, then lifecycle
// events); a ranged run re-reads a trailing window from the historical feed
// to pick up anything the steady-state loop missed.
package backfill

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/internal/fetcher"
	"github.com/realtoken-community/yam-indexer/internal/metrics"
	"github.com/realtoken-community/yam-indexer/internal/models"
	"github.com/realtoken-community/yam-indexer/internal/notification"
	"github.com/realtoken-community/yam-indexer/internal/storage"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// BatchFetcher is the live-endpoint batch fetch used for history replay.
// Implemented by fetcher.Controller.
type BatchFetcher interface {
	FetchBatch(ctx context.Context, r models.BlockRange, topics []common.Hash) ([]models.RawEvent, error)
}

// HistoricalSource is the paginated historical feed. Implemented by
// subgraph.Client.
type HistoricalSource interface {
	FetchAll(ctx context.Context, kind models.EventType) ([]models.RawEvent, error)
	FetchRange(ctx context.Context, kind models.EventType, r models.BlockRange) ([]models.RawEvent, error)
}

// BatchApplier writes batches to the store. Implemented by
// storage.EventApplier.
type BatchApplier interface {
	Apply(ctx context.Context, batch []models.RawEvent, r *models.BlockRange) (*storage.ApplyResult, error)
}

// HeadSource reports the current chain head. Implemented by connection.Pool.
type HeadSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Reconciler replays contract history into the store
type Reconciler struct {
	fetcher    BatchFetcher
	primary    fetcher.LogSource
	historical HistoricalSource
	applier    BatchApplier
	store      storage.Store
	head       HeadSource
	notifier   notification.Notifier
	logger     *logrus.Logger

	startBlock uint64
	batchSize  uint64
}

// NewReconciler creates a reconciler
func NewReconciler(
	batchFetcher BatchFetcher,
	primary fetcher.LogSource,
	historical HistoricalSource,
	applier BatchApplier,
	store storage.Store,
	head HeadSource,
	notifier notification.Notifier,
	cfg *config.Config,
) *Reconciler {
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}
	return &Reconciler{
		fetcher:    batchFetcher,
		primary:    primary,
		historical: historical,
		applier:    applier,
		store:      store,
		head:       head,
		notifier:   notifier,
		logger:     utils.GetLogger(),
		startBlock: cfg.Chain.StartBlock,
		batchSize:  cfg.Subgraph.BackfillBatchSize,
	}
}

// Run replays the full contract history. Creations land first so every
// lifecycle event finds its offer row; between the phases the offer table is
// checked for completeness and a gap aborts the run. The watermark is written
// once at the end, covering the whole replayed window.
func (rc *Reconciler) Run(ctx context.Context) error {
	metrics.BackfillRunInc()

	head, err := rc.head.LatestBlockNumber(ctx)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeFetch, "could not resolve chain head for backfill", err.Error())
	}

	rc.logger.WithFields(logrus.Fields{
		"start_block": rc.startBlock,
		"head":        head,
	}).Info("Full history reconciliation started")

	// seen dedups across live batches, the creation re-poll and the
	// historical feed within this run. Database uniqueness still backstops
	// anything that slips through.
	seen := make(map[models.DedupKey]struct{})

	// Phase A: creations
	if err := rc.replayBatches(ctx, models.BlockRange{From: rc.startBlock, To: head},
		[]common.Hash{fetcher.TopicOfferCreated}, "creations", seen); err != nil {
		return err
	}

	feedCreations, err := rc.historical.FetchAll(ctx, models.EventOfferCreated)
	if err != nil {
		return err
	}
	if err := rc.applyDeduped(ctx, feedCreations, seen); err != nil {
		return err
	}

	if err := rc.checkOfferIntegrity(ctx); err != nil {
		return err
	}

	// The head moved while phase A ran; re-poll the gap for creations so
	// phase B lifecycle events cannot reference an unknown offer.
	newHead, err := rc.head.LatestBlockNumber(ctx)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeFetch, "could not resolve chain head for backfill", err.Error())
	}
	if newHead > head {
		lateCreations, err := rc.primary.FetchLogs(ctx,
			models.BlockRange{From: head + 1, To: newHead},
			[]common.Hash{fetcher.TopicOfferCreated})
		if err != nil {
			return err
		}
		if err := rc.applyDeduped(ctx, lateCreations, seen); err != nil {
			return err
		}
	}

	// Phase B: lifecycle events
	if err := rc.replayBatches(ctx, models.BlockRange{From: rc.startBlock, To: newHead},
		fetcher.LifecycleTopics, "lifecycle", seen); err != nil {
		return err
	}

	var feedLifecycle []models.RawEvent
	for _, kind := range []models.EventType{models.EventOfferAccepted, models.EventOfferUpdated, models.EventOfferDeleted} {
		events, err := rc.historical.FetchAll(ctx, kind)
		if err != nil {
			return err
		}
		feedLifecycle = append(feedLifecycle, events...)
	}
	sortChainOrder(feedLifecycle)
	if err := rc.applyDeduped(ctx, feedLifecycle, seen); err != nil {
		return err
	}

	// One watermark row covering the whole replay
	if _, err := rc.applier.Apply(ctx, nil, &models.BlockRange{From: rc.startBlock, To: newHead}); err != nil {
		return err
	}

	rc.logger.WithFields(logrus.Fields{
		"start_block": rc.startBlock,
		"head":        newHead,
	}).Info("Full history reconciliation completed")
	return nil
}

// RunRange re-reads one block window from the historical feed and re-applies
// every event in chain order. Inserts are idempotent, so records the
// steady-state loop already applied are no-ops and only the missed ones land.
// The watermark is merged over the window: a downtime gap extends it, while a
// trailing window behind the latest row merges as a no-op.
func (rc *Reconciler) RunRange(ctx context.Context, r models.BlockRange) error {
	metrics.BackfillRunInc()

	rc.logger.WithFields(logrus.Fields{
		"from_block": r.From,
		"to_block":   r.To,
	}).Info("Trailing-window reconciliation started")

	var all []models.RawEvent
	for _, kind := range []models.EventType{
		models.EventOfferCreated, models.EventOfferAccepted,
		models.EventOfferUpdated, models.EventOfferDeleted,
	} {
		events, err := rc.historical.FetchRange(ctx, kind, r)
		if err != nil {
			return err
		}
		all = append(all, events...)
	}
	sortChainOrder(all)

	result, err := rc.applier.Apply(ctx, all, &r)
	if err != nil {
		return err
	}

	rc.logger.WithFields(logrus.Fields{
		"from_block": r.From,
		"to_block":   r.To,
		"applied":    result.Applied,
		"skipped":    result.Skipped,
		"dropped":    result.DroppedInvalid,
	}).Info("Trailing-window reconciliation completed")
	return nil
}

// replayBatches walks the range in backfill-sized batches through the dual
// live endpoints, applying as it goes and logging progress in 5% steps
func (rc *Reconciler) replayBatches(ctx context.Context, r models.BlockRange, topics []common.Hash, phase string, seen map[models.DedupKey]struct{}) error {
	total := r.Size()
	var done uint64
	lastPct := -1

	for from := r.From; from <= r.To; from += rc.batchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		to := from + rc.batchSize - 1
		if to > r.To {
			to = r.To
		}
		batchRange := models.BlockRange{From: from, To: to}

		events, err := rc.fetcher.FetchBatch(ctx, batchRange, topics)
		if err != nil {
			return err
		}
		if err := rc.applyDeduped(ctx, events, seen); err != nil {
			return err
		}

		done += batchRange.Size()
		if pct := int(done * 100 / total); pct/5 > lastPct/5 {
			lastPct = pct
			rc.logger.WithFields(logrus.Fields{
				"phase":    phase,
				"progress": fmt.Sprintf("%d%%", pct),
				"block":    to,
			}).Info("History replay progress")
		}
	}
	return nil
}

// applyDeduped filters out records already seen in this run and applies the
// remainder without touching the watermark
func (rc *Reconciler) applyDeduped(ctx context.Context, events []models.RawEvent, seen map[models.DedupKey]struct{}) error {
	fresh := make([]models.RawEvent, 0, len(events))
	for i := range events {
		key := events[i].Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, events[i])
	}
	if len(fresh) == 0 {
		return nil
	}
	_, err := rc.applier.Apply(ctx, fresh, nil)
	return err
}

// checkOfferIntegrity verifies the offers table is gapless. Offer ids are
// assigned by an on-chain counter starting at zero, so max(offer_id)+1 must
// equal the row count once every creation has been replayed.
func (rc *Reconciler) checkOfferIntegrity(ctx context.Context) error {
	maxID, count, err := rc.store.OfferIntegrity(ctx)
	if err != nil {
		return err
	}
	if maxID < 0 && count == 0 {
		return nil
	}
	if maxID+1 != count {
		msg := fmt.Sprintf("Offer table integrity check failed: max(offer_id)+1 = %d but count = %d", maxID+1, count)
		rc.logger.WithFields(logrus.Fields{
			"max_offer_id": maxID,
			"row_count":    count,
		}).Error("Offer table integrity check failed")
		rc.notifier.Notify(ctx, msg)
		return utils.NewAppError(utils.ErrCodeIntegrity, "offer table integrity check failed",
			fmt.Sprintf("max_offer_id=%d row_count=%d", maxID, count))
	}
	return nil
}

// sortChainOrder sorts events into their on-chain order
func sortChainOrder(events []models.RawEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}
