// Package indexer runs the steady-state ingestion loop: fetch one batch of
// blocks from the redundant live endpoints, apply it with the watermark in
// one transaction, pace to the chain's block production rate, and
// periodically re-anchor against the head and the historical feed.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/internal/fetcher"
	"github.com/realtoken-community/yam-indexer/internal/metrics"
	"github.com/realtoken-community/yam-indexer/internal/models"
	"github.com/realtoken-community/yam-indexer/internal/storage"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// RangeFetcher is the retrying live fetch. Implemented by
// fetcher.Controller.
type RangeFetcher interface {
	FetchRange(ctx context.Context, r models.BlockRange, topics []common.Hash) ([]models.RawEvent, error)
}

// BatchApplier writes batches to the store. Implemented by
// storage.EventApplier.
type BatchApplier interface {
	Apply(ctx context.Context, batch []models.RawEvent, r *models.BlockRange) (*storage.ApplyResult, error)
}

// Reconciler repairs missed history. Implemented by backfill.Reconciler.
type Reconciler interface {
	RunRange(ctx context.Context, r models.BlockRange) error
}

// HeadSource reports the current chain head. Implemented by connection.Pool.
type HeadSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Scheduler drives the indexing loop
type Scheduler struct {
	fetcher    RangeFetcher
	applier    BatchApplier
	store      storage.Store
	reconciler Reconciler
	head       HeadSource
	logger     *logrus.Logger

	cfg config.IndexerConfig

	startBlock      uint64
	blockBuffer     uint64
	secondsPerBlock float64
}

// NewScheduler creates the indexing loop scheduler
func NewScheduler(
	rangeFetcher RangeFetcher,
	applier BatchApplier,
	store storage.Store,
	reconciler Reconciler,
	head HeadSource,
	cfg *config.Config,
) *Scheduler {
	return &Scheduler{
		fetcher:         rangeFetcher,
		applier:         applier,
		store:           store,
		reconciler:      reconciler,
		head:            head,
		logger:          utils.GetLogger(),
		cfg:             cfg.Indexer,
		startBlock:      cfg.Chain.StartBlock,
		blockBuffer:     cfg.Chain.BlockBuffer,
		secondsPerBlock: cfg.Chain.SecondsPerBlock,
	}
}

// Run drives the loop until the context is cancelled. A failing chain-head
// read at startup is fatal (the endpoints are misconfigured); once running,
// an exhausted endpoint pool skips the iteration without advancing the
// window, and any other error is returned to the supervisor for a restart.
func (s *Scheduler) Run(ctx context.Context) error {
	// No head means no starting window; unreachable endpoints at startup
	// are a deployment problem, not a condition a restart fixes.
	head, err := s.head.LatestBlockNumber(ctx)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"could not resolve chain head at startup", err.Error())
	}
	metrics.SetChainHead(head)

	fromBlock, err := s.resumePoint(ctx, head)
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"from_block": fromBlock,
		"head":       head,
		"batch_size": s.cfg.BatchSize,
	}).Info("Indexing loop started")

	window := models.BlockRange{From: fromBlock, To: fromBlock + s.cfg.BatchSize - 1}
	for iteration := 1; ; iteration++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		started := time.Now()

		events, err := s.fetcher.FetchRange(ctx, window, fetcher.AllTopics)
		if err != nil {
			if errors.Is(err, fetcher.ErrEndpointsExhausted) {
				// The controller already cooled down; retry the same
				// window with the rotated pool.
				s.logger.WithFields(logrus.Fields{
					"from_block": window.From,
					"to_block":   window.To,
				}).Warn("Endpoint pool exhausted, retrying window after cooldown")
				continue
			}
			return err
		}

		if s.cfg.ExportAcceptedQueue {
			s.exportAccepted(ctx, events)
		}

		result, err := s.applier.Apply(ctx, events, &window)
		if err != nil {
			return err
		}
		metrics.SetLastIndexedBlock(window.To)

		if result.Applied > 0 || result.Skipped > 0 || result.DroppedInvalid > 0 {
			s.logger.WithFields(logrus.Fields{
				"from_block": window.From,
				"to_block":   window.To,
				"applied":    result.Applied,
				"skipped":    result.Skipped,
				"dropped":    result.DroppedInvalid,
			}).Info("Batch applied")
		}

		window = models.BlockRange{From: window.To + 1, To: window.To + s.cfg.BatchSize}

		if iteration%s.cfg.ResyncInterval == 0 {
			window = s.resync(ctx, window)
		}

		if iteration%s.cfg.BackfillInterval == 0 {
			s.trailingReconcile(ctx, window.From)
		}

		if err := s.pace(ctx, started); err != nil {
			return err
		}
	}
}

// resumePoint picks the first block of the run: the contract creation block
// on a fresh database, just behind the safety buffer otherwise. A watermark
// behind the head means downtime, so the gap is reconciled from the
// historical feed (which merges the watermark over it) before live indexing
// resumes; the overlap between the resume window and the reconciled range is
// a no-op merge.
func (s *Scheduler) resumePoint(ctx context.Context, head uint64) (uint64, error) {
	last, ok, err := s.store.LastIndexedBlock(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.startBlock, nil
	}

	if head > last+1 {
		gap := models.BlockRange{From: last + 1, To: head}
		s.logger.WithFields(logrus.Fields{
			"from_block": gap.From,
			"to_block":   gap.To,
		}).Info("Catching up missed window before live indexing")
		if err := s.reconciler.RunRange(ctx, gap); err != nil {
			return 0, err
		}
		if head > s.blockBuffer+s.cfg.BatchSize {
			return head - s.blockBuffer - s.cfg.BatchSize + 1, nil
		}
	}
	return last + 1, nil
}

// resync re-anchors the window against the head. The loop paces itself by
// wall clock, slightly slower than real block production, so drift
// accumulates: the upper bound is recomputed to head minus the safety buffer
// (one oversized catch-up fetch absorbs the accumulated lag), and a window
// ahead of that mark would index blocks that may still reorganize, so it is
// pulled back instead.
func (s *Scheduler) resync(ctx context.Context, window models.BlockRange) models.BlockRange {
	head, err := s.head.LatestBlockNumber(ctx)
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("Resync head fetch failed, keeping current window")
		return window
	}
	metrics.SetChainHead(head)

	target := head - s.blockBuffer
	if window.From > target {
		adjusted := models.BlockRange{From: target - s.cfg.BatchSize + 1, To: target}
		s.logger.WithFields(logrus.Fields{
			"head":       head,
			"old_window": window.From,
			"new_window": adjusted.From,
		}).Info("Window ahead of safe head, pulling back")
		return adjusted
	}

	if target > window.To {
		s.logger.WithFields(logrus.Fields{
			"head":       head,
			"from_block": window.From,
			"to_block":   target,
			"lag_blocks": target - window.To,
		}).Info("Window behind safe head, catching up")
	}
	return models.BlockRange{From: window.From, To: target}
}

// trailingReconcile re-reads the recent window from the historical feed
func (s *Scheduler) trailingReconcile(ctx context.Context, fromBlock uint64) {
	to := fromBlock - 1
	from := s.startBlock
	if to > s.cfg.BackfillWindow+s.startBlock {
		from = to - s.cfg.BackfillWindow + 1
	}

	if err := s.reconciler.RunRange(ctx, models.BlockRange{From: from, To: to}); err != nil {
		// The next interval retries; steady-state indexing continues
		s.logger.WithFields(logrus.Fields{
			"from_block": from,
			"to_block":   to,
			"error":      err.Error(),
		}).Error("Trailing-window reconciliation failed")
	}
}

// exportAccepted enqueues OfferAccepted records for downstream consumers.
// Export failures never block indexing.
func (s *Scheduler) exportAccepted(ctx context.Context, events []models.RawEvent) {
	for i := range events {
		if events[i].Topic != models.EventOfferAccepted {
			continue
		}
		payload, err := json.Marshal(&events[i])
		if err != nil {
			s.logger.WithField("error", err.Error()).Error("Failed to marshal accepted event for export")
			continue
		}
		if err := s.store.EnqueueAcceptedEvent(ctx, payload); err != nil {
			s.logger.WithField("error", err.Error()).Error("Failed to enqueue accepted event")
		}
	}
}

// pace sleeps out the remainder of the iteration budget, which is the wall
// time the chain needs to produce one batch of blocks
func (s *Scheduler) pace(ctx context.Context, started time.Time) error {
	budget := time.Duration(s.secondsPerBlock * float64(s.cfg.BatchSize) * float64(time.Second))
	remaining := budget - time.Since(started)
	if remaining <= 0 {
		return nil
	}
	select {
	case <-time.After(remaining):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
