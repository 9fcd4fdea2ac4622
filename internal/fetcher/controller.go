package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/realtoken-community/yam-indexer/internal/metrics"
	"github.com/realtoken-community/yam-indexer/internal/models"
	"github.com/realtoken-community/yam-indexer/internal/notification"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// splitParts is how many sub-ranges a timed-out batch is divided into
const splitParts = 10

// splitPause is the wait before re-attempting a timed-out batch as sub-ranges
var splitPause = 10 * time.Second

// subRangeDelay paces sub-range requests to stay under endpoint rate limits
var subRangeDelay = 200 * time.Millisecond

// RangeFetcher abstracts the dual-source fetch so the controller can be
// exercised with stubs. DualFetcher is the production implementation.
type RangeFetcher interface {
	Fetch(ctx context.Context, r models.BlockRange, topics []common.Hash) ([]models.RawEvent, error)
}

// RotatablePool is the slice of the endpoint pool the controller needs
type RotatablePool interface {
	Rotate()
	Size() int
	PrimaryURL() string
}

// ControllerConfig holds the retry/failover tuning knobs
type ControllerConfig struct {
	// MaxRetries is the per-range retry budget before the endpoint pair
	// is rotated
	MaxRetries int
	// Backoff is the fixed wait between retries of the same range
	Backoff time.Duration
	// Cooldown is the pause taken after every endpoint failed a full
	// rotation cycle, so a dead pool does not turn into a hot loop
	Cooldown time.Duration
}

// Controller wraps the dual-source fetcher with bounded retries, adaptive
// batch-splitting on timeout and round-robin endpoint rotation.
//
// Steady state (FetchRange): retry the range with a fixed backoff; once the
// budget is spent, rotate the endpoint pair and start over. When every
// endpoint has failed once around the cycle, alert the operator, pause for
// the cooldown and give the range up to the caller.
//
// Backfill (FetchBatch): fetch one batch from both endpoints concurrently;
// a timed-out endpoint call is retried as ten smaller sub-ranges, and
// individual sub-range timeouts are tolerated.
type Controller struct {
	fetcher  RangeFetcher
	pool     RotatablePool
	primary  LogSource
	backup   LogSource
	notifier notification.Notifier
	config   ControllerConfig
	logger   *logrus.Logger

	mu                  sync.Mutex
	consecutiveFailures int
}

// NewController creates a retry/failover controller
func NewController(
	fetcher RangeFetcher,
	pool RotatablePool,
	primary, backup LogSource,
	notifier notification.Notifier,
	config ControllerConfig,
) *Controller {
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}
	return &Controller{
		fetcher:  fetcher,
		pool:     pool,
		primary:  primary,
		backup:   backup,
		notifier: notifier,
		config:   config,
		logger:   utils.GetLogger(),
	}
}

// FetchRange fetches one block range with the full retry/rotate/cooldown
// policy. It returns ErrEndpointsExhausted after a full failed rotation
// cycle, and propagates non-transient errors immediately.
func (c *Controller) FetchRange(ctx context.Context, r models.BlockRange, topics []common.Hash) ([]models.RawEvent, error) {
	for {
		events, err := c.attemptWithRetries(ctx, r, topics)
		if err == nil {
			c.mu.Lock()
			c.consecutiveFailures = 0
			c.mu.Unlock()
			return events, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTransient(err) {
			return nil, err
		}

		// Retry budget spent on this pair: rotate and track whether the
		// whole pool has now failed once around the cycle.
		c.pool.Rotate()
		metrics.EndpointRotationInc()

		c.mu.Lock()
		c.consecutiveFailures++
		exhausted := c.consecutiveFailures >= c.pool.Size()
		if exhausted {
			c.consecutiveFailures = 0
		}
		c.mu.Unlock()

		if exhausted {
			c.logger.WithFields(logrus.Fields{
				"from_block": r.From,
				"to_block":   r.To,
			}).Error("All RPC endpoints failed consecutively in a full cycle")
			c.notifier.Notify(ctx, "All RPC endpoints failed consecutively in a full cycle. You might need to add new valid RPCs")
			metrics.EndpointCooldownInc()

			if err := wait(ctx, c.config.Cooldown); err != nil {
				return nil, err
			}
			return nil, ErrEndpointsExhausted
		}
	}
}

// attemptWithRetries runs the per-pair retry loop for one range
func (c *Controller) attemptWithRetries(ctx context.Context, r models.BlockRange, topics []common.Hash) ([]models.RawEvent, error) {
	var lastErr error

	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		events, err := c.fetcher.Fetch(ctx, r, topics)
		if err == nil {
			return events, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err

		if attempt < c.config.MaxRetries-1 {
			c.logger.WithFields(logrus.Fields{
				"endpoint":   c.pool.PrimaryURL(),
				"from_block": r.From,
				"to_block":   r.To,
				"attempt":    attempt + 1,
				"backoff":    c.config.Backoff.String(),
			}).Info("Blocks retrieval failed, retrying")
			metrics.FetchRetryInc()

			if err := wait(ctx, c.config.Backoff); err != nil {
				return nil, err
			}
		}
	}

	return nil, lastErr
}

// FetchBatch fetches one backfill batch from both endpoints concurrently and
// returns the deduplicated union. Each endpoint call that times out is split
// into sub-ranges; sub-range timeouts are logged, notified and tolerated.
// Non-transient errors abort the batch.
func (c *Controller) FetchBatch(ctx context.Context, r models.BlockRange, topics []common.Hash) ([]models.RawEvent, error) {
	type batchResult struct {
		events []models.RawEvent
		err    error
	}

	results := make([]batchResult, 2)
	var wg sync.WaitGroup
	for i, src := range []LogSource{c.primary, c.backup} {
		wg.Add(1)
		go func(i int, src LogSource) {
			defer wg.Done()
			events, err := c.fetchWithSplit(ctx, src, r, topics)
			results[i] = batchResult{events: events, err: err}
		}(i, src)
	}
	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			return nil, res.err
		}
	}

	return MergeEvents(results[0].events, results[1].events), nil
}

// fetchWithSplit fetches the range from one source, degrading to ten
// sub-range fetches when the full range times out
func (c *Controller) fetchWithSplit(ctx context.Context, src LogSource, r models.BlockRange, topics []common.Hash) ([]models.RawEvent, error) {
	events, err := src.FetchLogs(ctx, r, topics)
	if err == nil {
		return events, nil
	}
	if !IsTransient(err) {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"endpoint":   src.Name(),
		"from_block": r.From,
		"to_block":   r.To,
	}).Info("Endpoint timed out, splitting batch into sub-ranges")
	metrics.BatchSplitInc()

	if err := wait(ctx, splitPause); err != nil {
		return nil, err
	}

	var collected []models.RawEvent
	for _, sub := range r.Split(splitParts) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		subEvents, err := src.FetchLogs(ctx, sub, topics)
		if err != nil {
			if !IsTransient(err) {
				return nil, err
			}
			// Tolerated: the periodic reconciliation will recover
			// whatever this sub-range held.
			msg := fmt.Sprintf("%s time out. Request was from block %d to %d.", src.Name(), sub.From, sub.To)
			c.logger.WithFields(logrus.Fields{
				"endpoint":   src.Name(),
				"from_block": sub.From,
				"to_block":   sub.To,
			}).Warn("Sub-range fetch timed out, skipping")
			c.notifier.Notify(ctx, msg)
			continue
		}
		collected = append(collected, subEvents...)

		if err := wait(ctx, subRangeDelay); err != nil {
			return nil, err
		}
	}
	return collected, nil
}

// wait sleeps for d unless the context is cancelled first
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
