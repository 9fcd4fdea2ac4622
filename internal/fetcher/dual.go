package fetcher

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/realtoken-community/yam-indexer/internal/models"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// DualFetcher fetches the same block range from two redundant endpoints and
// merges the results by (transaction hash, log index). The union is taken,
// not a vote: either endpoint may omit events, neither is expected to
// fabricate them.
//
// The asymmetry is deliberate: a primary failure fails the fetch, a backup
// failure is logged and swallowed. Missing the safety net is tolerable,
// missing the primary result is not.
type DualFetcher struct {
	primary LogSource
	backup  LogSource
	logger  *logrus.Logger
}

// NewDualFetcher creates a dual-source fetcher over a primary/backup pair
func NewDualFetcher(primary, backup LogSource) *DualFetcher {
	return &DualFetcher{
		primary: primary,
		backup:  backup,
		logger:  utils.GetLogger(),
	}
}

type sourceResult struct {
	events []models.RawEvent
	err    error
}

// Fetch returns the deduplicated union of both endpoints' results for the
// range. Primary results come first, backup-only extras follow.
func (d *DualFetcher) Fetch(ctx context.Context, r models.BlockRange, topics []common.Hash) ([]models.RawEvent, error) {
	primaryCh := make(chan sourceResult, 1)
	backupCh := make(chan sourceResult, 1)

	go func() {
		events, err := d.primary.FetchLogs(ctx, r, topics)
		primaryCh <- sourceResult{events: events, err: err}
	}()
	go func() {
		events, err := d.backup.FetchLogs(ctx, r, topics)
		backupCh <- sourceResult{events: events, err: err}
	}()

	primary := <-primaryCh
	backup := <-backupCh

	if primary.err != nil {
		return nil, primary.err
	}

	if backup.err != nil {
		d.logger.WithFields(logrus.Fields{
			"endpoint":   d.backup.Name(),
			"from_block": r.From,
			"to_block":   r.To,
			"error":      backup.err.Error(),
		}).Warn("Backup fetch failed, continuing with primary result only")
		return primary.events, nil
	}

	return MergeEvents(primary.events, backup.events), nil
}

// MergeEvents deduplicates event slices by their dedup key, preserving the
// order of first occurrence.
func MergeEvents(batches ...[]models.RawEvent) []models.RawEvent {
	seen := make(map[models.DedupKey]struct{})
	var merged []models.RawEvent

	for _, batch := range batches {
		for _, event := range batch {
			key := event.Key()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, event)
		}
	}
	return merged
}
