// Package status derives the current lifecycle status of an offer by
// replaying its ordered event history. The derivation is a pure function:
// the same offer and events always produce the same result, regardless of
// the order the caller supplies them in.
package status

import (
	"math/big"
	"sort"

	"github.com/realtoken-community/yam-indexer/internal/models"
)

// Derive replays the event history of an offer into its current status.
//
// Rules, applied over the history ordered by (block_number, log_index):
//   - a trailing OfferDeleted wins unconditionally;
//   - the last OfferUpdated, if any, resets the remaining-amount baseline to
//     its new amount and discards everything before it;
//   - every subsequent OfferAccepted decrements the remaining amount;
//   - remaining == 0 is SoldOut, remaining > 0 is InProgress.
//
// A negative remainder or an unparsable baseline yields StatusUnresolved,
// which callers must never write back over an existing status.
func Derive(offer *models.Offer, events []*models.OfferEvent) models.OfferStatus {
	if offer == nil {
		return models.StatusUnresolved
	}

	ordered := make([]*models.OfferEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].BlockNumber != ordered[j].BlockNumber {
			return ordered[i].BlockNumber < ordered[j].BlockNumber
		}
		return ordered[i].LogIndex < ordered[j].LogIndex
	})

	if len(ordered) > 0 && ordered[len(ordered)-1].EventType == models.EventOfferDeleted {
		return models.StatusDeleted
	}

	// An Updated event resets the baseline; everything before it is history.
	baseline := offer.InitialAmount
	rest := ordered
	for i := len(ordered) - 1; i >= 0; i-- {
		if ordered[i].EventType == models.EventOfferUpdated {
			baseline = ordered[i].NewAmount
			rest = ordered[i+1:]
			break
		}
	}

	remaining, ok := new(big.Int).SetString(baseline, 10)
	if !ok {
		return models.StatusUnresolved
	}

	for _, ev := range rest {
		if ev.EventType != models.EventOfferAccepted {
			continue
		}
		bought, ok := new(big.Int).SetString(ev.AmountBought, 10)
		if !ok {
			return models.StatusUnresolved
		}
		remaining.Sub(remaining, bought)
	}

	switch remaining.Sign() {
	case 0:
		return models.StatusSoldOut
	case 1:
		return models.StatusInProgress
	default:
		return models.StatusUnresolved
	}
}
