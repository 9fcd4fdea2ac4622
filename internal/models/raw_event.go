package models

import "time"

// InvalidLogIndexThreshold marks the known corruption signature of the
// historical feed: a logIndex of -1 surfaces as a value >= 2^31 once cast to
// an unsigned integer. Such records are dropped, never applied.
const InvalidLogIndexThreshold uint64 = 1 << 31

// RawEvent is the normalized, source-independent shape of a decoded
// marketplace event as produced by either the live endpoints or the
// historical feed. It is transient and never persisted as such.
type RawEvent struct {
	Topic           EventType  `json:"topic"`
	OfferID         uint64     `json:"offer_id"`
	Seller          string     `json:"seller,omitempty"`
	Buyer           string     `json:"buyer,omitempty"`
	OfferToken      string     `json:"offer_token,omitempty"`
	BuyerToken      string     `json:"buyer_token,omitempty"`
	Amount          string     `json:"amount,omitempty"`
	Price           string     `json:"price,omitempty"`
	TransactionHash string     `json:"transaction_hash"`
	LogIndex        uint64     `json:"log_index"`
	BlockNumber     uint64     `json:"block_number"`
	// Timestamp is absent from the live source; the applier defaults it to
	// ingestion time.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// DedupKey identifies a unique on-chain event occurrence across sources
type DedupKey struct {
	TransactionHash string
	LogIndex        uint64
}

// Key returns the cross-source dedup key of the event
func (e *RawEvent) Key() DedupKey {
	return DedupKey{TransactionHash: e.TransactionHash, LogIndex: e.LogIndex}
}

// HasInvalidLogIndex reports whether the record carries the historical feed's
// corrupted logIndex and must be counted and skipped.
func (e *RawEvent) HasInvalidLogIndex() bool {
	return e.LogIndex >= InvalidLogIndexThreshold
}

// BlockRange is an inclusive [From, To] block window
type BlockRange struct {
	From uint64 `json:"from_block"`
	To   uint64 `json:"to_block"`
}

// Size returns the number of blocks covered by the range
func (r BlockRange) Size() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// Split divides the range into at most n near-equal sub-ranges, preserving
// full coverage. Used when an endpoint times out on the full window.
func (r BlockRange) Split(n int) []BlockRange {
	if n <= 1 || r.Size() <= 1 {
		return []BlockRange{r}
	}
	span := r.Size() / uint64(n)
	if span == 0 {
		span = 1
	}

	var parts []BlockRange
	from := r.From
	for i := 0; i < n && from <= r.To; i++ {
		to := from + span - 1
		if i == n-1 || to > r.To {
			to = r.To
		}
		parts = append(parts, BlockRange{From: from, To: to})
		from = to + 1
	}
	return parts
}
