package models

import "time"

// OfferStatus is the derived lifecycle status of an offer
type OfferStatus string

const (
	StatusInProgress OfferStatus = "InProgress"
	StatusSoldOut    OfferStatus = "SoldOut"
	StatusDeleted    OfferStatus = "Deleted"

	// StatusUnresolved means the history does not allow a safe derivation
	// (negative remainder, missing baseline). It is never written back.
	StatusUnresolved OfferStatus = ""
)

// EventType identifies one of the four marketplace events
type EventType string

const (
	EventOfferCreated  EventType = "OfferCreated"
	EventOfferAccepted EventType = "OfferAccepted"
	EventOfferUpdated  EventType = "OfferUpdated"
	EventOfferDeleted  EventType = "OfferDeleted"
)

// Offer represents one marketplace sell listing, created exactly once by the
// first OfferCreated event seen for its id. Amounts are stored as decimal
// strings because on-chain values exceed int64.
type Offer struct {
	OfferID           uint64      `json:"offer_id" db:"offer_id"`
	SellerAddress     string      `json:"seller_address" db:"seller_address"`
	InitialAmount     string      `json:"initial_amount" db:"initial_amount"`
	PricePerUnit      string      `json:"price_per_unit" db:"price_per_unit"`
	OfferToken        string      `json:"offer_token" db:"offer_token"`
	BuyerToken        string      `json:"buyer_token" db:"buyer_token"`
	TransactionHash   string      `json:"transaction_hash" db:"transaction_hash"`
	BlockNumber       uint64      `json:"block_number" db:"block_number"`
	LogIndex          uint64      `json:"log_index" db:"log_index"`
	CreationTimestamp time.Time   `json:"creation_timestamp" db:"creation_timestamp"`
	Status            OfferStatus `json:"status" db:"status"`
}

// OfferEvent represents one lifecycle event (Accepted, Updated or Deleted)
// applied to an offer. UniqueID is derived from (transaction hash, log index)
// and enforces idempotent insertion.
type OfferEvent struct {
	OfferID         uint64    `json:"offer_id" db:"offer_id"`
	EventType       EventType `json:"event_type" db:"event_type"`
	BuyerAddress    string    `json:"buyer_address,omitempty" db:"buyer_address"`
	AmountBought    string    `json:"amount_bought,omitempty" db:"amount_bought"`
	PriceBought     string    `json:"price_bought,omitempty" db:"price_bought"`
	NewAmount       string    `json:"new_amount,omitempty" db:"new_amount"`
	NewPrice        string    `json:"new_price,omitempty" db:"new_price"`
	TransactionHash string    `json:"transaction_hash" db:"transaction_hash"`
	BlockNumber     uint64    `json:"block_number" db:"block_number"`
	LogIndex        uint64    `json:"log_index" db:"log_index"`
	UniqueID        string    `json:"unique_id" db:"unique_id"`
	EventTimestamp  time.Time `json:"event_timestamp" db:"event_timestamp"`
}

// IndexedRange is one row of the indexing_state watermark table
type IndexedRange struct {
	IndexingID int64  `json:"indexing_id" db:"indexing_id"`
	FromBlock  uint64 `json:"from_block" db:"from_block"`
	ToBlock    uint64 `json:"to_block" db:"to_block"`
}
