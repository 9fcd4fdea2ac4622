package status

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/realtoken-community/yam-indexer/internal/models"
)

func offer(initial string) *models.Offer {
	return &models.Offer{OfferID: 1, InitialAmount: initial}
}

func accepted(block, logIndex uint64, amount string) *models.OfferEvent {
	return &models.OfferEvent{
		OfferID:      1,
		EventType:    models.EventOfferAccepted,
		AmountBought: amount,
		BlockNumber:  block,
		LogIndex:     logIndex,
	}
}

func updated(block, logIndex uint64, newAmount string) *models.OfferEvent {
	return &models.OfferEvent{
		OfferID:     1,
		EventType:   models.EventOfferUpdated,
		NewAmount:   newAmount,
		BlockNumber: block,
		LogIndex:    logIndex,
	}
}

func deleted(block, logIndex uint64) *models.OfferEvent {
	return &models.OfferEvent{
		OfferID:     1,
		EventType:   models.EventOfferDeleted,
		BlockNumber: block,
		LogIndex:    logIndex,
	}
}

func TestDeriveNoEvents(t *testing.T) {
	assert.Equal(t, models.StatusInProgress, Derive(offer("100"), nil))
}

func TestDeriveSingleFullPurchase(t *testing.T) {
	events := []*models.OfferEvent{accepted(10, 0, "100")}
	assert.Equal(t, models.StatusSoldOut, Derive(offer("100"), events))
}

func TestDerivePartialThenRemainder(t *testing.T) {
	events := []*models.OfferEvent{
		accepted(10, 0, "40"),
		accepted(11, 0, "60"),
	}
	assert.Equal(t, models.StatusSoldOut, Derive(offer("100"), events))
}

func TestDerivePartialLeavesInProgress(t *testing.T) {
	events := []*models.OfferEvent{accepted(10, 0, "40")}
	assert.Equal(t, models.StatusInProgress, Derive(offer("100"), events))
}

func TestDeriveUpdatedResetsBaseline(t *testing.T) {
	// Purchases before the update are discarded; only the 50 bought after
	// the reset count against the new amount.
	events := []*models.OfferEvent{
		accepted(10, 0, "80"),
		updated(11, 0, "50"),
		accepted(12, 0, "50"),
	}
	assert.Equal(t, models.StatusSoldOut, Derive(offer("100"), events))
}

func TestDeriveTrailingDeletedWins(t *testing.T) {
	events := []*models.OfferEvent{
		accepted(10, 0, "100"),
		deleted(11, 0),
	}
	assert.Equal(t, models.StatusDeleted, Derive(offer("100"), events))
}

func TestDeriveDeletedNotTrailing(t *testing.T) {
	// A deletion followed by an update means the offer came back
	events := []*models.OfferEvent{
		deleted(10, 0),
		updated(11, 0, "30"),
	}
	assert.Equal(t, models.StatusInProgress, Derive(offer("100"), events))
}

func TestDeriveOversoldIsUnresolved(t *testing.T) {
	events := []*models.OfferEvent{
		accepted(10, 0, "70"),
		accepted(11, 0, "70"),
	}
	assert.Equal(t, models.StatusUnresolved, Derive(offer("100"), events))
}

func TestDeriveUnparsableBaselineIsUnresolved(t *testing.T) {
	assert.Equal(t, models.StatusUnresolved, Derive(offer("not-a-number"), nil))
}

func TestDeriveNilOffer(t *testing.T) {
	assert.Equal(t, models.StatusUnresolved, Derive(nil, nil))
}

func TestDeriveOrderIndependent(t *testing.T) {
	// The caller may supply events in any order; the derivation sorts by
	// (block_number, log_index) before replaying.
	inOrder := []*models.OfferEvent{
		accepted(10, 0, "80"),
		updated(11, 0, "50"),
		accepted(12, 0, "20"),
	}
	shuffled := []*models.OfferEvent{inOrder[2], inOrder[0], inOrder[1]}

	assert.Equal(t, Derive(offer("100"), inOrder), Derive(offer("100"), shuffled))
	assert.Equal(t, models.StatusInProgress, Derive(offer("100"), shuffled))
}

func TestDeriveSameBlockOrdersByLogIndex(t *testing.T) {
	// Update and purchase in the same block: log index decides which one is
	// the reset point.
	events := []*models.OfferEvent{
		accepted(10, 5, "50"),
		updated(10, 2, "50"),
	}
	assert.Equal(t, models.StatusSoldOut, Derive(offer("100"), events))
}

func TestDeriveLargeAmounts(t *testing.T) {
	// On-chain token amounts exceed int64
	events := []*models.OfferEvent{
		accepted(10, 0, "123456789012345678901234567890"),
	}
	assert.Equal(t, models.StatusSoldOut, Derive(offer("123456789012345678901234567890"), events))
}
