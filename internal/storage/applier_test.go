package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/internal/models"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	store, err := NewStore(&config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "indexer_test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func rawCreated(offerID, block, logIndex uint64, amount string) models.RawEvent {
	return models.RawEvent{
		Topic:           models.EventOfferCreated,
		OfferID:         offerID,
		Seller:          "0x1111111111111111111111111111111111111111",
		OfferToken:      "0x2222222222222222222222222222222222222222",
		BuyerToken:      "0x3333333333333333333333333333333333333333",
		Amount:          amount,
		Price:           "1000000",
		TransactionHash: "0xaaa1",
		LogIndex:        logIndex,
		BlockNumber:     block,
	}
}

func rawAccepted(offerID, block, logIndex uint64, amount, txHash string) models.RawEvent {
	return models.RawEvent{
		Topic:           models.EventOfferAccepted,
		OfferID:         offerID,
		Buyer:           "0x4444444444444444444444444444444444444444",
		Amount:          amount,
		Price:           "1000000",
		TransactionHash: txHash,
		LogIndex:        logIndex,
		BlockNumber:     block,
	}
}

func TestApplyCreatedThenAccepted(t *testing.T) {
	store := newTestStore(t)
	applier := NewEventApplier(store, nil)
	ctx := context.Background()

	batch := []models.RawEvent{
		rawCreated(0, 100, 1, "100"),
		rawAccepted(0, 101, 1, "100", "0xbbb1"),
	}
	result, err := applier.Apply(ctx, batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 0, result.Skipped)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	offer, events, err := store.OfferHistory(ctx, tx, 0)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, models.StatusSoldOut, offer.Status)
	assert.Len(t, events, 1)
	assert.Equal(t, models.EventOfferAccepted, events[0].EventType)
}

func TestApplyIdempotent(t *testing.T) {
	store := newTestStore(t)
	applier := NewEventApplier(store, nil)
	ctx := context.Background()

	batch := []models.RawEvent{
		rawCreated(0, 100, 1, "100"),
		rawAccepted(0, 101, 1, "40", "0xbbb1"),
	}

	// Replaying the same batch must not duplicate rows
	for i := 0; i < 3; i++ {
		_, err := applier.Apply(ctx, batch, nil)
		require.NoError(t, err)
	}

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	offer, events, err := store.OfferHistory(ctx, tx, 0)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Len(t, events, 1)
}

func TestApplyDropsInvalidLogIndex(t *testing.T) {
	store := newTestStore(t)
	applier := NewEventApplier(store, nil)
	ctx := context.Background()

	// 4294967295 is the feed's -1 logIndex cast to unsigned
	corrupted := rawAccepted(0, 101, 4294967295, "40", "0xbbb1")

	result, err := applier.Apply(ctx, []models.RawEvent{
		rawCreated(0, 100, 1, "100"),
		corrupted,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 1, result.DroppedInvalid)
	assert.Equal(t, uint64(1), applier.DroppedInvalidLogIndex())

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, events, err := store.OfferHistory(ctx, tx, 0)
	require.NoError(t, err)
	assert.Empty(t, events, "corrupted record must never reach the database")
}

func TestApplyAcceptedKeepsInProgressUnwritten(t *testing.T) {
	store := newTestStore(t)
	applier := NewEventApplier(store, nil)
	ctx := context.Background()

	_, err := applier.Apply(ctx, []models.RawEvent{
		rawCreated(0, 100, 1, "100"),
		rawAccepted(0, 101, 1, "40", "0xbbb1"),
	}, nil)
	require.NoError(t, err)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	offer, _, err := store.OfferHistory(ctx, tx, 0)
	require.NoError(t, err)
	require.NotNil(t, offer)
	// Partial purchase derives InProgress, which an Accepted event does not
	// write; the column stays empty until an Updated/Deleted/SoldOut.
	assert.Equal(t, models.StatusUnresolved, offer.Status)
}

func TestApplyUpdatedSetsInProgress(t *testing.T) {
	store := newTestStore(t)
	applier := NewEventApplier(store, nil)
	ctx := context.Background()

	_, err := applier.Apply(ctx, []models.RawEvent{
		rawCreated(0, 100, 1, "100"),
		{
			Topic:           models.EventOfferUpdated,
			OfferID:         0,
			Amount:          "50",
			Price:           "2000000",
			TransactionHash: "0xccc1",
			LogIndex:        1,
			BlockNumber:     102,
		},
	}, nil)
	require.NoError(t, err)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	offer, events, err := store.OfferHistory(ctx, tx, 0)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, models.StatusInProgress, offer.Status)
	require.Len(t, events, 1)
	assert.Equal(t, "50", events[0].NewAmount)
	assert.Equal(t, "2000000", events[0].NewPrice)
}

func TestApplyDeletedSetsDeleted(t *testing.T) {
	store := newTestStore(t)
	applier := NewEventApplier(store, nil)
	ctx := context.Background()

	_, err := applier.Apply(ctx, []models.RawEvent{
		rawCreated(0, 100, 1, "100"),
		{
			Topic:           models.EventOfferDeleted,
			OfferID:         0,
			TransactionHash: "0xddd1",
			LogIndex:        1,
			BlockNumber:     103,
		},
	}, nil)
	require.NoError(t, err)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	offer, _, err := store.OfferHistory(ctx, tx, 0)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, models.StatusDeleted, offer.Status)
}

func TestApplySkipsFailingRecord(t *testing.T) {
	store := newTestStore(t)
	applier := NewEventApplier(store, nil)
	ctx := context.Background()

	// The lifecycle event references an offer that does not exist, so the
	// foreign key rejects it; the valid creation in the same batch must
	// still land.
	result, err := applier.Apply(ctx, []models.RawEvent{
		rawAccepted(999, 101, 1, "40", "0xbbb1"),
		rawCreated(0, 100, 1, "100"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 1, result.Skipped)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	offer, _, err := store.OfferHistory(ctx, tx, 0)
	require.NoError(t, err)
	assert.NotNil(t, offer)
}

func TestApplyAdvancesWatermark(t *testing.T) {
	store := newTestStore(t)
	applier := NewEventApplier(store, nil)
	ctx := context.Background()

	r := models.BlockRange{From: 100, To: 102}
	_, err := applier.Apply(ctx, []models.RawEvent{rawCreated(0, 100, 1, "100")}, &r)
	require.NoError(t, err)

	last, ok, err := store.LastIndexedBlock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(102), last)
}

func TestApplyDefaultsTimestamp(t *testing.T) {
	store := newTestStore(t)
	applier := NewEventApplier(store, nil)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Minute)
	_, err := applier.Apply(ctx, []models.RawEvent{rawCreated(0, 100, 1, "100")}, nil)
	require.NoError(t, err)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	offer, _, err := store.OfferHistory(ctx, tx, 0)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.True(t, offer.CreationTimestamp.After(before))
}
