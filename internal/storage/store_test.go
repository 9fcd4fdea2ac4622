package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/internal/models"
)

func mergeRange(t *testing.T, store Store, r models.BlockRange) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, store.MergeIndexedRange(ctx, tx, r))
	require.NoError(t, tx.Commit())
}

func watermarkRows(t *testing.T, store *SQLiteStore) []models.IndexedRange {
	t.Helper()
	rows, err := store.db.Query(
		`SELECT indexing_id, from_block, to_block FROM indexing_state ORDER BY indexing_id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []models.IndexedRange
	for rows.Next() {
		var r models.IndexedRange
		require.NoError(t, rows.Scan(&r.IndexingID, &r.FromBlock, &r.ToBlock))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := newTestStore(t)
	sqlite, ok := store.(*SQLiteStore)
	require.True(t, ok)
	return sqlite
}

func TestMergeIndexedRangeFirstInsert(t *testing.T) {
	store := newTestSQLiteStore(t)
	mergeRange(t, store, models.BlockRange{From: 10, To: 20})

	rows := watermarkRows(t, store)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(10), rows[0].FromBlock)
	assert.Equal(t, uint64(20), rows[0].ToBlock)
}

func TestMergeIndexedRangeExtendsContiguous(t *testing.T) {
	store := newTestSQLiteStore(t)
	mergeRange(t, store, models.BlockRange{From: 10, To: 20})
	mergeRange(t, store, models.BlockRange{From: 21, To: 30})

	rows := watermarkRows(t, store)
	require.Len(t, rows, 1, "a contiguous range extends in place")
	assert.Equal(t, uint64(10), rows[0].FromBlock)
	assert.Equal(t, uint64(30), rows[0].ToBlock)
}

func TestMergeIndexedRangeExtendsOverlapping(t *testing.T) {
	store := newTestSQLiteStore(t)
	mergeRange(t, store, models.BlockRange{From: 10, To: 20})
	mergeRange(t, store, models.BlockRange{From: 15, To: 25})

	rows := watermarkRows(t, store)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(25), rows[0].ToBlock)
}

func TestMergeIndexedRangeDisjointInsertsRow(t *testing.T) {
	store := newTestSQLiteStore(t)
	mergeRange(t, store, models.BlockRange{From: 10, To: 20})
	mergeRange(t, store, models.BlockRange{From: 50, To: 60})

	rows := watermarkRows(t, store)
	require.Len(t, rows, 2, "a gap leaves a new row recording it")
	assert.Equal(t, uint64(60), rows[1].ToBlock)

	last, ok, err := store.LastIndexedBlock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(60), last)
}

func TestMergeIndexedRangeIgnoresStale(t *testing.T) {
	store := newTestSQLiteStore(t)
	mergeRange(t, store, models.BlockRange{From: 10, To: 30})
	// Entirely behind the watermark: a reconciliation replay, nothing to do
	mergeRange(t, store, models.BlockRange{From: 12, To: 18})

	rows := watermarkRows(t, store)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(30), rows[0].ToBlock)
}

func TestLastIndexedBlockEmpty(t *testing.T) {
	store := newTestSQLiteStore(t)

	_, ok, err := store.LastIndexedBlock(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	has, err := store.HasIndexingState(context.Background())
	require.NoError(t, err)
	assert.False(t, has)
}

func TestHasIndexingState(t *testing.T) {
	store := newTestSQLiteStore(t)
	mergeRange(t, store, models.BlockRange{From: 10, To: 20})

	has, err := store.HasIndexingState(context.Background())
	require.NoError(t, err)
	assert.True(t, has)
}

func TestOfferIntegrityEmpty(t *testing.T) {
	store := newTestSQLiteStore(t)

	maxID, count, err := store.OfferIntegrity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(-1), maxID)
	assert.Equal(t, int64(0), count)
}

func TestOfferIntegrityCounts(t *testing.T) {
	store := newTestSQLiteStore(t)
	applier := NewEventApplier(store, nil)
	ctx := context.Background()

	_, err := applier.Apply(ctx, []models.RawEvent{
		rawCreated(0, 100, 1, "100"),
		{Topic: models.EventOfferCreated, OfferID: 1, Seller: "0x01", OfferToken: "0x02",
			BuyerToken: "0x03", Amount: "5", Price: "1", TransactionHash: "0xaaa2",
			LogIndex: 2, BlockNumber: 100},
	}, nil)
	require.NoError(t, err)

	maxID, count, err := store.OfferIntegrity(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), maxID)
	assert.Equal(t, int64(2), count)
}

func TestEnqueueAcceptedEvent(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnqueueAcceptedEvent(ctx, []byte(`{"offer_id":1}`)))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM event_queue`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	_, err := NewStore(&config.StorageConfig{Type: "oracle"})
	assert.Error(t, err)
}
