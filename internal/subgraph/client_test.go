package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/internal/models"
)

func testConfig(url string) *config.SubgraphConfig {
	return &config.SubgraphConfig{
		URL:            url + "/api/[api-key]/subgraphs/id/test",
		APIKey:         "test-key",
		PageSize:       2,
		RequestTimeout: 5 * time.Second,
	}
}

func record(id string, offerID, block, logIndex uint64) map[string]string {
	return map[string]string{
		"id":              id,
		"offerId":         fmt.Sprintf("%d", offerID),
		"offerToken":      "0x3333333333333333333333333333333333333333",
		"buyerToken":      "0x4444444444444444444444444444444444444444",
		"seller":          "0x1111111111111111111111111111111111111111",
		"buyer":           "0x0000000000000000000000000000000000000000",
		"price":           "1000000",
		"amount":          "500",
		"transactionHash": "0x" + id,
		"logIndex":        fmt.Sprintf("%d", logIndex),
		"blockNumber":     fmt.Sprintf("%d", block),
		"timestamp":       "1700000000",
	}
}

// fakeGraph answers _meta and offerCreateds queries with id_gt pagination
type fakeGraph struct {
	records  []map[string]string
	requests []string
}

func (g *fakeGraph) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		g.requests = append(g.requests, req.Query)

		if strings.Contains(req.Query, "_meta") {
			fmt.Fprint(w, `{"data":{"_meta":{"block":{"number":25600000}}}}`)
			return
		}

		lastID := extractQuoted(req.Query, "id_gt: ")
		var page []map[string]string
		for _, rec := range g.records {
			if rec["id"] > lastID && len(page) < 2 {
				page = append(page, rec)
			}
		}
		if page == nil {
			page = []map[string]string{}
		}
		resp := map[string]interface{}{
			"data": map[string]interface{}{"offerCreateds": page},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func extractQuoted(query, marker string) string {
	idx := strings.Index(query, marker)
	if idx < 0 {
		return ""
	}
	rest := query[idx+len(marker)+1:]
	return rest[:strings.Index(rest, `"`)]
}

func TestNewClientRequiresPlaceholder(t *testing.T) {
	_, err := NewClient(&config.SubgraphConfig{URL: "https://example.test/subgraph"})
	assert.Error(t, err)
}

func TestFetchAllPaginates(t *testing.T) {
	graph := &fakeGraph{records: []map[string]string{
		record("a1", 0, 25530400, 1),
		record("a2", 1, 25530410, 2),
		record("a3", 2, 25530420, 1),
	}}
	server := httptest.NewServer(graph.handler(t))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	events, err := client.FetchAll(context.Background(), models.EventOfferCreated)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, uint64(0), events[0].OfferID)
	assert.Equal(t, uint64(2), events[2].OfferID)
	assert.Equal(t, "500", events[0].Amount)
	require.NotNil(t, events[0].Timestamp)
	assert.Equal(t, int64(1700000000), events[0].Timestamp.Unix())

	// one _meta query plus two pages (page of 2, then page of 1)
	require.Len(t, graph.requests, 3)
	assert.Contains(t, graph.requests[1], "block: { number: 25600000 }",
		"pagination must be frozen against the snapshot block")
}

func TestFetchRangeAddsBlockBounds(t *testing.T) {
	graph := &fakeGraph{records: []map[string]string{record("a1", 0, 25530400, 1)}}
	server := httptest.NewServer(graph.handler(t))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.FetchRange(context.Background(), models.EventOfferCreated,
		models.BlockRange{From: 25530000, To: 25540000})
	require.NoError(t, err)

	require.Len(t, graph.requests, 2)
	assert.Contains(t, graph.requests[1], `blockNumber_gte: "25530000"`)
	assert.Contains(t, graph.requests[1], `blockNumber_lte: "25540000"`)
}

func TestFetchAllMapsCorruptedLogIndex(t *testing.T) {
	rec := record("a1", 0, 25530400, 1)
	rec["logIndex"] = "-1"
	graph := &fakeGraph{records: []map[string]string{rec}}
	server := httptest.NewServer(graph.handler(t))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	events, err := client.FetchAll(context.Background(), models.EventOfferCreated)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].HasInvalidLogIndex(),
		"an unparsable logIndex must surface as droppable, not fail the fetch")
}

func TestFetchAllGraphErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"indexing error"}]}`)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.FetchAll(context.Background(), models.EventOfferCreated)
	require.Error(t, err)

	var graphErr *GraphQueryError
	assert.ErrorAs(t, err, &graphErr)
}

func TestFetchAllHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.FetchAll(context.Background(), models.EventOfferCreated)
	assert.Error(t, err)
}
