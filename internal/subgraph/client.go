// Package subgraph implements the historical-feed client used for backfill
// and cross-checking. Queries are paginated on the entity id and frozen
// against a snapshot block number so a feed that keeps indexing while we
// page through it cannot make us miss or duplicate records.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/internal/models"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// GraphQueryError is returned when the feed answers with GraphQL errors
type GraphQueryError struct {
	Errors json.RawMessage
}

func (e *GraphQueryError) Error() string {
	return fmt.Sprintf("graph query failed: %s", string(e.Errors))
}

// Client queries the marketplace subgraph
type Client struct {
	url        string
	pageSize   int
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a subgraph client. The configured URL must carry an
// "[api-key]" placeholder that is substituted with the API key, e.g.
// https://gateway.thegraph.com/api/[api-key]/subgraphs/id/<deployment>.
func NewClient(cfg *config.SubgraphConfig) (*Client, error) {
	if !strings.Contains(cfg.URL, "[api-key]") {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"invalid subgraph URL format",
			"expected an [api-key] placeholder in the URL")
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	return &Client{
		url:      strings.ReplaceAll(cfg.URL, "[api-key]", cfg.APIKey),
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: utils.GetLogger(),
	}, nil
}

// entityNames maps event types to their subgraph collection names
var entityNames = map[models.EventType]string{
	models.EventOfferCreated:  "offerCreateds",
	models.EventOfferAccepted: "offerAccepteds",
	models.EventOfferUpdated:  "offerUpdateds",
	models.EventOfferDeleted:  "offerDeleteds",
}

// entityFields maps event types to the fields each entity carries
var entityFields = map[models.EventType]string{
	models.EventOfferCreated:  "id offerId offerToken buyerToken seller buyer price amount transactionHash logIndex blockNumber timestamp",
	models.EventOfferAccepted: "id offerId seller buyer price amount transactionHash logIndex blockNumber timestamp",
	models.EventOfferUpdated:  "id offerId newPrice newAmount transactionHash logIndex blockNumber timestamp",
	models.EventOfferDeleted:  "id offerId transactionHash logIndex blockNumber timestamp",
}

// FetchAll returns every event of the given kind the feed knows about
func (c *Client) FetchAll(ctx context.Context, kind models.EventType) ([]models.RawEvent, error) {
	return c.fetch(ctx, kind, nil)
}

// FetchRange returns the events of the given kind within the block range
func (c *Client) FetchRange(ctx context.Context, kind models.EventType, r models.BlockRange) ([]models.RawEvent, error) {
	return c.fetch(ctx, kind, &r)
}

func (c *Client) fetch(ctx context.Context, kind models.EventType, r *models.BlockRange) ([]models.RawEvent, error) {
	entity, ok := entityNames[kind]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeSubgraph, "unknown event kind", string(kind))
	}

	snapshot, err := c.SnapshotBlock(ctx)
	if err != nil {
		return nil, err
	}

	var (
		all    []models.RawEvent
		lastID string
	)
	for {
		where := fmt.Sprintf("id_gt: %q", lastID)
		if r != nil {
			where += fmt.Sprintf(", blockNumber_gte: %q, blockNumber_lte: %q",
				strconv.FormatUint(r.From, 10), strconv.FormatUint(r.To, 10))
		}

		query := fmt.Sprintf(`query {
  %s(first: %d, where: { %s }, orderBy: id, orderDirection: asc, block: { number: %d }) {
    %s
  }
}`, entity, c.pageSize, where, snapshot, entityFields[kind])

		var page struct {
			Data map[string][]entityRecord `json:"data"`
		}
		if err := c.post(ctx, query, &page); err != nil {
			return nil, err
		}

		batch := page.Data[entity]
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			event, err := batch[i].toRawEvent(kind)
			if err != nil {
				return nil, err
			}
			all = append(all, *event)
		}
		lastID = batch[len(batch)-1].ID

		c.logger.WithFields(logrus.Fields{
			"entity":  entity,
			"fetched": len(all),
		}).Debug("Subgraph page fetched")

		if len(batch) < c.pageSize {
			break
		}
	}

	c.logger.WithFields(logrus.Fields{
		"entity":         entity,
		"events":         len(all),
		"snapshot_block": snapshot,
	}).Info("Subgraph fetch completed")

	return all, nil
}

// SnapshotBlock returns the feed's current head, used to freeze pagination
func (c *Client) SnapshotBlock(ctx context.Context) (uint64, error) {
	var meta struct {
		Data struct {
			Meta struct {
				Block struct {
					Number uint64 `json:"number"`
				} `json:"block"`
			} `json:"_meta"`
		} `json:"data"`
	}

	if err := c.post(ctx, "query { _meta { block { number } } }", &meta); err != nil {
		return 0, err
	}
	if meta.Data.Meta.Block.Number == 0 {
		return 0, utils.NewAppError(utils.ErrCodeSubgraph, "could not read snapshot block from subgraph", "")
	}
	return meta.Data.Meta.Block.Number, nil
}

// post sends one GraphQL query and decodes the response into out
func (c *Client) post(ctx context.Context, query string, out interface{}) error {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeSubgraph, "subgraph request failed", err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeSubgraph, "failed to read subgraph response", err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return utils.NewAppError(utils.ErrCodeSubgraph,
			fmt.Sprintf("subgraph returned status %d", resp.StatusCode), string(raw))
	}

	var errCheck struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(raw, &errCheck); err == nil && len(errCheck.Errors) > 0 && string(errCheck.Errors) != "null" {
		return &GraphQueryError{Errors: errCheck.Errors}
	}

	return json.Unmarshal(raw, out)
}

// entityRecord is the union of all fields the four entities can carry.
// The Graph serializes BigInt values as decimal strings.
type entityRecord struct {
	ID              string `json:"id"`
	OfferID         string `json:"offerId"`
	OfferToken      string `json:"offerToken"`
	BuyerToken      string `json:"buyerToken"`
	Seller          string `json:"seller"`
	Buyer           string `json:"buyer"`
	Price           string `json:"price"`
	Amount          string `json:"amount"`
	NewPrice        string `json:"newPrice"`
	NewAmount       string `json:"newAmount"`
	TransactionHash string `json:"transactionHash"`
	LogIndex        string `json:"logIndex"`
	BlockNumber     string `json:"blockNumber"`
	Timestamp       string `json:"timestamp"`
}

func (rec *entityRecord) toRawEvent(kind models.EventType) (*models.RawEvent, error) {
	offerID, err := strconv.ParseUint(rec.OfferID, 10, 64)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeSubgraph, "invalid offerId in subgraph record", rec.ID)
	}
	blockNumber, err := strconv.ParseUint(rec.BlockNumber, 10, 64)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeSubgraph, "invalid blockNumber in subgraph record", rec.ID)
	}
	// The feed is known to emit a corrupted logIndex of -1, surfacing here
	// as a huge unsigned value. It is carried through and dropped by the
	// applier, where it is counted.
	logIndex, err := strconv.ParseUint(rec.LogIndex, 10, 64)
	if err != nil {
		logIndex = models.InvalidLogIndexThreshold
	}

	event := &models.RawEvent{
		Topic:           kind,
		OfferID:         offerID,
		Seller:          rec.Seller,
		Buyer:           rec.Buyer,
		OfferToken:      rec.OfferToken,
		BuyerToken:      rec.BuyerToken,
		TransactionHash: rec.TransactionHash,
		LogIndex:        logIndex,
		BlockNumber:     blockNumber,
	}

	switch kind {
	case models.EventOfferUpdated:
		event.Amount = rec.NewAmount
		event.Price = rec.NewPrice
	default:
		event.Amount = rec.Amount
		event.Price = rec.Price
	}

	if rec.Timestamp != "" {
		if unix, err := strconv.ParseInt(rec.Timestamp, 10, 64); err == nil {
			ts := time.Unix(unix, 0).UTC()
			event.Timestamp = &ts
		}
	}

	return event, nil
}
