package fetcher

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/realtoken-community/yam-indexer/internal/models"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// Known topic hashes of the YAM v1 marketplace events
var (
	TopicOfferCreated  = common.HexToHash("0x9fa2d733a579251ad3a2286bebb5db74c062332de37e4904aa156729c4b38a65")
	TopicOfferDeleted  = common.HexToHash("0x88686b85d6f2c3ab9a04e4f15a22fcfa025ffd97226dcf0a67cdf682def55676")
	TopicOfferAccepted = common.HexToHash("0x0fe687b89794caf9729d642df21576cbddc748b0c8c7a5e1ec39f3a46bd00410")
	TopicOfferUpdated  = common.HexToHash("0xc26a0a1f023ef119f120b3d9843d9e77dc8f66bbc0ea91d48d6dd39b8e351178")
)

// AllTopics covers every marketplace event
var AllTopics = []common.Hash{TopicOfferCreated, TopicOfferAccepted, TopicOfferUpdated, TopicOfferDeleted}

// LifecycleTopics covers the non-creation events
var LifecycleTopics = []common.Hash{TopicOfferAccepted, TopicOfferUpdated, TopicOfferDeleted}

// LogSource is the capability of fetching decoded marketplace events for a
// block range from one live endpoint. The dual fetcher holds two instances,
// one per redundant endpoint.
type LogSource interface {
	// FetchLogs returns the decoded events emitted by the marketplace
	// contract in [r.From, r.To] matching the given topics.
	FetchLogs(ctx context.Context, r models.BlockRange, topics []common.Hash) ([]models.RawEvent, error)
	// Name identifies the backing endpoint for logging
	Name() string
}

// ClientPool supplies the active primary/backup clients. Implemented by
// connection.Pool; narrowed here so tests can substitute fakes.
type ClientPool interface {
	Primary(ctx context.Context) (*ethclient.Client, error)
	Backup(ctx context.Context) (*ethclient.Client, error)
	PrimaryURL() string
	BackupURL() string
}

type poolRole int

const (
	rolePrimary poolRole = iota
	roleBackup
)

// ethLogSource fetches via eth_getLogs on one role of the client pool and
// decodes the raw logs into normalized records. Because it resolves the
// client through the pool on every call, endpoint rotation takes effect
// without re-wiring.
type ethLogSource struct {
	pool     ClientPool
	role     poolRole
	contract common.Address
}

// NewPrimarySource returns a LogSource bound to the pool's primary endpoint
func NewPrimarySource(pool ClientPool, contract string) LogSource {
	return &ethLogSource{pool: pool, role: rolePrimary, contract: common.HexToAddress(contract)}
}

// NewBackupSource returns a LogSource bound to the pool's backup endpoint
func NewBackupSource(pool ClientPool, contract string) LogSource {
	return &ethLogSource{pool: pool, role: roleBackup, contract: common.HexToAddress(contract)}
}

func (s *ethLogSource) Name() string {
	if s.role == rolePrimary {
		return s.pool.PrimaryURL()
	}
	return s.pool.BackupURL()
}

func (s *ethLogSource) FetchLogs(ctx context.Context, r models.BlockRange, topics []common.Hash) ([]models.RawEvent, error) {
	var (
		client *ethclient.Client
		err    error
	)
	if s.role == rolePrimary {
		client, err = s.pool.Primary(ctx)
	} else {
		client, err = s.pool.Backup(ctx)
	}
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.From),
		ToBlock:   new(big.Int).SetUint64(r.To),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{topics},
	}

	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeFetch, "eth_getLogs failed", err)
	}

	events := make([]models.RawEvent, 0, len(logs))
	for _, log := range logs {
		event, err := DecodeLog(&log)
		if err != nil {
			// Decode mismatch is a data-quality failure, not a fetch
			// failure; the record is unusable either way.
			return nil, err
		}
		events = append(events, *event)
	}
	return events, nil
}

// DecodeLog decodes one raw marketplace log into a normalized record.
// Word layout per event (32-byte big-endian words in Data, indexed fields in
// Topics):
//
//	OfferCreated(offerToken idx, buyerToken idx, seller, buyer, offerId, price, amount)
//	OfferAccepted(offerId idx, seller idx, buyer idx, offerToken, buyerToken, price, amount)
//	OfferUpdated(offerId idx, oldPrice, newPrice idx, oldAmount, newAmount idx)
//	OfferDeleted(offerId idx)
func DecodeLog(log *types.Log) (*models.RawEvent, error) {
	if len(log.Topics) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeFetch, "log without topics", log.TxHash.Hex())
	}

	event := &models.RawEvent{
		TransactionHash: log.TxHash.Hex(),
		LogIndex:        uint64(log.Index),
		BlockNumber:     log.BlockNumber,
	}

	switch log.Topics[0] {
	case TopicOfferCreated:
		if len(log.Topics) != 3 || len(log.Data) < 5*32 {
			return nil, decodeErr("OfferCreated", log)
		}
		event.Topic = models.EventOfferCreated
		event.OfferToken = common.BytesToAddress(log.Topics[1].Bytes()).Hex()
		event.BuyerToken = common.BytesToAddress(log.Topics[2].Bytes()).Hex()
		event.Seller = common.BytesToAddress(log.Data[0*32+12 : 1*32]).Hex()
		event.Buyer = common.BytesToAddress(log.Data[1*32+12 : 2*32]).Hex()
		event.OfferID = word(log.Data, 2).Uint64()
		event.Price = word(log.Data, 3).String()
		event.Amount = word(log.Data, 4).String()

	case TopicOfferAccepted:
		if len(log.Topics) != 4 || len(log.Data) < 4*32 {
			return nil, decodeErr("OfferAccepted", log)
		}
		event.Topic = models.EventOfferAccepted
		event.OfferID = new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64()
		event.Seller = common.BytesToAddress(log.Topics[2].Bytes()).Hex()
		event.Buyer = common.BytesToAddress(log.Topics[3].Bytes()).Hex()
		event.OfferToken = common.BytesToAddress(log.Data[0*32+12 : 1*32]).Hex()
		event.BuyerToken = common.BytesToAddress(log.Data[1*32+12 : 2*32]).Hex()
		event.Price = word(log.Data, 2).String()
		event.Amount = word(log.Data, 3).String()

	case TopicOfferUpdated:
		if len(log.Topics) != 4 {
			return nil, decodeErr("OfferUpdated", log)
		}
		event.Topic = models.EventOfferUpdated
		event.OfferID = new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64()
		event.Price = new(big.Int).SetBytes(log.Topics[2].Bytes()).String()
		event.Amount = new(big.Int).SetBytes(log.Topics[3].Bytes()).String()

	case TopicOfferDeleted:
		if len(log.Topics) != 2 {
			return nil, decodeErr("OfferDeleted", log)
		}
		event.Topic = models.EventOfferDeleted
		event.OfferID = new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64()

	default:
		return nil, utils.NewAppError(utils.ErrCodeFetch, "unknown event topic", log.Topics[0].Hex())
	}

	return event, nil
}

func word(data []byte, i int) *big.Int {
	return new(big.Int).SetBytes(data[i*32 : (i+1)*32])
}

func decodeErr(name string, log *types.Log) error {
	return utils.NewAppError(utils.ErrCodeFetch,
		fmt.Sprintf("malformed %s log", name),
		fmt.Sprintf("tx %s index %d", log.TxHash.Hex(), log.Index))
}
