package connection

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// Pool manages the ordered pool of live RPC endpoints. At any time two
// endpoints are active: a primary and a backup, offset by one in the pool.
// Rotate advances both round-robin after repeated primary failures.
//
// The backup exists because an individual endpoint is occasionally observed
// to omit logs; fetching the same range twice and merging closes that hole.
type Pool struct {
	urls        []string
	dialTimeout time.Duration
	logger      *logrus.Logger

	mu           sync.Mutex
	primaryIndex int
	backupIndex  int
	clients      map[string]*ethclient.Client
	rotations    uint64
}

// NewPool creates an endpoint pool from the chain configuration
func NewPool(cfg *config.ChainConfig) (*Pool, error) {
	if len(cfg.Endpoints) < 2 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"endpoint pool needs at least two endpoints", "primary and backup fetch the same range")
	}

	return &Pool{
		urls:         cfg.Endpoints,
		dialTimeout:  cfg.RequestTimeout,
		logger:       utils.GetLogger(),
		primaryIndex: 0,
		backupIndex:  1 % len(cfg.Endpoints),
		clients:      make(map[string]*ethclient.Client),
	}, nil
}

// Primary returns a client for the active primary endpoint
func (p *Pool) Primary(ctx context.Context) (*ethclient.Client, error) {
	p.mu.Lock()
	url := p.urls[p.primaryIndex]
	p.mu.Unlock()
	return p.client(ctx, url)
}

// Backup returns a client for the active backup endpoint
func (p *Pool) Backup(ctx context.Context) (*ethclient.Client, error) {
	p.mu.Lock()
	url := p.urls[p.backupIndex]
	p.mu.Unlock()
	return p.client(ctx, url)
}

// PrimaryURL returns the active primary endpoint URL
func (p *Pool) PrimaryURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.urls[p.primaryIndex]
}

// BackupURL returns the active backup endpoint URL
func (p *Pool) BackupURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.urls[p.backupIndex]
}

// Size returns the number of configured endpoints
func (p *Pool) Size() int {
	return len(p.urls)
}

// Rotate advances both the primary and backup indices round-robin
func (p *Pool) Rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.primaryIndex
	p.primaryIndex = (p.primaryIndex + 1) % len(p.urls)
	p.backupIndex = (p.backupIndex + 1) % len(p.urls)
	p.rotations++

	p.logger.WithFields(logrus.Fields{
		"old_primary": p.urls[old],
		"new_primary": p.urls[p.primaryIndex],
		"new_backup":  p.urls[p.backupIndex],
	}).Info("Rotated RPC endpoint pair")
}

// Rotations returns how many times the pool has rotated
func (p *Pool) Rotations() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}

// LatestBlockNumber returns the current chain head seen by the primary
func (p *Pool) LatestBlockNumber(ctx context.Context) (uint64, error) {
	client, err := p.Primary(ctx)
	if err != nil {
		return 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	head, err := client.BlockNumber(callCtx)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeConnection, "Failed to get latest block number", err.Error())
	}
	return head, nil
}

// Close closes every dialed client
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for url, client := range p.clients {
		client.Close()
		delete(p.clients, url)
	}
}

// client returns a cached client for the URL, dialing on first use
func (p *Pool) client(ctx context.Context, url string) (*ethclient.Client, error) {
	p.mu.Lock()
	if client, ok := p.clients[url]; ok {
		p.mu.Unlock()
		return client, nil
	}
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, url)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Failed to dial RPC endpoint", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.clients[url]; ok {
		client.Close()
		return cached, nil
	}
	p.clients[url] = client
	p.logger.WithField("url", url).Info("Dialed RPC endpoint")
	return client, nil
}
