package rpcpool

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/golemfactory/erc20-payment-driver-go/internal/events"
	"github.com/golemfactory/erc20-payment-driver-go/internal/logging"
	"github.com/golemfactory/erc20-payment-driver-go/internal/metrics"
)

var logger = logging.NewModuleLogger(logging.ModulePool)

var endpointErrorCounter = metrics.NewRegisteredCounter("rpcpool/endpoint_error")

// Pool holds every configured endpoint for one chain and dials a client
// lazily per endpoint, reusing it across calls. It is the single object the
// Processor, Gatherer and Runtime share for that chain's RPC access.
type Pool struct {
	ChainID int64

	mu        sync.RWMutex
	endpoints []*Endpoint
	clients   map[string]*rpc.Client

	validationCache *lru.Cache

	feed *events.Feed
}

// NewPool builds an empty pool for chainID; endpoints are added with Add.
func NewPool(chainID int64, feed *events.Feed) *Pool {
	cache, _ := lru.New(256)
	return &Pool{
		ChainID:         chainID,
		clients:         make(map[string]*rpc.Client),
		validationCache: cache,
		feed:            feed,
	}
}

// Add registers a statically configured endpoint (spec section 6,
// "<CHAIN>_GETH_ADDR"/backup endpoint lists). The Resolver adds endpoints
// found by its membership sources through this same method.
func (p *Pool) Add(name, url string, level BackupLevel, maxTimeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints = append(p.endpoints, newEndpoint(name, url, p.ChainID, level, maxTimeout))
}

// Endpoints returns a snapshot of every endpoint currently known, healthy or
// not — used by the Resolver's periodic validation pass.
func (p *Pool) Endpoints() []*Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// chooseResult is choose_best_endpoints' return shape: the ordered indices
// of candidate endpoints to try this round, and whether resolution of new
// endpoints is still in flight (in which case an empty result is not fatal).
type chooseResult struct {
	allowed    []int
	isResolving bool
}

// chooseBestEndpoints picks the lowest backup level that has at least one
// healthy endpoint, then orders that level's endpoints by score descending.
func (p *Pool) chooseBestEndpoints() chooseResult {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.endpoints) == 0 {
		return chooseResult{}
	}

	byLevel := make(map[BackupLevel][]int)
	for i, e := range p.endpoints {
		if !e.Healthy() {
			continue
		}
		byLevel[e.BackupLevel] = append(byLevel[e.BackupLevel], i)
	}
	if len(byLevel) == 0 {
		return chooseResult{}
	}

	levels := make([]BackupLevel, 0, len(byLevel))
	for l := range byLevel {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	best := levels[0]
	idxs := byLevel[best]
	sort.Slice(idxs, func(i, j int) bool {
		return p.endpoints[idxs[i]].ScoreEffective() > p.endpoints[idxs[j]].ScoreEffective()
	})
	return chooseResult{allowed: idxs}
}

func (p *Pool) markSuccess(idx int, method string) {
	p.mu.RLock()
	e := p.endpoints[idx]
	p.mu.RUnlock()
	e.markSuccess()
	logger.Trace("rpc call succeeded", "endpoint", e.Name, "method", method)
	if p.feed != nil {
		p.feed.Send(events.NewWeb3RpcSuccess(p.ChainID, e.Name))
	}
}

func (p *Pool) markError(idx int, method, reason string) {
	p.mu.RLock()
	e := p.endpoints[idx]
	p.mu.RUnlock()
	e.markError(reason)
	endpointErrorCounter.Inc(1)
	logger.Warn("rpc call failed", "endpoint", e.Name, "method", method, "error", reason)
	if p.feed != nil {
		p.feed.Send(events.NewWeb3RpcError(p.ChainID, e.Name, reason))
	}
}

func (p *Pool) nameOf(idx int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endpoints[idx].Name
}

func (p *Pool) maxTimeoutOf(idx int) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endpoints[idx].MaxTimeout
}

// rpcClient dials (once) and returns the raw JSON-RPC client for an
// endpoint, in the idiom of client.Client.c.CallContext.
func (p *Pool) rpcClient(idx int) (*rpc.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.endpoints[idx]
	if c, ok := p.clients[e.URL]; ok {
		return c, nil
	}
	c, err := rpc.Dial(e.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial endpoint %s", e.Name)
	}
	p.clients[e.URL] = c
	return c, nil
}

// EthClient returns a go-ethereum ethclient.Client wrapping the same
// connection, for calls expressed in terms of ethclient's richer API
// (estimate gas, receipts) rather than a raw method name.
func (p *Pool) EthClient(idx int) (*ethclient.Client, error) {
	c, err := p.rpcClient(idx)
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(c), nil
}

// Close tears down every dialed client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.Close()
	}
}
