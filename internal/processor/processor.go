// Package processor drives persisted Transaction rows through the state
// machine described in spec section 4.7: NEW -> SIGNING -> BROADCAST ->
// CONFIRM -> DONE, with nonce assignment, gas estimation, fee bumping on
// stuck transactions, and parking on gas/token shortages. One Processor
// instance owns exactly one (chain, sender) pair, matching the teacher's
// one-task-per-resource loop shape (node/sc/bridge_tx_pool.go's per-account
// pending map, driven by a single owning goroutine).
package processor

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/golemfactory/erc20-payment-driver-go/internal/config"
	"github.com/golemfactory/erc20-payment-driver-go/internal/events"
	"github.com/golemfactory/erc20-payment-driver-go/internal/logging"
	"github.com/golemfactory/erc20-payment-driver-go/internal/metrics"
	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
	"github.com/golemfactory/erc20-payment-driver-go/internal/rpcpool"
	"github.com/golemfactory/erc20-payment-driver-go/internal/signer"
	"github.com/golemfactory/erc20-payment-driver-go/internal/store"
)

var logger = logging.NewModuleLogger(logging.ModuleProcessor)

// Metrics registered with internal/metrics, read back through
// metrics.Snapshot(); the name prefix matches the teacher's
// "<subsystem>/<event>" convention (node/sc/bridge_tx_pool.go's
// "bridgeTxpool/refuse").
var (
	broadcastCounter = metrics.NewRegisteredCounter("processor/broadcast")
	stuckCounter     = metrics.NewRegisteredCounter("processor/stuck")
)

const nativeTransferGas = 21000
const gasSafetyMargin = 20000

// parkReason tags why a transaction is currently parked instead of being
// actively driven; it governs the backoff schedule used to decide when to
// re-check the underlying condition.
type parkReason int

const (
	parkNone parkReason = iota
	parkNoGas
	parkNoToken
)

type parkState struct {
	reason     parkReason
	parkedAt   time.Time
	nextCheck  time.Time
	intervalSecs int64
}

// Processor drives every Transaction belonging to one (sender, chain).
type Processor struct {
	sender  string
	address common.Address
	chain   *config.ChainConfig
	engine  *config.EngineConfig

	store  store.Store
	pool   *rpcpool.Pool
	signer signer.Signer
	feed   *events.Feed

	mu    sync.Mutex
	parks map[string]*parkState
}

// New builds a Processor for one sender on one chain.
func New(addr common.Address, chain *config.ChainConfig, engine *config.EngineConfig, st store.Store, pool *rpcpool.Pool, sgn signer.Signer, feed *events.Feed) *Processor {
	return &Processor{
		sender:  addr.Hex(),
		address: addr,
		chain:   chain,
		engine:  engine,
		store:   st,
		pool:    pool,
		signer:  sgn,
		feed:    feed,
		parks:   make(map[string]*parkState),
	}
}

// Run loops on the engine's process_interval until ctx is cancelled,
// calling ProcessOnce each tick and slowing down after errors per spec
// section 6's process_interval_after_error.
func (p *Processor) Run(ctx context.Context) error {
	interval := p.engine.ProcessInterval()
	for {
		if err := p.ProcessOnce(ctx); err != nil {
			logger.Error("process pass failed", "sender", p.sender, "chain_id", p.chain.ChainID, "err", err)
			interval = time.Duration(p.engine.ProcessIntervalAfterErrorSecs) * time.Second
		} else {
			interval = p.engine.ProcessInterval()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// ProcessOnce drives the lowest-nonce unfinished transaction one step
// forward. The store already returns rows ordered (nonce asc, id asc), so
// working the head of the list preserves in-order delivery per sender.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	unlock := p.store.Lock(p.sender, p.chain.ChainID)
	defer unlock()

	txs, err := p.store.GetNextTransactionsToProcess(ctx, &p.sender, p.chain.ChainID, 1)
	if err != nil {
		return errors.Wrap(err, "fetch next transactions")
	}
	if len(txs) == 0 {
		return nil
	}
	tx := txs[0]

	if tx.Unrecoverable {
		// parked until an operator intervenes (CantSign, fatal broadcast).
		return nil
	}

	if parked, resume := p.checkPark(tx); parked && !resume {
		return nil
	}

	switch tx.State() {
	case model.TxStateNew:
		return p.stepNew(ctx, tx)
	case model.TxStateSigned:
		return p.stepSign(ctx, tx)
	case model.TxStateBroadcast:
		return p.stepConfirm(ctx, tx)
	case model.TxStateConfirmed:
		return p.finalize(ctx, tx)
	default:
		return nil
	}
}

// checkPark reports whether tx is currently parked, and whether its
// backoff window has elapsed and it should be re-tried this pass.
func (p *Processor) checkPark(tx *model.Transaction) (parked, resume bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.parks[tx.ID]
	if !ok || state.reason == parkNone {
		return false, false
	}
	if p.engine.MarkAsUnrecoverableAfterSecs > 0 && !p.engine.AutomaticRecover {
		if time.Since(state.parkedAt) > time.Duration(p.engine.MarkAsUnrecoverableAfterSecs)*time.Second {
			tx.Unrecoverable = true
			p.emitStuck(tx, events.StuckUnrecoverable)
			if p.feed != nil {
				p.feed.Send(events.NewTransferFailed(tx.ID, "marked unrecoverable after parking timeout"))
			}
			return true, false
		}
	}
	if time.Now().Before(state.nextCheck) {
		return true, false
	}
	return true, true
}

func (p *Processor) park(tx *model.Transaction, reason parkReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.parks[tx.ID]
	if !ok {
		state = &parkState{parkedAt: time.Now(), intervalSecs: p.engine.ProcessIntervalAfterNoGasOrTokenStartSecs}
		p.parks[tx.ID] = state
	} else {
		state.intervalSecs += p.engine.ProcessIntervalAfterNoGasOrTokenIncreaseSecs
		if max := p.engine.ProcessIntervalAfterNoGasOrTokenMaxSecs; max > 0 && state.intervalSecs > max {
			state.intervalSecs = max
		}
	}
	state.reason = reason
	state.nextCheck = time.Now().Add(time.Duration(state.intervalSecs) * time.Second)
}

func (p *Processor) unpark(tx *model.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.parks, tx.ID)
}

// emitStuck increments the stuck-transaction counter and, if a feed is
// attached, publishes TransactionStuck with the given discriminant.
func (p *Processor) emitStuck(tx *model.Transaction, reason events.StuckReason) {
	stuckCounter.Inc(1)
	if p.feed != nil {
		p.feed.Send(events.NewTransactionStuck(tx.ID, tx.ChainID, reason))
	}
}

// stepNew assigns a nonce, estimates gas, writes fee fields, and advances
// to SIGNING.
func (p *Processor) stepNew(ctx context.Context, tx *model.Transaction) error {
	nonce, err := p.nextNonce(ctx)
	if err != nil {
		return errors.Wrap(err, "assign nonce")
	}
	tx.Nonce = &nonce
	maxFee := p.chain.MaxFeePerGas()
	tx.MaxFeePerGas = maxFee
	tx.PriorityFee = p.chain.PriorityFee()

	gasLimit, err := p.estimateGas(ctx, tx)
	if err != nil {
		return p.handleNewFailure(ctx, tx, err)
	}
	tx.GasLimit = &gasLimit

	if err := p.store.UpdateTransaction(ctx, tx); err != nil {
		return errors.Wrap(err, "persist new transaction")
	}
	p.unpark(tx)
	return p.stepSign(ctx, tx)
}

func (p *Processor) handleNewFailure(ctx context.Context, tx *model.Transaction, cause error) error {
	msg := cause.Error()
	switch {
	case strings.Contains(msg, "gas required exceeds allowance"):
		needed := new(big.Int).Add(tx.Val, new(big.Int).Mul(big.NewInt(int64(defaultGasEstimate(tx))), tx.MaxFeePerGas))
		tx.EngineMessage = "stuck: insufficient native balance for gas, needed " + needed.String()
		p.park(tx, parkNoGas)
		p.emitStuck(tx, events.StuckNoGas)
		return p.store.UpdateTransaction(ctx, tx)
	case strings.Contains(msg, "transfer amount exceeds balance"):
		if tx.Method == model.MethodFaucetCreate && strings.Contains(msg, "cannot acquire more funds") {
			return p.store.RemoveTransactionForce(ctx, tx.ID)
		}
		tx.EngineMessage = "stuck: insufficient token balance"
		p.park(tx, parkNoToken)
		p.emitStuck(tx, events.StuckNoToken)
		return p.store.UpdateTransaction(ctx, tx)
	default:
		return cause
	}
}

func defaultGasEstimate(tx *model.Transaction) uint64 {
	if tx.GasLimit != nil {
		return *tx.GasLimit
	}
	return nativeTransferGas + gasSafetyMargin
}

// nextNonce implements spec section 4.7's monotonic nonce rule: the
// store's recorded max nonce plus one, falling back to the chain's pending
// transaction count only when the store has none recorded yet (startup or
// after a forced removal).
func (p *Processor) nextNonce(ctx context.Context) (uint64, error) {
	stored, err := p.store.GetMaxNonce(ctx, p.sender, p.chain.ChainID)
	if err != nil {
		return 0, err
	}
	if stored != nil {
		return *stored + 1, nil
	}

	var chainCount uint64
	err = p.pool.Call(ctx, "eth_getTransactionCount", func(callCtx context.Context, idx int) error {
		client, derr := p.pool.EthClient(idx)
		if derr != nil {
			return derr
		}
		count, derr := client.PendingNonceAt(callCtx, p.address)
		if derr != nil {
			return derr
		}
		chainCount = count
		return nil
	})
	if err != nil {
		return 0, err
	}
	return chainCount, nil
}

// estimateGas calls eth_estimateGas via the pool and adds the safety margin
// spec section 4.7 requires, except for the native-transfer constant.
func (p *Processor) estimateGas(ctx context.Context, tx *model.Transaction) (uint64, error) {
	to := common.HexToAddress(tx.To)
	msg := ethereum.CallMsg{
		From:  p.address,
		To:    &to,
		Value: tx.Val,
		Data:  tx.CallData,
	}

	var estimate uint64
	err := p.pool.Call(ctx, "eth_estimateGas", func(callCtx context.Context, idx int) error {
		client, derr := p.pool.EthClient(idx)
		if derr != nil {
			return derr
		}
		est, derr := client.EstimateGas(callCtx, msg)
		if derr != nil {
			return derr
		}
		estimate = est
		return nil
	})
	if err != nil {
		return 0, err
	}
	if estimate == nativeTransferGas {
		return estimate, nil
	}
	return estimate + gasSafetyMargin, nil
}
