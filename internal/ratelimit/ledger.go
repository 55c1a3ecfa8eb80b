// Package ratelimit tracks the faucet mint ledger spec section 3's
// SharedState describes: how much native coin and GLM a given address has
// already drawn per chain, so the Runtime can refuse a mint once
// max_glm_allowed is exhausted instead of relying on the mint contract's
// own revert to find out. One Ledger instance is process-wide, matching
// SharedState's "single mutex protecting faucet" shape.
package ratelimit

import (
	"math/big"
	"sync"

	"github.com/golemfactory/erc20-payment-driver-go/internal/logging"
)

var logger = logging.NewModuleLogger(logging.ModuleRateLimit)

type accountKey struct {
	chainID int64
	address string
}

// Ledger tracks cumulative faucet draws per (chain, address), never reset
// for the lifetime of the process; the mint contract enforces the actual
// on-chain cap, this is an optimistic local check to avoid wasting gas on a
// mint the driver already knows will revert.
type Ledger struct {
	mu     sync.Mutex
	minted map[accountKey]*big.Int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{minted: make(map[accountKey]*big.Int)}
}

// Minted returns the cumulative amount previously recorded for an account,
// or zero if none.
func (l *Ledger) Minted(chainID int64, address string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := accountKey{chainID, address}
	if v, ok := l.minted[key]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// Allow reports whether minting amount for address on chainID would stay
// within maxAllowed (nil maxAllowed means unlimited); on success it records
// the draw immediately so concurrent callers see the updated total.
func (l *Ledger) Allow(chainID int64, address string, amount, maxAllowed *big.Int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := accountKey{chainID, address}
	current, ok := l.minted[key]
	if !ok {
		current = big.NewInt(0)
	}
	projected := new(big.Int).Add(current, amount)
	if maxAllowed != nil && projected.Cmp(maxAllowed) > 0 {
		logger.Warn("faucet rate limit refused", "chain_id", chainID, "address", address, "requested", amount.String(), "already_minted", current.String(), "max_allowed", maxAllowed.String())
		return false
	}
	l.minted[key] = projected
	return true
}

// Reverse undoes a prior Allow, used when the mint transaction is later
// force-removed instead of landing on chain.
func (l *Ledger) Reverse(chainID int64, address string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := accountKey{chainID, address}
	current, ok := l.minted[key]
	if !ok {
		return
	}
	remaining := new(big.Int).Sub(current, amount)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	l.minted[key] = remaining
}
