package ratelimit

import (
	"fmt"
	"math/big"

	redis "github.com/go-redis/redis/v7"
	"github.com/pkg/errors"
)

// RedisLedger is the distributed counterpart to Ledger, for deployments
// running more than one driver process against the same accounts (spec
// section 3's SharedState is explicitly single-process; a multi-instance
// deployment needs the faucet ledger centralized instead). It keeps the
// cumulative total as a decimal string per (chain, address) key, read with
// GET and written with SET. The read and the write are separate commands, so
// two concurrent mints can both pass the check; Ledger does not have that
// gap, since it checks and records under one mutex.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger connects to addr (host:port) and returns a ready ledger.
func NewRedisLedger(addr, password string, db int) *RedisLedger {
	return &RedisLedger{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix: "erc20pd:faucet:",
	}
}

func (l *RedisLedger) key(chainID int64, address string) string {
	return fmt.Sprintf("%s%d:%s", l.prefix, chainID, address)
}

// Minted returns the cumulative amount recorded in redis for the account.
func (l *RedisLedger) Minted(chainID int64, address string) (*big.Int, error) {
	v, err := l.client.Get(l.key(chainID, address)).Result()
	if err == redis.Nil {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read faucet ledger")
	}
	out, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, errors.Errorf("corrupt faucet ledger value %q for key %s", v, l.key(chainID, address))
	}
	return out, nil
}

// Allow reports whether minting amount would stay within maxAllowed and, if
// so, records the draw. It is not atomic with the read (a GET-then-SET, not
// a Lua script), unlike Ledger.Allow.
func (l *RedisLedger) Allow(chainID int64, address string, amount, maxAllowed *big.Int) (bool, error) {
	current, err := l.Minted(chainID, address)
	if err != nil {
		return false, err
	}
	projected := new(big.Int).Add(current, amount)
	if maxAllowed != nil && projected.Cmp(maxAllowed) > 0 {
		logger.Warn("faucet rate limit refused", "chain_id", chainID, "address", address, "requested", amount.String(), "already_minted", current.String(), "max_allowed", maxAllowed.String())
		return false, nil
	}
	if err := l.client.Set(l.key(chainID, address), projected.String(), 0).Err(); err != nil {
		return false, errors.Wrap(err, "write faucet ledger")
	}
	return true, nil
}

// Reverse undoes a prior Allow.
func (l *RedisLedger) Reverse(chainID int64, address string, amount *big.Int) error {
	current, err := l.Minted(chainID, address)
	if err != nil {
		return err
	}
	remaining := new(big.Int).Sub(current, amount)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	return l.client.Set(l.key(chainID, address), remaining.String(), 0).Err()
}

// Ping checks connectivity, used at startup to fail fast on misconfigured
// redis address rather than at the first mint request.
func (l *RedisLedger) Ping() error {
	return l.client.Ping().Err()
}

// Close releases the underlying connection pool.
func (l *RedisLedger) Close() error { return l.client.Close() }
