package rpcpool

import (
	"context"
	"time"
)

// validateEndpoint runs spec section 4.3 step 2's per-endpoint validation:
// fetch the latest block, measure wall time, and compare the block's
// timestamp to the local clock. It probes idx directly through the pool's
// dialed client, bypassing chooseBestEndpoints entirely, so a currently
// unhealthy endpoint is still checked — this is the only path by which such
// an endpoint is ever returned to rotation.
func (p *Pool) validateEndpoint(ctx context.Context, idx int, allowedHeadBehind time.Duration) {
	p.mu.RLock()
	e := p.endpoints[idx]
	timeout := e.MaxTimeout
	p.mu.RUnlock()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := p.EthClient(idx)
	if err != nil {
		e.markValidationFailure("unreachable: " + err.Error())
		return
	}

	start := time.Now()
	header, err := client.HeaderByNumber(callCtx, nil)
	checkTime := time.Since(start)
	if err != nil {
		e.markValidationFailure("unreachable: " + err.Error())
		logger.Warn("endpoint validation failed", "endpoint", e.Name, "err", err)
		return
	}

	headBehind := time.Since(time.Unix(int64(header.Time), 0))
	if headBehind > allowedHeadBehind {
		e.markValidationFailure("head_behind")
		logger.Warn("endpoint validation found stale head", "endpoint", e.Name,
			"head_behind", headBehind, "allowed", allowedHeadBehind)
		return
	}

	e.markValidationSuccess()
	logger.Trace("endpoint validation passed", "endpoint", e.Name, "check_time", checkTime, "head_behind", headBehind)
}
