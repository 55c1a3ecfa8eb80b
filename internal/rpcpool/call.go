package rpcpool

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/golemfactory/erc20-payment-driver-go/internal/events"
)

// ErrAllEndpointsUnreachable is returned once a call has exhausted the
// retry budget against every known endpoint.
var ErrAllEndpointsUnreachable = errors.New("rpcpool: all endpoints unreachable")

// backoffSchedule is the fixed wait between retry waves: 800, 1200, 2000,
// 2800 ms, max total wait 6800ms, mirroring the original driver's
// eth_generic_call retry loop exactly.
var backoffSchedule = [4]time.Duration{
	800 * time.Millisecond,
	1200 * time.Millisecond,
	2000 * time.Millisecond,
	2800 * time.Millisecond,
}

const retryWaves = len(backoffSchedule)

// CallFn performs one JSON-RPC call against the dialed client for the given
// endpoint index and returns the raw or decoded result.
type CallFn func(ctx context.Context, idx int) error

// Call runs fn against the pool's healthiest endpoints, retrying across
// backoff waves exactly as eth_generic_call does: each wave tries every
// currently-allowed endpoint in score order, a "proper" RPC error (the node
// answered, the chain rejected the call) returns immediately without
// penalizing the endpoint, and a transport/timeout error penalizes the
// endpoint and moves to the next one in the wave.
func (p *Pool) Call(ctx context.Context, method string, fn CallFn) error {
	var lastErr error
	for wave := 0; wave < retryWaves; wave++ {
		choice := p.chooseBestEndpoints()
		if len(choice.allowed) == 0 {
			if p.feed != nil {
				p.feed.Send(events.NewAllEndpointsFailed(p.ChainID))
			}
			logger.Warn("no healthy endpoints, waiting before retry", "chain_id", p.ChainID, "wave", wave)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffSchedule[wave]):
			}
			continue
		}

		for _, idx := range choice.allowed {
			callCtx, cancel := context.WithTimeout(ctx, p.maxTimeoutOf(idx))
			err := fn(callCtx, idx)
			cancel()

			if err == nil {
				p.markSuccess(idx, method)
				return nil
			}
			if IsProperRPCError(err.Error()) {
				p.markSuccess(idx, method)
				return err
			}
			p.markError(idx, method, err.Error())
			lastErr = err
		}

		if wave < retryWaves-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffSchedule[wave]):
			}
		}
	}

	if p.feed != nil {
		p.feed.Send(events.NewAllEndpointsFailed(p.ChainID))
	}
	if lastErr != nil {
		return errors.Wrap(lastErr, "rpcpool: exhausted retries")
	}
	return ErrAllEndpointsUnreachable
}
