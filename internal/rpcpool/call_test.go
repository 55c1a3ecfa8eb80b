package rpcpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSucceedsOnSecondEndpoint(t *testing.T) {
	p := NewPool(1, nil)
	p.Add("flaky", "http://flaky.example", 0, 50*time.Millisecond)
	p.Add("good", "http://good.example", 0, 50*time.Millisecond)

	var calls []string
	err := p.Call(context.Background(), "eth_getBalance", func(ctx context.Context, idx int) error {
		name := p.nameOf(idx)
		calls = append(calls, name)
		if name == "flaky" {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Contains(t, calls, "good")
}

func TestCallReturnsImmediatelyOnProperRPCError(t *testing.T) {
	p := NewPool(1, nil)
	p.Add("only", "http://only.example", 0, 50*time.Millisecond)

	callCount := 0
	err := p.Call(context.Background(), "eth_sendRawTransaction", func(ctx context.Context, idx int) error {
		callCount++
		return errors.New("nonce too low")
	})

	require.Error(t, err)
	assert.Equal(t, 1, callCount, "a proper rpc error must not retry")
	assert.True(t, p.endpoints[0].Healthy(), "a proper rpc error must not penalize the endpoint")
}

func TestCallFailsAfterExhaustingAllWaves(t *testing.T) {
	p := NewPool(1, nil)
	p.Add("only", "http://only.example", 0, 10*time.Millisecond)

	start := time.Now()
	err := p.Call(context.Background(), "eth_blockNumber", func(ctx context.Context, idx int) error {
		return errors.New("connection refused")
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.GreaterOrEqual(t, elapsed, 800*time.Millisecond)
}
