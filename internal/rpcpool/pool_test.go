package rpcpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseBestEndpointsPrefersLowerBackupLevel(t *testing.T) {
	p := NewPool(1, nil)
	p.Add("primary", "http://primary.example", 0, time.Second)
	p.Add("backup", "http://backup.example", 1, time.Second)

	choice := p.chooseBestEndpoints()
	require.Len(t, choice.allowed, 1)
	assert.Equal(t, "primary", p.nameOf(choice.allowed[0]))
}

func TestChooseBestEndpointsFallsBackWhenPrimaryUnhealthy(t *testing.T) {
	p := NewPool(1, nil)
	p.Add("primary", "http://primary.example", 0, time.Second)
	p.Add("backup", "http://backup.example", 1, time.Second)

	for i := 0; i < maxConsecutiveErrs; i++ {
		p.endpoints[0].markError("boom")
	}

	choice := p.chooseBestEndpoints()
	require.Len(t, choice.allowed, 1)
	assert.Equal(t, "backup", p.nameOf(choice.allowed[0]))
}

func TestChooseBestEndpointsOrdersByScoreDescending(t *testing.T) {
	p := NewPool(1, nil)
	p.Add("a", "http://a.example", 0, time.Second)
	p.Add("b", "http://b.example", 0, time.Second)

	p.endpoints[0].markError("flaky")
	p.endpoints[1].markSuccess()

	choice := p.chooseBestEndpoints()
	require.Len(t, choice.allowed, 2)
	assert.Equal(t, "b", p.nameOf(choice.allowed[0]))
	assert.Equal(t, "a", p.nameOf(choice.allowed[1]))
}

func TestChooseBestEndpointsEmptyWhenNoneHealthy(t *testing.T) {
	p := NewPool(1, nil)
	p.Add("only", "http://only.example", 0, time.Second)
	for i := 0; i < maxConsecutiveErrs; i++ {
		p.endpoints[0].markError("dead")
	}

	choice := p.chooseBestEndpoints()
	assert.Empty(t, choice.allowed)
}

func TestIsProperRPCError(t *testing.T) {
	assert.True(t, IsProperRPCError("execution reverted: insufficient balance"))
	assert.True(t, IsProperRPCError("nonce too low"))
	assert.False(t, IsProperRPCError("connection refused"))
	assert.False(t, IsProperRPCError("context deadline exceeded"))
}
