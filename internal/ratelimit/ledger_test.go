package ratelimit

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerAllowsWithinLimit(t *testing.T) {
	l := NewLedger()
	max := big.NewInt(100)

	assert.True(t, l.Allow(1, "0xa", big.NewInt(40), max))
	assert.True(t, l.Allow(1, "0xa", big.NewInt(40), max))
	assert.Equal(t, big.NewInt(80), l.Minted(1, "0xa"))
}

func TestLedgerRefusesOverLimit(t *testing.T) {
	l := NewLedger()
	max := big.NewInt(100)

	assert.True(t, l.Allow(1, "0xa", big.NewInt(90), max))
	assert.False(t, l.Allow(1, "0xa", big.NewInt(20), max))
	assert.Equal(t, big.NewInt(90), l.Minted(1, "0xa"))
}

func TestLedgerUnlimitedWhenMaxNil(t *testing.T) {
	l := NewLedger()
	assert.True(t, l.Allow(1, "0xa", big.NewInt(1_000_000), nil))
}

func TestLedgerReverseUndoesDraw(t *testing.T) {
	l := NewLedger()
	max := big.NewInt(100)

	assert.True(t, l.Allow(1, "0xa", big.NewInt(50), max))
	l.Reverse(1, "0xa", big.NewInt(50))
	assert.Equal(t, big.NewInt(0), l.Minted(1, "0xa"))
}

func TestLedgerTracksChainsIndependently(t *testing.T) {
	l := NewLedger()
	max := big.NewInt(10)

	assert.True(t, l.Allow(1, "0xa", big.NewInt(10), max))
	assert.True(t, l.Allow(2, "0xa", big.NewInt(10), max))
}
