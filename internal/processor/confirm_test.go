package processor

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
)

func TestSplitFeeByAmountDividesProportionally(t *testing.T) {
	transfers := []*model.TokenTransfer{
		{ID: "t1", Amount: big.NewInt(30)},
		{ID: "t2", Amount: big.NewInt(70)},
	}
	fees := splitFeeByAmount(big.NewInt(100), transfers)
	require.Len(t, fees, 2)
	assert.Equal(t, big.NewInt(30), fees[0])
	assert.Equal(t, big.NewInt(70), fees[1])
}

func TestSplitFeeByAmountAssignsRemainderToLastTransfer(t *testing.T) {
	transfers := []*model.TokenTransfer{
		{ID: "t1", Amount: big.NewInt(1)},
		{ID: "t2", Amount: big.NewInt(1)},
		{ID: "t3", Amount: big.NewInt(1)},
	}
	fees := splitFeeByAmount(big.NewInt(10), transfers)
	require.Len(t, fees, 3)

	sum := big.NewInt(0)
	for _, f := range fees {
		sum.Add(sum, f)
	}
	assert.Equal(t, big.NewInt(10), sum, "shares must sum exactly to the total fee")
	assert.Equal(t, fees[0], fees[1], "equal-amount transfers before the last share equally")
}

func TestSplitFeeByAmountFallsBackToEvenSplitWhenAmountsAreZero(t *testing.T) {
	transfers := []*model.TokenTransfer{
		{ID: "t1", Amount: big.NewInt(0)},
		{ID: "t2", Amount: big.NewInt(0)},
	}
	fees := splitFeeByAmount(big.NewInt(7), transfers)
	require.Len(t, fees, 2)

	sum := new(big.Int).Add(fees[0], fees[1])
	assert.Equal(t, big.NewInt(7), sum)
}

func TestSplitFeeByAmountHandlesEmptyTransferList(t *testing.T) {
	assert.Empty(t, splitFeeByAmount(big.NewInt(100), nil))
}

func TestMulFloatAppliesFeeBumpMultiplier(t *testing.T) {
	got := mulFloat(big.NewInt(1000), 1.125)
	assert.Equal(t, big.NewInt(1125), got)
}

func TestMulFloatTruncatesFractionalResult(t *testing.T) {
	got := mulFloat(big.NewInt(3), 1.5)
	assert.Equal(t, big.NewInt(4), got)
}
