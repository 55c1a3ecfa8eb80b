package store

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
)

func TestBigToStrRoundTrip(t *testing.T) {
	assert.Equal(t, "", bigToStr(nil))
	assert.Equal(t, "12345678901234567890", bigToStr(big.NewInt(0).SetUint64(12345678901234567890)))

	assert.Nil(t, strToBig(""))
	n := strToBig("42")
	require.NotNil(t, n)
	assert.Equal(t, big.NewInt(42), n)

	assert.Nil(t, strToBig("not-a-number"))
}

func TestBigToStrPtrRoundTrip(t *testing.T) {
	assert.Nil(t, bigToStrPtr(nil))
	assert.Nil(t, strPtrToBig(nil))

	ptr := bigToStrPtr(big.NewInt(7))
	require.NotNil(t, ptr)
	assert.Equal(t, "7", *ptr)
	assert.Equal(t, big.NewInt(7), strPtrToBig(ptr))
}

func TestTokenTransferRowRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	token := "0xtoken"
	fee := big.NewInt(500)
	original := &model.TokenTransfer{
		ID: "t1", From: "0xa", Receiver: "0xb", ChainID: 137,
		Token: &token, Amount: big.NewInt(1000), CreateDate: now, FeePaid: fee,
	}

	row := rowFromTransfer(original)
	restored := transferFromRow(row)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Amount, restored.Amount)
	assert.Equal(t, original.FeePaid, restored.FeePaid)
	assert.Equal(t, *original.Token, *restored.Token)
}

func TestTransactionRowRoundTripPreservesNilFeeFields(t *testing.T) {
	original := &model.Transaction{
		ID: "tx1", Method: model.MethodERC20Transfer, From: "0xa", To: "0xb", ChainID: 137,
		Val: big.NewInt(0),
	}

	row := rowFromTx(original)
	restored := txFromRow(row)

	assert.Equal(t, original.Method, restored.Method)
	assert.Nil(t, restored.MaxFeePerGas)
	assert.Nil(t, restored.GasUsed)
	assert.Equal(t, big.NewInt(0), restored.Val)
}

func TestAllowanceRowRoundTrip(t *testing.T) {
	original := &model.Allowance{
		Owner: "0xa", Token: "0xtoken", Spender: "0xspender", ChainID: 137,
		Allowance: big.NewInt(999),
	}

	row := rowFromAllowance(original)
	restored := allowanceFromRow(row)

	assert.Equal(t, original.Allowance, restored.Allowance)
	assert.Equal(t, original.Spender, restored.Spender)
}
