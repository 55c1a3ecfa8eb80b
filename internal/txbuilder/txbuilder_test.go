package txbuilder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
)

func TestNativeTransferTagsMethodAndValue(t *testing.T) {
	to := common.HexToAddress("0x1")
	tx := NativeTransfer("0xfrom", to, 137, big.NewInt(1000))
	assert.Equal(t, model.MethodTransfer, tx.Method)
	assert.Equal(t, big.NewInt(1000), tx.Val)
	assert.Equal(t, to.Hex(), tx.To)
	assert.Nil(t, tx.CallData)
}

func TestERC20TransferCarriesZeroValueAndTokenAsTo(t *testing.T) {
	token := common.HexToAddress("0x2")
	to := common.HexToAddress("0x3")
	tx, err := ERC20Transfer("0xfrom", token, to, 137, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, model.MethodERC20Transfer, tx.Method)
	assert.Equal(t, big.NewInt(0), tx.Val)
	assert.Equal(t, token.Hex(), tx.To)
	assert.NotEmpty(t, tx.CallData)
}

func TestMultiTransferSelectsMethodByPackedAndIndirect(t *testing.T) {
	multi := common.HexToAddress("0x4")
	token := common.HexToAddress("0x5")
	recipients := []Recipient{
		{Address: common.HexToAddress("0x6"), Amount: big.NewInt(1)},
		{Address: common.HexToAddress("0x7"), Amount: big.NewInt(2)},
	}

	direct, err := MultiTransfer("0xfrom", multi, token, 137, recipients, false, false)
	require.NoError(t, err)
	assert.Equal(t, model.MethodMultiGolemTransferDirect, direct.Method)

	indirectPacked, err := MultiTransfer("0xfrom", multi, token, 137, recipients, true, true)
	require.NoError(t, err)
	assert.Equal(t, model.MethodMultiGolemTransferIndirectPacked, indirectPacked.Method)
}

func TestDepositSingleTransferSelectsCloseVariant(t *testing.T) {
	lock := common.HexToAddress("0x8")
	recipient := common.HexToAddress("0x9")

	open, err := DepositSingleTransfer("0xfrom", lock, 137, big.NewInt(1), recipient, big.NewInt(10), false)
	require.NoError(t, err)
	assert.Equal(t, model.MethodLockDepositSingleTransfer, open.Method)

	closed, err := DepositSingleTransfer("0xfrom", lock, 137, big.NewInt(1), recipient, big.NewInt(10), true)
	require.NoError(t, err)
	assert.Equal(t, model.MethodLockDepositSingleTransferAndClose, closed.Method)
}

func TestEachBuiltTransactionGetsAUniqueID(t *testing.T) {
	to := common.HexToAddress("0x1")
	a := NativeTransfer("0xfrom", to, 137, big.NewInt(1))
	b := NativeTransfer("0xfrom", to, 137, big.NewInt(1))
	assert.NotEqual(t, a.ID, b.ID)
}
