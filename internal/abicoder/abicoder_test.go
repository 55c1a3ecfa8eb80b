package abicoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeERC20TransferHasFourByteSelector(t *testing.T) {
	data, err := EncodeERC20Transfer(common.HexToAddress("0x1"), big.NewInt(1000))
	require.NoError(t, err)
	assert.True(t, len(data) > 4)
}

func TestEncodeERC20ApproveMaxAllowance(t *testing.T) {
	data, err := EncodeERC20Approve(common.HexToAddress("0x2"), MaxAllowance)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestPackRecipientAmountRejectsOversizedAmount(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 100)
	_, err := PackRecipientAmount(common.HexToAddress("0x3"), huge)
	assert.Error(t, err)
}

func TestPackRecipientAmountPacksAddressAndAmount(t *testing.T) {
	addr := common.HexToAddress("0x000000000000000000000000000000000000aa")
	word, err := PackRecipientAmount(addr, big.NewInt(42))
	require.NoError(t, err)
	assert.Equal(t, addr.Bytes(), word[:20])
	assert.Equal(t, byte(42), word[31])
}

func TestEncodeMultiDirectAndIndirect(t *testing.T) {
	token := common.HexToAddress("0x4")
	recipients := []common.Address{common.HexToAddress("0x5"), common.HexToAddress("0x6")}
	amounts := []*big.Int{big.NewInt(1), big.NewInt(2)}

	direct, err := EncodeMultiDirect(token, recipients, amounts)
	require.NoError(t, err)
	assert.NotEmpty(t, direct)

	indirect, err := EncodeMultiIndirect(token, recipients, amounts)
	require.NoError(t, err)
	assert.NotEmpty(t, indirect)
	assert.NotEqual(t, direct, indirect)
}

func TestEncodeDepositLifecycle(t *testing.T) {
	id := big.NewInt(7)
	_, err := EncodeCreateDeposit(id, common.HexToAddress("0x7"), common.HexToAddress("0x8"), big.NewInt(100), big.NewInt(1), big.NewInt(999999))
	require.NoError(t, err)

	_, err = EncodeCloseDeposit(id)
	require.NoError(t, err)

	_, err = EncodeTerminateDeposit(id)
	require.NoError(t, err)

	_, err = EncodeDepositSingleTransfer(id, common.HexToAddress("0x9"), big.NewInt(5))
	require.NoError(t, err)

	_, err = EncodeDepositSingleTransferAndClose(id, common.HexToAddress("0x9"), big.NewInt(5))
	require.NoError(t, err)
}
