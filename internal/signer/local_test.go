package signer

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSignerAddressMatchesKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	s := &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
}

func TestLocalSignerSignProducesRecoverableSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewLocalSigner(hex.EncodeToString(crypto.FromECDSA(key)))
	require.NoError(t, err)

	tx := &UnsignedTx{
		ChainID:      80001,
		Nonce:        3,
		GasLimit:     60000,
		MaxFeePerGas: big.NewInt(30_000_000_000),
		PriorityFee:  big.NewInt(2_000_000_000),
		To:           common.HexToAddress("0x0000000000000000000000000000000000dEaD"),
		Value:        big.NewInt(0),
		Data:         []byte{0x01, 0x02},
	}

	raw, hash, err := s.Sign(context.Background(), tx)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.NotEqual(t, common.Hash{}, hash)

	var decoded types.Transaction
	require.NoError(t, decoded.UnmarshalBinary(raw))
	assert.Equal(t, tx.Nonce, decoded.Nonce())
	assert.Equal(t, hash, decoded.Hash())

	signerForChain := types.LatestSignerForChainID(decoded.ChainId())
	from, err := types.Sender(signerForChain, &decoded)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}
