// Package signer produces signed raw EIP-1559 transactions from the
// (method, to, value, calldata, nonce, gas) tuple the txbuilder/processor
// assemble. It is pluggable the way the teacher's node/sc bridge never
// hard-codes a single key source: a local-key Signer is the default, a
// KMS-backed Signer is available for custodial deployments that cannot
// hold a raw private key in process memory.
package signer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// UnsignedTx carries everything needed to build and sign one EIP-1559
// transaction for one sender/chain, per spec section 4.5.
type UnsignedTx struct {
	ChainID      int64
	Nonce        uint64
	GasLimit     uint64
	MaxFeePerGas *big.Int
	PriorityFee  *big.Int
	To           common.Address
	Value        *big.Int
	Data         []byte
}

// Signer signs an UnsignedTx on behalf of one address and returns the raw
// RLP-encoded transaction plus its hash, ready for broadcast.
type Signer interface {
	// Address is the sender this Signer signs for.
	Address() common.Address

	// Sign produces the signed raw transaction bytes and its hash.
	Sign(ctx context.Context, tx *UnsignedTx) (raw []byte, hash common.Hash, err error)
}

func toEthTx(u *UnsignedTx) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(u.ChainID),
		Nonce:     u.Nonce,
		GasTipCap: u.PriorityFee,
		GasFeeCap: u.MaxFeePerGas,
		Gas:       u.GasLimit,
		To:        &u.To,
		Value:     u.Value,
		Data:      u.Data,
	})
}
