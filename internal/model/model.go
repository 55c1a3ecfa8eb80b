// Package model holds the persisted and in-memory entities of the payment
// driver: TokenTransfer and Transaction rows (spec section 3), Allowance
// records, and the reconciliation-only ChainTx/ChainTransfer rows.
package model

import (
	"math/big"
	"time"
)

// TransferStatus is derived, never stored directly: QUEUED when TxID is nil,
// PROCESSING when TxID is set but PaidDate is nil, DONE when both are set.
type TransferStatus string

const (
	TransferQueued     TransferStatus = "QUEUED"
	TransferProcessing TransferStatus = "PROCESSING"
	TransferDone       TransferStatus = "DONE"
)

// TokenTransfer is a logical intent to move value, the unit of business
// meaning callers insert and the engine never deletes.
type TokenTransfer struct {
	ID           string
	PaymentID    *string
	From         string
	Receiver     string
	ChainID      int64
	Token        *string // nil denotes a native-coin transfer
	Amount       *big.Int
	DepositID    *string
	DepositFinish bool
	CreateDate   time.Time
	Deadline     *time.Time
	TxID         *string
	PaidDate     *time.Time
	FeePaid      *big.Int
	Error        *string
}

// Status derives the TokenTransfer's lifecycle state from TxID/PaidDate.
// Invariant: once PaidDate is set, TxID must never change afterwards; callers
// that mutate a transfer must preserve that invariant themselves, the model
// has no behavior to enforce it beyond this read.
func (t *TokenTransfer) Status() TransferStatus {
	switch {
	case t.TxID == nil:
		return TransferQueued
	case t.PaidDate == nil:
		return TransferProcessing
	default:
		return TransferDone
	}
}

// TxMethod tags a Transaction with the call it encodes, used for logging,
// event classification and crash replay (spec section 4.5).
type TxMethod string

const (
	MethodTransfer                         TxMethod = "transfer"
	MethodERC20Transfer                    TxMethod = "ERC20.transfer"
	MethodERC20Approve                     TxMethod = "ERC20.approve"
	MethodMultiGolemTransferDirect          TxMethod = "MULTI.golemTransferDirect"
	MethodMultiGolemTransferDirectPacked    TxMethod = "MULTI.golemTransferDirectPacked"
	MethodMultiGolemTransferIndirect        TxMethod = "MULTI.golemTransferIndirect"
	MethodMultiGolemTransferIndirectPacked  TxMethod = "MULTI.golemTransferIndirectPacked"
	MethodLockCreateDeposit                 TxMethod = "LOCK.createDeposit"
	MethodLockCloseDeposit                  TxMethod = "LOCK.closeDeposit"
	MethodLockTerminateDeposit              TxMethod = "LOCK.terminateDeposit"
	MethodLockDepositSingleTransfer         TxMethod = "LOCK.depositSingleTransfer"
	MethodLockDepositSingleTransferAndClose TxMethod = "LOCK.depositSingleTransferAndClose"
	MethodLockDepositTransfer               TxMethod = "LOCK.depositTransfer"
	MethodLockDepositTransferAndClose       TxMethod = "LOCK.depositTransferAndClose"
	MethodFaucetCreate                      TxMethod = "FAUCET.create"
	MethodDistributorDistribute             TxMethod = "DISTRIBUTOR.distribute"
)

// TxState is derived from the Transaction row's timestamps/fields, never
// stored directly.
type TxState string

const (
	TxStateNew       TxState = "NEW"
	TxStateSigned    TxState = "SIGNED"
	TxStateBroadcast TxState = "BROADCAST"
	TxStateConfirmed TxState = "CONFIRMED"
	TxStateDone      TxState = "DONE"
)

// Transaction is a persisted EVM transaction row, possibly carrying many
// TokenTransfers.
type Transaction struct {
	ID                string
	Method            TxMethod
	From              string
	To                string
	ChainID           int64
	Nonce             *uint64
	GasLimit          *uint64
	MaxFeePerGas      *big.Int
	PriorityFee       *big.Int
	Val               *big.Int
	CallData          []byte
	SignedRaw         []byte
	SignedDate        *time.Time
	TxHash            *string
	BroadcastDate     *time.Time
	FirstStuckDate    *time.Time
	ConfirmDate       *time.Time
	BlockNumber       *uint64
	ChainStatus       *uint64 // 1 success, 0 revert
	EffectiveGasPrice *big.Int
	GasUsed           *uint64
	FeePaid           *big.Int
	EngineMessage     string
	EngineError       *string
	Unrecoverable     bool
	CreateDate        time.Time
}

// State derives the Transaction's lifecycle state, see spec section 3.
func (t *Transaction) State() TxState {
	switch {
	case t.Nonce == nil:
		return TxStateNew
	case t.SignedRaw == nil || t.BroadcastDate == nil:
		if t.SignedRaw != nil {
			return TxStateSigned
		}
		return TxStateNew
	case t.ConfirmDate != nil:
		return TxStateDone
	case t.BlockNumber != nil && t.ChainStatus != nil:
		return TxStateConfirmed
	default:
		return TxStateBroadcast
	}
}

// IsDone reports whether the row has reached its terminal state.
func (t *Transaction) IsDone() bool { return t.ConfirmDate != nil }

// Allowance tracks an ERC-20 approve landing for (owner, token, spender,
// chain). Required before multi-contract transfers for a given
// (sender, token, multi-contract).
type Allowance struct {
	Owner       string
	Token       string
	Spender     string
	ChainID     int64
	Allowance   *big.Int
	ConfirmDate *time.Time
}

// ChainTx and ChainTransfer are denormalized receipts imported by the
// (out-of-scope) scanner, kept only for reconciliation; the engine never
// writes them on its own critical path.
type ChainTx struct {
	ChainID     int64
	TxHash      string
	From        string
	To          string
	BlockNumber uint64
	ChainStatus uint64
}

type ChainTransfer struct {
	ChainID     int64
	TxHash      string
	From        string
	Receiver    string
	Token       *string
	Amount      *big.Int
	BlockNumber uint64
}

// ScanCursor records the last block height a (disabled-by-default) scanner
// examined for a chain; the store migrates its scan_info table, but the
// engine neither reads nor writes it.
type ScanCursor struct {
	ChainID     int64
	BlockNumber uint64
	UpdatedAt   time.Time
}
