// Package events defines the driver's typed event stream and the pub-sub
// primitive it rides on: go-ethereum's event.Feed/event.Subscription, the
// same broadcast-channel idiom the teacher uses internally (itself a fork of
// this exact package) for fan-out notifications.
package events

import (
	"time"

	"github.com/ethereum/go-ethereum/event"
)

// Feed wraps event.Feed so callers only ever send/subscribe DriverEvent
// values, never raw interface{}.
type Feed struct {
	feed event.Feed
}

// Subscribe registers ch to receive every DriverEvent sent on this feed.
// The returned Subscription's Unsubscribe must be called to stop delivery.
func (f *Feed) Subscribe(ch chan<- DriverEvent) event.Subscription {
	return f.feed.Subscribe(ch)
}

// Send broadcasts one event to every current subscriber and returns how many
// received it. It blocks until every subscriber's channel has accepted the
// event; a slow subscriber is not skipped and no event is dropped.
func (f *Feed) Send(content DriverEvent) int {
	return f.feed.Send(content)
}

// DriverEvent is the sum type of everything the engine reports to
// observers: transaction lifecycle transitions, endpoint pool health, and
// terminal transfer outcomes (spec section 4.8).
type DriverEvent interface {
	eventMarker()
	CreateDate() time.Time
}

type base struct {
	At time.Time
}

func (base) eventMarker() {}
func (b base) CreateDate() time.Time { return b.At }

func newBase() base { return base{At: time.Now()} }

// TransactionBroadcast reports that a signed transaction has been sent to
// an endpoint and accepted into its mempool.
type TransactionBroadcast struct {
	base
	TxID    string
	TxHash  string
	ChainID int64
}

// TransactionConfirmed reports that a transaction's receipt landed on
// chain, successfully or not (see ChainStatus).
type TransactionConfirmed struct {
	base
	TxID        string
	TxHash      string
	ChainID     int64
	BlockNumber uint64
	ChainStatus uint64
}

// StuckReason discriminates why a transaction is reported as
// TransactionStuck, spec section 4.8's closed `NoGas|NoToken|InvalidChain|
// Unrecoverable` variant set.
type StuckReason string

const (
	// StuckNoGas: the sender lacks native coin for gas (NEW's gas
	// estimation failure, or BROADCAST's `insufficient funds`).
	StuckNoGas StuckReason = "NoGas"
	// StuckNoToken: the sender lacks ERC-20 balance for the transfer.
	StuckNoToken StuckReason = "NoToken"
	// StuckInvalidChain: the endpoint answered for a different chain than
	// the transaction was signed for.
	StuckInvalidChain StuckReason = "InvalidChain"
	// StuckUnrecoverable: a fatal broadcast rejection (`invalid sender`), a
	// parked row that crossed `mark_as_unrecoverable_after_seconds`, or a
	// broadcast row with no receipt after `transaction_timeout` and no more
	// specific diagnosis (that row may still confirm or be fee-bumped).
	StuckUnrecoverable StuckReason = "Unrecoverable"
)

// TransactionStuck reports that a broadcast transaction has sat unconfirmed
// past the stuck-detection threshold, or hit one of the park conditions in
// spec section 4.7.
type TransactionStuck struct {
	base
	TxID    string
	ChainID int64
	Reason  StuckReason
}

// CantSignReason discriminates what kind of signature CantSign refers to:
// the transaction's own signing, or the allowance approve that precedes it.
type CantSignReason string

const (
	CantSignTx        CantSignReason = "Tx"
	CantSignAllowance CantSignReason = "Allowance"
)

// CantSign reports that the configured Signer refused or failed to sign a
// row; the row is parked permanently (spec section 4.7's SIGNING bullet:
// "park the row, no retry").
type CantSign struct {
	base
	TxID    string
	ChainID int64
	Reason  CantSignReason
	Message string
}

// TransferDone reports a TokenTransfer reaching its DONE status.
type TransferDone struct {
	base
	TransferID string
	TxID       string
	FeePaid    string
}

// TransferFailed reports a TokenTransfer marked unrecoverable.
type TransferFailed struct {
	base
	TransferID string
	Reason     string
}

// ApproveFinished reports that an ERC20.approve transaction confirmed
// on-chain, unblocking any multi-contract batch waiting on it.
type ApproveFinished struct {
	base
	TxID    string
	ChainID int64
	Owner   string
	Token   string
	Spender string
	Success bool
}

// BalanceUpdate reports a freshly read native or token balance, emitted by
// every GetTokenBalance call (spec section 4.9's get_token_balance).
type BalanceUpdate struct {
	base
	ChainID int64
	Account string
	Token   *string
	Balance string
}

// Web3RpcMessageKind discriminates the outcome a Web3RpcMessage reports,
// spec section 4.8's `Web3RpcMessage{chain_id, Success|Error|
// AllEndpointsFailed}`.
type Web3RpcMessageKind string

const (
	Web3RpcSuccess           Web3RpcMessageKind = "Success"
	Web3RpcError             Web3RpcMessageKind = "Error"
	Web3RpcAllEndpointsFailed Web3RpcMessageKind = "AllEndpointsFailed"
)

// Web3RpcMessage reports one pool-level RPC outcome: a single endpoint's
// success or failure, or the pool-wide exhaustion of every endpoint.
// Endpoint/Message are empty for AllEndpointsFailed, which is not
// attributable to any one endpoint.
type Web3RpcMessage struct {
	base
	ChainID  int64
	Kind     Web3RpcMessageKind
	Endpoint string
	Message  string
}

// NewTransactionBroadcast etc. construct events with CreateDate populated;
// callers should prefer these over building the struct literal directly.
func NewTransactionBroadcast(txID, txHash string, chainID int64) TransactionBroadcast {
	return TransactionBroadcast{base: newBase(), TxID: txID, TxHash: txHash, ChainID: chainID}
}

func NewTransactionConfirmed(txID, txHash string, chainID int64, block uint64, status uint64) TransactionConfirmed {
	return TransactionConfirmed{base: newBase(), TxID: txID, TxHash: txHash, ChainID: chainID, BlockNumber: block, ChainStatus: status}
}

func NewTransactionStuck(txID string, chainID int64, reason StuckReason) TransactionStuck {
	return TransactionStuck{base: newBase(), TxID: txID, ChainID: chainID, Reason: reason}
}

func NewCantSign(txID string, chainID int64, reason CantSignReason, message string) CantSign {
	return CantSign{base: newBase(), TxID: txID, ChainID: chainID, Reason: reason, Message: message}
}

func NewTransferDone(transferID, txID, feePaid string) TransferDone {
	return TransferDone{base: newBase(), TransferID: transferID, TxID: txID, FeePaid: feePaid}
}

func NewTransferFailed(transferID, reason string) TransferFailed {
	return TransferFailed{base: newBase(), TransferID: transferID, Reason: reason}
}

func NewApproveFinished(txID string, chainID int64, owner, token, spender string, success bool) ApproveFinished {
	return ApproveFinished{base: newBase(), TxID: txID, ChainID: chainID, Owner: owner, Token: token, Spender: spender, Success: success}
}

func NewBalanceUpdate(chainID int64, account string, token *string, balance string) BalanceUpdate {
	return BalanceUpdate{base: newBase(), ChainID: chainID, Account: account, Token: token, Balance: balance}
}

func NewWeb3RpcSuccess(chainID int64, endpoint string) Web3RpcMessage {
	return Web3RpcMessage{base: newBase(), ChainID: chainID, Kind: Web3RpcSuccess, Endpoint: endpoint}
}

func NewWeb3RpcError(chainID int64, endpoint, message string) Web3RpcMessage {
	return Web3RpcMessage{base: newBase(), ChainID: chainID, Kind: Web3RpcError, Endpoint: endpoint, Message: message}
}

func NewAllEndpointsFailed(chainID int64) Web3RpcMessage {
	return Web3RpcMessage{base: newBase(), ChainID: chainID, Kind: Web3RpcAllEndpointsFailed}
}
