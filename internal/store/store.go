// Package store persists TokenTransfer, Transaction and Allowance rows and
// exposes the atomic operations the Gatherer and Processor need. It mirrors
// the teacher's storage/database.DBManager shape: one narrow interface, one
// concrete backend, so tests can substitute an in-memory/sqlite instance.
package store

import (
	"context"
	"math/big"

	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
)

// TxFn runs inside a single atomic multi-statement transaction; returning an
// error rolls every statement back. This is the "multi-statement transaction
// primitive" spec section 4.1 requires for serializing all mutations that
// touch one (sender, chain).
type TxFn func(tx Store) error

// Store is the persistence surface the engine depends on. All mutating
// operations are individually atomic; WithTx additionally lets a caller
// batch several mutations into one atomic unit (used by the Gatherer to link
// many TokenTransfers to one new Transaction in a single commit).
type Store interface {
	InsertTokenTransfer(ctx context.Context, t *model.TokenTransfer) error
	UpdateTokenTransfer(ctx context.Context, t *model.TokenTransfer) error
	GetNextTransfersToProcess(ctx context.Context, sender *string, chainID int64, limit int, ignoreDeadlines bool) ([]*model.TokenTransfer, error)
	GetTransferCount(ctx context.Context, status *model.TransferStatus, from, receiver *string) (int64, error)
	GetUnpaidAmount(ctx context.Context, chainID int64, token *string, from string, ignoreDeadlines bool) (*big.Int, error)

	InsertTransaction(ctx context.Context, t *model.Transaction) error
	UpdateTransaction(ctx context.Context, t *model.Transaction) error
	GetNextTransactionsToProcess(ctx context.Context, sender *string, chainID int64, limit int) ([]*model.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	GetMaxNonce(ctx context.Context, sender string, chainID int64) (*uint64, error)
	RemoveTransactionForce(ctx context.Context, id string) error
	RemoveLastUnsentTransactions(ctx context.Context, sender string, chainID int64) error

	GetAllowancesByOwner(ctx context.Context, owner string, chainID int64) ([]*model.Allowance, error)
	InsertAllowance(ctx context.Context, a *model.Allowance) error
	UpdateAllowance(ctx context.Context, a *model.Allowance) error

	// GetTransfersByTx returns every TokenTransfer linked to a Transaction,
	// used to split fee_paid proportionally and mark transfers paid/errored
	// atomically once the Transaction confirms.
	GetTransfersByTx(ctx context.Context, txID string) ([]*model.TokenTransfer, error)

	// WithTx runs fn inside one atomic transaction; fn receives a Store
	// handle scoped to that transaction.
	WithTx(ctx context.Context, fn TxFn) error

	// Lock serializes all mutations for one (sender, chain) pair; callers
	// must hold the returned unlock function for the duration of any
	// mutating sequence that must observe a consistent nonce/queue view, per
	// spec section 4.1 ("All mutating operations on a (sender, chain) must
	// be serialized").
	Lock(sender string, chainID int64) func()

	Close() error
}

