package store

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/golemfactory/erc20-payment-driver-go/internal/logging"
	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
)

var logger = logging.NewModuleLogger(logging.ModuleStore)

// ErrConfirmed is returned by RemoveTransactionForce when the row already
// has a confirm_date, per spec section 4.1.
var ErrConfirmed = errors.New("cannot force-remove a confirmed transaction")

// GormStore is the gorm/mysql-backed Store implementation. It mirrors the
// teacher's storage/database.DBManager in spirit: one interface, one
// concrete backend chosen by the caller (here, always SQL; the teacher picks
// between LevelDB/Badger/memory at the same seam).
type GormStore struct {
	db *gorm.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open dials the given gorm dialect/DSN (e.g. "mysql", "<user>:<pass>@tcp(host)/db")
// and auto-migrates the engine's three owned tables plus the reconciliation
// scan_info cursor.
func Open(dialect, dsn string) (*GormStore, error) {
	db, err := gorm.Open(dialect, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	if err := db.AutoMigrate(&tokenTransferRow{}, &transactionRow{}, &allowanceRow{}, &scanInfoRow{}).Error; err != nil {
		return nil, errors.Wrap(err, "migrate store")
	}
	return &GormStore{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// OpenDB wraps an already-open *gorm.DB and auto-migrates the same tables
// as Open.
func OpenDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&tokenTransferRow{}, &transactionRow{}, &allowanceRow{}, &scanInfoRow{}).Error; err != nil {
		return nil, errors.Wrap(err, "migrate store")
	}
	return &GormStore{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *GormStore) Close() error { return s.db.Close() }

func lockKey(sender string, chainID int64) string {
	return fmt.Sprintf("%d:%s", chainID, sender)
}

// Lock serializes all mutations on one (sender, chain) pair. The returned
// func must be called to release it; callers typically `defer unlock()`.
func (s *GormStore) Lock(sender string, chainID int64) func() {
	key := lockKey(sender, chainID)
	s.locksMu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *GormStore) InsertTokenTransfer(ctx context.Context, t *model.TokenTransfer) error {
	return s.db.Create(rowFromTransfer(t)).Error
}

func (s *GormStore) UpdateTokenTransfer(ctx context.Context, t *model.TokenTransfer) error {
	row := rowFromTransfer(t)
	return s.db.Save(row).Error
}

func (s *GormStore) GetNextTransfersToProcess(ctx context.Context, sender *string, chainID int64, limit int, ignoreDeadlines bool) ([]*model.TokenTransfer, error) {
	q := s.db.Where("chain_id = ? AND tx_id IS NULL", chainID).
		Order("create_date ASC")
	if !ignoreDeadlines {
		q = q.Where("deadline IS NULL OR deadline > ?", time.Now())
	}
	if sender != nil {
		q = q.Where(`"from" = ?`, *sender)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []*tokenTransferRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.TokenTransfer, len(rows))
	for i, r := range rows {
		out[i] = transferFromRow(r)
	}
	return out, nil
}

func (s *GormStore) GetTransferCount(ctx context.Context, status *model.TransferStatus, from, receiver *string) (int64, error) {
	q := s.db.Model(&tokenTransferRow{})
	if from != nil {
		q = q.Where(`"from" = ?`, *from)
	}
	if receiver != nil {
		q = q.Where("receiver = ?", *receiver)
	}
	if status != nil {
		switch *status {
		case model.TransferQueued:
			q = q.Where("tx_id IS NULL")
		case model.TransferProcessing:
			q = q.Where("tx_id IS NOT NULL AND paid_date IS NULL")
		case model.TransferDone:
			q = q.Where("paid_date IS NOT NULL")
		}
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *GormStore) GetUnpaidAmount(ctx context.Context, chainID int64, token *string, from string, ignoreDeadlines bool) (*big.Int, error) {
	transfers, err := s.GetNextTransfersToProcess(ctx, &from, chainID, 0, ignoreDeadlines)
	if err != nil {
		return nil, err
	}
	sum := big.NewInt(0)
	for _, t := range transfers {
		if !sameToken(t.Token, token) {
			continue
		}
		if t.Amount != nil {
			sum.Add(sum, t.Amount)
		}
	}
	return sum, nil
}

func (s *GormStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	return s.db.Create(rowFromTx(t)).Error
}

func (s *GormStore) UpdateTransaction(ctx context.Context, t *model.Transaction) error {
	return s.db.Save(rowFromTx(t)).Error
}

func (s *GormStore) GetNextTransactionsToProcess(ctx context.Context, sender *string, chainID int64, limit int) ([]*model.Transaction, error) {
	q := s.db.Where("chain_id = ? AND confirm_date IS NULL", chainID).
		Order("nonce ASC, id ASC")
	if sender != nil {
		q = q.Where(`"from" = ?`, *sender)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []*transactionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Transaction, len(rows))
	for i, r := range rows {
		out[i] = txFromRow(r)
	}
	return out, nil
}

func (s *GormStore) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	var row transactionRow
	if err := s.db.Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return txFromRow(&row), nil
}

func (s *GormStore) GetMaxNonce(ctx context.Context, sender string, chainID int64) (*uint64, error) {
	var row transactionRow
	err := s.db.Where(`"from" = ? AND chain_id = ? AND nonce IS NOT NULL`, sender, chainID).
		Order("nonce DESC").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Nonce, nil
}

// RemoveTransactionForce deletes a transaction and reverts its linked
// token-transfers to QUEUED. Fails if confirm_date is already set (spec
// section 4.1).
func (s *GormStore) RemoveTransactionForce(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx Store) error {
		gs := tx.(*GormStore)
		var row transactionRow
		if err := gs.db.Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}
		if row.ConfirmDate != nil {
			return ErrConfirmed
		}
		if err := gs.db.Model(&tokenTransferRow{}).Where("tx_id = ?", id).
			Update("tx_id", nil).Error; err != nil {
			return err
		}
		return gs.db.Delete(&transactionRow{}, "id = ?", id).Error
	})
}

// RemoveLastUnsentTransactions deletes the highest-nonce transaction for
// (sender, chain) that has no signed_raw or no broadcast_date, cascading to
// its linked token-transfers (spec section 4.1).
func (s *GormStore) RemoveLastUnsentTransactions(ctx context.Context, sender string, chainID int64) error {
	return s.WithTx(ctx, func(tx Store) error {
		gs := tx.(*GormStore)
		var row transactionRow
		err := gs.db.Where(`"from" = ? AND chain_id = ? AND (signed_raw IS NULL OR broadcast_date IS NULL)`, sender, chainID).
			Order("nonce DESC").First(&row).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := gs.db.Model(&tokenTransferRow{}).Where("tx_id = ?", row.ID).
			Update("tx_id", nil).Error; err != nil {
			return err
		}
		return gs.db.Delete(&transactionRow{}, "id = ?", row.ID).Error
	})
}

func (s *GormStore) GetAllowancesByOwner(ctx context.Context, owner string, chainID int64) ([]*model.Allowance, error) {
	var rows []*allowanceRow
	if err := s.db.Where("owner = ? AND chain_id = ?", owner, chainID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Allowance, len(rows))
	for i, r := range rows {
		out[i] = allowanceFromRow(r)
	}
	return out, nil
}

func (s *GormStore) InsertAllowance(ctx context.Context, a *model.Allowance) error {
	return s.db.Create(rowFromAllowance(a)).Error
}

func (s *GormStore) UpdateAllowance(ctx context.Context, a *model.Allowance) error {
	return s.db.Save(rowFromAllowance(a)).Error
}

func (s *GormStore) GetTransfersByTx(ctx context.Context, txID string) ([]*model.TokenTransfer, error) {
	var rows []*tokenTransferRow
	if err := s.db.Where("tx_id = ?", txID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.TokenTransfer, len(rows))
	for i, r := range rows {
		out[i] = transferFromRow(r)
	}
	return out, nil
}

// WithTx runs fn inside one gorm transaction; a non-nil return rolls back.
func (s *GormStore) WithTx(ctx context.Context, fn TxFn) error {
	txdb := s.db.Begin()
	if txdb.Error != nil {
		return txdb.Error
	}
	scoped := &GormStore{db: txdb, locks: s.locks, locksMu: sync.Mutex{}}
	if err := fn(scoped); err != nil {
		txdb.Rollback()
		return err
	}
	return txdb.Commit().Error
}

func sameToken(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
