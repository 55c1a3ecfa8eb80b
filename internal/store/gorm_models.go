package store

import (
	"math/big"
	"time"
)

// The gorm-tagged rows below are the on-disk shape of the tables the engine
// owns (token_transfer, tx, allowance) plus the reconciliation-only
// scan_info row; chain_tx/chain_transfer are written by the external
// scanner and have no row type or read path here (spec section 6,
// "Persisted state layout").

type tokenTransferRow struct {
	ID            string `gorm:"primary_key;size:36"`
	PaymentID     *string
	From          string `gorm:"index:idx_tt_from_chain"`
	Receiver      string
	ChainID       int64 `gorm:"index:idx_tt_from_chain"`
	Token         *string
	Amount        string // decimal string; big.Int has no native SQL column type
	DepositID     *string
	DepositFinish bool
	CreateDate    time.Time `gorm:"index:idx_tt_create_date"`
	Deadline      *time.Time
	TxID          *string `gorm:"index"`
	PaidDate      *time.Time
	FeePaid       *string
	Error         *string
}

func (tokenTransferRow) TableName() string { return "token_transfer" }

type transactionRow struct {
	ID                string `gorm:"primary_key;size:36"`
	Method            string
	From              string  `gorm:"index:idx_tx_from_chain_nonce"`
	To                string
	ChainID           int64   `gorm:"index:idx_tx_from_chain_nonce"`
	Nonce             *uint64 `gorm:"index:idx_tx_from_chain_nonce"`
	GasLimit          *uint64
	MaxFeePerGas      *string
	PriorityFee       *string
	Val               string
	CallData          []byte
	SignedRaw         []byte
	SignedDate        *time.Time
	TxHash            *string `gorm:"index"`
	BroadcastDate     *time.Time
	FirstStuckDate    *time.Time
	ConfirmDate       *time.Time
	BlockNumber       *uint64
	ChainStatus       *uint64
	EffectiveGasPrice *string
	GasUsed           *uint64
	FeePaid           *string
	EngineMessage     string `gorm:"type:text"`
	EngineError       *string
	Unrecoverable     bool
	CreateDate        time.Time
}

func (transactionRow) TableName() string { return "tx" }

type allowanceRow struct {
	Owner       string `gorm:"primary_key;size:64"`
	Token       string `gorm:"primary_key;size:64"`
	Spender     string `gorm:"primary_key;size:64"`
	ChainID     int64  `gorm:"primary_key"`
	Allowance   string
	ConfirmDate *time.Time
}

func (allowanceRow) TableName() string { return "allowance" }

type scanInfoRow struct {
	ChainID     int64 `gorm:"primary_key"`
	BlockNumber uint64
	UpdatedAt   time.Time
}

func (scanInfoRow) TableName() string { return "scan_info" }

// bigToStr/strToBig convert between *big.Int and the decimal-string column
// representation; nil maps to the empty string / nil pointer respectively.
func bigToStr(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func bigToStrPtr(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func strToBig(s string) *big.Int {
	if s == "" {
		return nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return n
}

func strPtrToBig(s *string) *big.Int {
	if s == nil {
		return nil
	}
	return strToBig(*s)
}
