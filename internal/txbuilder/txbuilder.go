// Package txbuilder turns a domain-level request (ERC-20 transfer,
// multi-transfer, deposit payout, approve, native transfer, mint,
// distribute, deposit lifecycle) into an unsigned model.Transaction row
// carrying a method tag, calldata and value, per spec section 4.5. The gas
// limit is left unset; the Processor fills it from gas estimation, since it
// has the pool.
package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"

	"github.com/golemfactory/erc20-payment-driver-go/internal/abicoder"
	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
)

// Recipient is one (address, amount) leg of a batched transfer.
type Recipient struct {
	Address common.Address
	Amount  *big.Int
}

// NativeTransfer builds a plain value-carrying transaction.
func NativeTransfer(from string, to common.Address, chainID int64, amount *big.Int) *model.Transaction {
	return base(from, to.Hex(), chainID, model.MethodTransfer, amount, nil)
}

// ERC20Transfer builds an ERC-20 transfer to one recipient.
func ERC20Transfer(from string, token, to common.Address, chainID int64, amount *big.Int) (*model.Transaction, error) {
	data, err := abicoder.EncodeERC20Transfer(to, amount)
	if err != nil {
		return nil, errors.Wrap(err, "encode erc20 transfer")
	}
	return base(from, token.Hex(), chainID, model.MethodERC20Transfer, big.NewInt(0), data), nil
}

// ERC20Approve builds an infinite-allowance approve for a spender
// (typically the multi-transfer or lock contract).
func ERC20Approve(from string, token, spender common.Address, chainID int64) (*model.Transaction, error) {
	data, err := abicoder.EncodeERC20Approve(spender, abicoder.MaxAllowance)
	if err != nil {
		return nil, errors.Wrap(err, "encode erc20 approve")
	}
	return base(from, token.Hex(), chainID, model.MethodERC20Approve, big.NewInt(0), data), nil
}

// MultiTransfer builds a batched transfer through the multi-contract;
// packed selects the bit-packed calldata encoding, indirect selects the
// internal-holding-account variant over the direct variant, per spec
// section 4.6 ("one MULTI.*Packed or unpacked transaction per config").
func MultiTransfer(from string, multiContract, token common.Address, chainID int64, recipients []Recipient, packed, indirect bool) (*model.Transaction, error) {
	var data []byte
	var err error
	var method model.TxMethod

	switch {
	case packed && !indirect:
		words, perr := packAll(recipients)
		if perr != nil {
			return nil, perr
		}
		data, err = abicoder.EncodeMultiDirectPacked(token, words)
		method = model.MethodMultiGolemTransferDirectPacked
	case packed && indirect:
		words, perr := packAll(recipients)
		if perr != nil {
			return nil, perr
		}
		data, err = abicoder.EncodeMultiIndirectPacked(token, words)
		method = model.MethodMultiGolemTransferIndirectPacked
	case !packed && !indirect:
		addrs, amounts := splitRecipients(recipients)
		data, err = abicoder.EncodeMultiDirect(token, addrs, amounts)
		method = model.MethodMultiGolemTransferDirect
	default:
		addrs, amounts := splitRecipients(recipients)
		data, err = abicoder.EncodeMultiIndirect(token, addrs, amounts)
		method = model.MethodMultiGolemTransferIndirect
	}
	if err != nil {
		return nil, errors.Wrap(err, "encode multi transfer")
	}
	return base(from, multiContract.Hex(), chainID, method, big.NewInt(0), data), nil
}

// DepositSingleTransfer builds a single-recipient deposit payout, closing
// the deposit in the same call when close is true.
func DepositSingleTransfer(from string, lockContract common.Address, chainID int64, depositID *big.Int, recipient common.Address, amount *big.Int, close bool) (*model.Transaction, error) {
	var data []byte
	var err error
	method := model.MethodLockDepositSingleTransfer
	if close {
		data, err = abicoder.EncodeDepositSingleTransferAndClose(depositID, recipient, amount)
		method = model.MethodLockDepositSingleTransferAndClose
	} else {
		data, err = abicoder.EncodeDepositSingleTransfer(depositID, recipient, amount)
	}
	if err != nil {
		return nil, errors.Wrap(err, "encode deposit single transfer")
	}
	return base(from, lockContract.Hex(), chainID, method, big.NewInt(0), data), nil
}

// DepositTransfer builds a multi-recipient deposit payout sharing one
// deposit_id, closing the deposit in the same call when close is true.
func DepositTransfer(from string, lockContract common.Address, chainID int64, depositID *big.Int, recipients []Recipient, close bool) (*model.Transaction, error) {
	addrs, amounts := splitRecipients(recipients)
	var data []byte
	var err error
	method := model.MethodLockDepositTransfer
	if close {
		data, err = abicoder.EncodeDepositTransferAndClose(depositID, addrs, amounts)
		method = model.MethodLockDepositTransferAndClose
	} else {
		data, err = abicoder.EncodeDepositTransfer(depositID, addrs, amounts)
	}
	if err != nil {
		return nil, errors.Wrap(err, "encode deposit transfer")
	}
	return base(from, lockContract.Hex(), chainID, method, big.NewInt(0), data), nil
}

// CreateDeposit builds a Lock.createDeposit transaction.
func CreateDeposit(from string, lockContract common.Address, chainID int64, depositID *big.Int, spender, token common.Address, amount, feeAmount, validTo *big.Int) (*model.Transaction, error) {
	data, err := abicoder.EncodeCreateDeposit(depositID, spender, token, amount, feeAmount, validTo)
	if err != nil {
		return nil, errors.Wrap(err, "encode create deposit")
	}
	return base(from, lockContract.Hex(), chainID, model.MethodLockCreateDeposit, big.NewInt(0), data), nil
}

// CloseDeposit builds a Lock.closeDeposit transaction.
func CloseDeposit(from string, lockContract common.Address, chainID int64, depositID *big.Int) (*model.Transaction, error) {
	data, err := abicoder.EncodeCloseDeposit(depositID)
	if err != nil {
		return nil, errors.Wrap(err, "encode close deposit")
	}
	return base(from, lockContract.Hex(), chainID, model.MethodLockCloseDeposit, big.NewInt(0), data), nil
}

// TerminateDeposit builds a Lock.terminateDeposit transaction.
func TerminateDeposit(from string, lockContract common.Address, chainID int64, depositID *big.Int) (*model.Transaction, error) {
	data, err := abicoder.EncodeTerminateDeposit(depositID)
	if err != nil {
		return nil, errors.Wrap(err, "encode terminate deposit")
	}
	return base(from, lockContract.Hex(), chainID, model.MethodLockTerminateDeposit, big.NewInt(0), data), nil
}

// FaucetCreate builds a faucet mint-to-self transaction.
func FaucetCreate(from string, faucetContract, to common.Address, chainID int64) (*model.Transaction, error) {
	data, err := abicoder.EncodeFaucetCreate(to)
	if err != nil {
		return nil, errors.Wrap(err, "encode faucet create")
	}
	return base(from, faucetContract.Hex(), chainID, model.MethodFaucetCreate, big.NewInt(0), data), nil
}

// Distribute builds a gas-distributor payout transaction.
func Distribute(from string, distributorContract common.Address, chainID int64, recipients []Recipient) (*model.Transaction, error) {
	addrs, amounts := splitRecipients(recipients)
	data, err := abicoder.EncodeDistribute(addrs, amounts)
	if err != nil {
		return nil, errors.Wrap(err, "encode distribute")
	}
	return base(from, distributorContract.Hex(), chainID, model.MethodDistributorDistribute, big.NewInt(0), data), nil
}

func base(from, to string, chainID int64, method model.TxMethod, val *big.Int, data []byte) *model.Transaction {
	id, err := uuid.GenerateUUID()
	if err != nil {
		// GenerateUUID only fails if crypto/rand is broken; there is no
		// sane fallback, and every caller treats this as unrecoverable.
		panic(errors.Wrap(err, "generate transaction id"))
	}
	return &model.Transaction{
		ID:       id,
		Method:   method,
		From:     from,
		To:       to,
		ChainID:  chainID,
		Val:      val,
		CallData: data,
	}
}

func splitRecipients(recipients []Recipient) ([]common.Address, []*big.Int) {
	addrs := make([]common.Address, len(recipients))
	amounts := make([]*big.Int, len(recipients))
	for i, r := range recipients {
		addrs[i] = r.Address
		amounts[i] = r.Amount
	}
	return addrs, amounts
}

func packAll(recipients []Recipient) ([][32]byte, error) {
	words := make([][32]byte, len(recipients))
	for i, r := range recipients {
		w, err := abicoder.PackRecipientAmount(r.Address, r.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "pack recipient %d", i)
		}
		words[i] = w
	}
	return words, nil
}
