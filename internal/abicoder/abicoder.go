// Package abicoder turns a domain-level call (transfer, approve, deposit
// lifecycle, ...) into calldata bytes. It treats contract ABIs as an
// external black box per spec section 4.4: every function here is pure,
// delegating the actual encoding to go-ethereum's accounts/abi package, the
// same ABI coder the teacher's own forked accounts/abi package derives from.
package abicoder

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const maxUint256Hex = "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

// MaxAllowance is the U256::MAX sentinel used for infinite-approval
// encode_erc20_approve calls.
var MaxAllowance = func() *big.Int {
	n := new(big.Int)
	n.SetString(strings.TrimPrefix(maxUint256Hex, "0x"), 16)
	return n
}()

const erc20ABI = `[
	{"constant":false,"name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const multiABI = `[
	{"name":"golemTransferDirect","inputs":[{"name":"token","type":"address"},{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"}],"outputs":[],"type":"function"},
	{"name":"golemTransferDirectPacked","inputs":[{"name":"token","type":"address"},{"name":"packed","type":"bytes32[]"}],"outputs":[],"type":"function"},
	{"name":"golemTransferIndirect","inputs":[{"name":"token","type":"address"},{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"}],"outputs":[],"type":"function"},
	{"name":"golemTransferIndirectPacked","inputs":[{"name":"token","type":"address"},{"name":"packed","type":"bytes32[]"}],"outputs":[],"type":"function"}
]`

const lockABI = `[
	{"name":"createDeposit","inputs":[{"name":"id","type":"uint256"},{"name":"spender","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"feeAmount","type":"uint256"},{"name":"validTo","type":"uint256"}],"outputs":[],"type":"function"},
	{"name":"closeDeposit","inputs":[{"name":"id","type":"uint256"}],"outputs":[],"type":"function"},
	{"name":"terminateDeposit","inputs":[{"name":"id","type":"uint256"}],"outputs":[],"type":"function"},
	{"name":"depositSingleTransfer","inputs":[{"name":"id","type":"uint256"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[],"type":"function"},
	{"name":"depositSingleTransferAndClose","inputs":[{"name":"id","type":"uint256"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[],"type":"function"},
	{"name":"depositTransfer","inputs":[{"name":"id","type":"uint256"},{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"}],"outputs":[],"type":"function"},
	{"name":"depositTransferAndClose","inputs":[{"name":"id","type":"uint256"},{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"}],"outputs":[],"type":"function"}
]`

const faucetABI = `[
	{"name":"create","inputs":[{"name":"to","type":"address"}],"outputs":[],"type":"function"}
]`

const distributorABI = `[
	{"name":"distribute","inputs":[{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"}],"outputs":[],"type":"function"}
]`

var (
	erc20       abi.ABI
	multi       abi.ABI
	lock        abi.ABI
	faucet      abi.ABI
	distributor abi.ABI
)

func init() {
	var err error
	if erc20, err = abi.JSON(strings.NewReader(erc20ABI)); err != nil {
		panic(errors.Wrap(err, "parse erc20 abi"))
	}
	if multi, err = abi.JSON(strings.NewReader(multiABI)); err != nil {
		panic(errors.Wrap(err, "parse multi abi"))
	}
	if lock, err = abi.JSON(strings.NewReader(lockABI)); err != nil {
		panic(errors.Wrap(err, "parse lock abi"))
	}
	if faucet, err = abi.JSON(strings.NewReader(faucetABI)); err != nil {
		panic(errors.Wrap(err, "parse faucet abi"))
	}
	if distributor, err = abi.JSON(strings.NewReader(distributorABI)); err != nil {
		panic(errors.Wrap(err, "parse distributor abi"))
	}
}

// EncodeERC20Transfer encodes an ERC-20 transfer(to, value) call.
func EncodeERC20Transfer(to common.Address, value *big.Int) ([]byte, error) {
	return erc20.Pack("transfer", to, value)
}

// EncodeERC20Approve encodes an ERC-20 approve(spender, value) call.
// Callers pass MaxAllowance for an infinite approval.
func EncodeERC20Approve(spender common.Address, value *big.Int) ([]byte, error) {
	return erc20.Pack("approve", spender, value)
}

// EncodeERC20BalanceOf encodes an ERC-20 balanceOf(owner) call.
func EncodeERC20BalanceOf(owner common.Address) ([]byte, error) {
	return erc20.Pack("balanceOf", owner)
}

// DecodeERC20BalanceOf unpacks the uint256 return value of balanceOf.
func DecodeERC20BalanceOf(data []byte) (*big.Int, error) {
	out, err := erc20.Unpack("balanceOf", data)
	if err != nil {
		return nil, errors.Wrap(err, "unpack balanceOf result")
	}
	if len(out) != 1 {
		return nil, errors.New("balanceOf returned unexpected number of values")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("balanceOf result is not a uint256")
	}
	return balance, nil
}

// EncodeMultiDirect encodes a multi-contract direct transfer.
func EncodeMultiDirect(token common.Address, recipients []common.Address, amounts []*big.Int) ([]byte, error) {
	return multi.Pack("golemTransferDirect", token, recipients, amounts)
}

// EncodeMultiDirectPacked encodes the bit-packed variant of a direct
// multi-transfer, each entry packing an address and amount into one word.
func EncodeMultiDirectPacked(token common.Address, packed [][32]byte) ([]byte, error) {
	return multi.Pack("golemTransferDirectPacked", token, packed)
}

// EncodeMultiIndirect encodes a multi-contract indirect (via internal
// holding) transfer.
func EncodeMultiIndirect(token common.Address, recipients []common.Address, amounts []*big.Int) ([]byte, error) {
	return multi.Pack("golemTransferIndirect", token, recipients, amounts)
}

// EncodeMultiIndirectPacked encodes the bit-packed variant of an indirect
// multi-transfer.
func EncodeMultiIndirectPacked(token common.Address, packed [][32]byte) ([]byte, error) {
	return multi.Pack("golemTransferIndirectPacked", token, packed)
}

// PackRecipientAmount packs one (address, amount) pair into the single
// 32-byte word the packed multi-transfer variants expect: the low 96 bits
// hold the amount, the remaining bits the recipient address.
func PackRecipientAmount(recipient common.Address, amount *big.Int) ([32]byte, error) {
	var word [32]byte
	if amount.BitLen() > 96 {
		return word, errors.New("amount does not fit in 96 bits for packed transfer")
	}
	copy(word[:20], recipient.Bytes())
	amtBytes := amount.Bytes()
	copy(word[32-len(amtBytes):], amtBytes)
	return word, nil
}

// EncodeCreateDeposit encodes a Lock contract createDeposit call.
func EncodeCreateDeposit(id *big.Int, spender, token common.Address, amount, feeAmount, validTo *big.Int) ([]byte, error) {
	return lock.Pack("createDeposit", id, spender, token, amount, feeAmount, validTo)
}

// EncodeCloseDeposit encodes a Lock contract closeDeposit call.
func EncodeCloseDeposit(id *big.Int) ([]byte, error) {
	return lock.Pack("closeDeposit", id)
}

// EncodeTerminateDeposit encodes a Lock contract terminateDeposit call.
func EncodeTerminateDeposit(id *big.Int) ([]byte, error) {
	return lock.Pack("terminateDeposit", id)
}

// EncodeDepositSingleTransfer encodes a single-recipient deposit payout that
// leaves the deposit open.
func EncodeDepositSingleTransfer(id *big.Int, recipient common.Address, amount *big.Int) ([]byte, error) {
	return lock.Pack("depositSingleTransfer", id, recipient, amount)
}

// EncodeDepositSingleTransferAndClose encodes a single-recipient deposit
// payout that closes the deposit in the same call.
func EncodeDepositSingleTransferAndClose(id *big.Int, recipient common.Address, amount *big.Int) ([]byte, error) {
	return lock.Pack("depositSingleTransferAndClose", id, recipient, amount)
}

// EncodeDepositTransfer encodes a multi-recipient deposit payout that leaves
// the deposit open.
func EncodeDepositTransfer(id *big.Int, recipients []common.Address, amounts []*big.Int) ([]byte, error) {
	return lock.Pack("depositTransfer", id, recipients, amounts)
}

// EncodeDepositTransferAndClose encodes a multi-recipient deposit payout
// that closes the deposit in the same call.
func EncodeDepositTransferAndClose(id *big.Int, recipients []common.Address, amounts []*big.Int) ([]byte, error) {
	return lock.Pack("depositTransferAndClose", id, recipients, amounts)
}

// EncodeFaucetCreate encodes a faucet mint-to call.
func EncodeFaucetCreate(to common.Address) ([]byte, error) {
	return faucet.Pack("create", to)
}

// EncodeDistribute encodes a gas-distributor payout call.
func EncodeDistribute(recipients []common.Address, amounts []*big.Int) ([]byte, error) {
	return distributor.Pack("distribute", recipients, amounts)
}
