package processor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/golemfactory/erc20-payment-driver-go/internal/events"
	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
	"github.com/golemfactory/erc20-payment-driver-go/internal/store"
)

// stepConfirm polls for a receipt; absent one past transaction_timeout it
// marks (or bumps) the row as stuck, per spec section 4.7's CONFIRM and
// STUCK/FEE BUMP rules.
func (p *Processor) stepConfirm(ctx context.Context, tx *model.Transaction) error {
	receipt, blockNumber, err := p.pollReceipt(ctx, tx)
	if err != nil {
		return errors.Wrap(err, "poll receipt")
	}

	if receipt == nil {
		return p.handleUnconfirmed(ctx, tx)
	}

	tx.BlockNumber = ptrUint64(receipt.blockNumber)
	tx.ChainStatus = ptrUint64(receipt.status)
	tx.GasUsed = ptrUint64(receipt.gasUsed)
	tx.EffectiveGasPrice = receipt.effectiveGasPrice
	tx.FeePaid = new(big.Int).Mul(big.NewInt(int64(receipt.gasUsed)), receipt.effectiveGasPrice)

	if blockNumber < receipt.blockNumber+p.chain.ConfirmationBlocks {
		return p.store.UpdateTransaction(ctx, tx)
	}

	return p.finalizeConfirmed(ctx, tx)
}

// handleUnconfirmed sets first_stuck_date once transaction_timeout has
// elapsed since broadcast and, if replacement_timeout is configured and has
// also elapsed, builds a fee-bumped replacement.
func (p *Processor) handleUnconfirmed(ctx context.Context, tx *model.Transaction) error {
	if tx.BroadcastDate == nil {
		return p.broadcast(ctx, tx)
	}
	sinceBroadcast := time.Since(*tx.BroadcastDate)
	if sinceBroadcast < p.chain.TransactionTimeout() {
		return nil
	}

	if tx.FirstStuckDate == nil {
		now := time.Now()
		tx.FirstStuckDate = &now
		// No specific resource cause is known at this point — a
		// replacement_timeout, if configured, may still clear it, so this is
		// reported as Unrecoverable only in the sense that the engine
		// currently has no better diagnosis to offer.
		p.emitStuck(tx, events.StuckUnrecoverable)
		if err := p.store.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
	}

	replacementTimeout, ok := p.chain.ReplacementTimeout()
	if !ok || time.Since(*tx.FirstStuckDate) < replacementTimeout {
		return nil
	}
	return p.bumpAndRebroadcast(ctx, tx)
}

// bumpAndRebroadcast multiplies the fee fields by the engine's fee-bump
// factor (at least 1.125 per EVM replacement rules, spec section 9 open
// question (a)), capped at a safety multiple of the chain's configured cap,
// re-signs and re-sends on the same nonce.
func (p *Processor) bumpAndRebroadcast(ctx context.Context, tx *model.Transaction) error {
	const safetyMultiple = 4.0
	factor := p.engine.EffectiveFeeBumpMultiplier()

	bumpedMaxFee := mulFloat(tx.MaxFeePerGas, factor)
	bumpedPriority := mulFloat(tx.PriorityFee, factor)

	cap := mulFloat(p.chain.MaxFeePerGas(), safetyMultiple)
	if bumpedMaxFee.Cmp(cap) > 0 {
		bumpedMaxFee = cap
	}

	oldHash := ""
	if tx.TxHash != nil {
		oldHash = *tx.TxHash
	}
	tx.MaxFeePerGas = bumpedMaxFee
	tx.PriorityFee = bumpedPriority
	tx.EngineMessage = "fee bumped, previous hash " + oldHash
	tx.SignedRaw = nil
	tx.SignedDate = nil
	tx.TxHash = nil
	tx.BroadcastDate = nil

	if err := p.store.UpdateTransaction(ctx, tx); err != nil {
		return err
	}
	return p.stepSign(ctx, tx)
}

func mulFloat(v *big.Int, factor float64) *big.Int {
	f := new(big.Float).Mul(new(big.Float).SetInt(v), big.NewFloat(factor))
	out, _ := f.Int(nil)
	return out
}

// finalizeConfirmed marks the Transaction DONE and, atomically, every
// linked TokenTransfer paid (or errored, on revert), splitting fee_paid
// proportionally by amount with the remainder assigned to the last
// transfer — spec section 9 open question (b).
func (p *Processor) finalizeConfirmed(ctx context.Context, tx *model.Transaction) error {
	now := time.Now()
	tx.ConfirmDate = &now

	if p.feed != nil && tx.TxHash != nil && tx.BlockNumber != nil && tx.ChainStatus != nil {
		p.feed.Send(events.NewTransactionConfirmed(tx.ID, *tx.TxHash, tx.ChainID, *tx.BlockNumber, *tx.ChainStatus))
	}

	return p.store.WithTx(ctx, func(s store.Store) error {
		if err := s.UpdateTransaction(ctx, tx); err != nil {
			return err
		}

		if tx.Method == model.MethodERC20Approve {
			if err := p.finalizeApprove(ctx, s, tx); err != nil {
				return err
			}
		}

		transfers, err := s.GetTransfersByTx(ctx, tx.ID)
		if err != nil {
			return err
		}
		fees := splitFeeByAmount(tx.FeePaid, transfers)
		for i, t := range transfers {
			if tx.ChainStatus != nil && *tx.ChainStatus == 0 {
				msg := "transaction reverted on chain"
				t.Error = &msg
			} else {
				t.PaidDate = &now
				t.FeePaid = fees[i]
			}
			if err := s.UpdateTokenTransfer(ctx, t); err != nil {
				return err
			}
			if p.feed != nil && t.PaidDate != nil {
				p.feed.Send(events.NewTransferDone(t.ID, tx.ID, fees[i].String()))
			}
		}
		return nil
	})
}

// finalizeApprove marks the Allowance row this ERC20.approve transaction was
// gathered for as confirmed (or leaves it pending on revert) and publishes
// ApproveFinished so a waiting multi-contract batch can proceed.
func (p *Processor) finalizeApprove(ctx context.Context, s store.Store, tx *model.Transaction) error {
	allowances, err := s.GetAllowancesByOwner(ctx, tx.From, tx.ChainID)
	if err != nil {
		return err
	}
	var match *model.Allowance
	for _, a := range allowances {
		if a.Token == tx.To && a.ConfirmDate == nil {
			match = a
			break
		}
	}
	if match == nil {
		return nil
	}

	success := tx.ChainStatus != nil && *tx.ChainStatus == 1
	if success {
		now := time.Now()
		match.ConfirmDate = &now
		if err := s.UpdateAllowance(ctx, match); err != nil {
			return err
		}
	}
	if p.feed != nil {
		p.feed.Send(events.NewApproveFinished(tx.ID, tx.ChainID, match.Owner, match.Token, match.Spender, success))
	}
	return nil
}

// splitFeeByAmount divides totalFee proportionally by each transfer's
// amount using integer division, assigning the rounding remainder to the
// last transfer so the shares sum exactly to totalFee.
func splitFeeByAmount(totalFee *big.Int, transfers []*model.TokenTransfer) []*big.Int {
	out := make([]*big.Int, len(transfers))
	if len(transfers) == 0 || totalFee == nil {
		return out
	}
	sum := big.NewInt(0)
	for _, t := range transfers {
		if t.Amount != nil {
			sum.Add(sum, t.Amount)
		}
	}
	if sum.Sign() == 0 {
		share := new(big.Int).Div(totalFee, big.NewInt(int64(len(transfers))))
		for i := range out {
			out[i] = new(big.Int).Set(share)
		}
		out[len(out)-1].Add(out[len(out)-1], new(big.Int).Sub(totalFee, new(big.Int).Mul(share, big.NewInt(int64(len(transfers))))))
		return out
	}

	assigned := big.NewInt(0)
	for i, t := range transfers {
		if i == len(transfers)-1 {
			out[i] = new(big.Int).Sub(totalFee, assigned)
			continue
		}
		share := new(big.Int).Mul(totalFee, t.Amount)
		share.Div(share, sum)
		out[i] = share
		assigned.Add(assigned, share)
	}
	return out
}

func ptrUint64(v uint64) *uint64 { return &v }

type decodedReceipt struct {
	blockNumber       uint64
	status            uint64
	gasUsed           uint64
	effectiveGasPrice *big.Int
}

// pollReceipt fetches the transaction receipt (nil, nil if not yet mined)
// and the current chain head, both needed to decide confirmation depth.
func (p *Processor) pollReceipt(ctx context.Context, tx *model.Transaction) (*decodedReceipt, uint64, error) {
	if tx.TxHash == nil {
		return nil, 0, errors.New("cannot poll receipt: transaction has no hash")
	}
	hash := common.HexToHash(*tx.TxHash)

	var result *decodedReceipt
	var head uint64
	err := p.pool.Call(ctx, "eth_getTransactionReceipt", func(callCtx context.Context, idx int) error {
		client, derr := p.pool.EthClient(idx)
		if derr != nil {
			return derr
		}
		receipt, derr := client.TransactionReceipt(callCtx, hash)
		if derr != nil {
			if derr.Error() == "not found" {
				result = nil
				return nil
			}
			return derr
		}
		h, derr := client.BlockNumber(callCtx)
		if derr != nil {
			return derr
		}
		head = h
		result = &decodedReceipt{
			blockNumber:       receipt.BlockNumber.Uint64(),
			status:            receipt.Status,
			gasUsed:           receipt.GasUsed,
			effectiveGasPrice: receipt.EffectiveGasPrice,
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return result, head, nil
}

// finalize handles a row already in CONFIRMED state on process restart
// (block_number/chain_status set, confirm_date not yet): re-check depth and
// finish if enough confirmations have accrued since the last run.
func (p *Processor) finalize(ctx context.Context, tx *model.Transaction) error {
	if tx.BlockNumber == nil {
		return nil
	}
	var head uint64
	err := p.pool.Call(ctx, "eth_blockNumber", func(callCtx context.Context, idx int) error {
		client, derr := p.pool.EthClient(idx)
		if derr != nil {
			return derr
		}
		h, derr := client.BlockNumber(callCtx)
		if derr != nil {
			return derr
		}
		head = h
		return nil
	})
	if err != nil {
		return err
	}
	if head < *tx.BlockNumber+p.chain.ConfirmationBlocks {
		return nil
	}
	return p.finalizeConfirmed(ctx, tx)
}
