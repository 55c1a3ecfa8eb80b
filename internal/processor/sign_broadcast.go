package processor

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/golemfactory/erc20-payment-driver-go/internal/events"
	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
	"github.com/golemfactory/erc20-payment-driver-go/internal/signer"
)

// stepSign calls the configured Signer and, on success, advances the row
// straight through to broadcast: SIGNED is a transient state this engine
// never leaves parked, since re-signing an already-nonce-assigned row
// carries no benefit over immediately trying to send it.
func (p *Processor) stepSign(ctx context.Context, tx *model.Transaction) error {
	unsigned := &signer.UnsignedTx{
		ChainID:      tx.ChainID,
		Nonce:        *tx.Nonce,
		GasLimit:     *tx.GasLimit,
		MaxFeePerGas: tx.MaxFeePerGas,
		PriorityFee:  tx.PriorityFee,
		To:           common.HexToAddress(tx.To),
		Value:        tx.Val,
		Data:         tx.CallData,
	}

	raw, hash, err := p.signer.Sign(ctx, unsigned)
	if err != nil {
		msg := "cant_sign: " + err.Error()
		tx.EngineError = &msg
		tx.Unrecoverable = true
		if err := p.store.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		if p.feed != nil {
			reason := events.CantSignTx
			if tx.Method == model.MethodERC20Approve {
				reason = events.CantSignAllowance
			}
			p.feed.Send(events.NewCantSign(tx.ID, tx.ChainID, reason, msg))
		}
		return nil
	}

	now := time.Now()
	tx.SignedRaw = raw
	tx.SignedDate = &now
	hashHex := hash.Hex()
	tx.TxHash = &hashHex

	if err := p.store.UpdateTransaction(ctx, tx); err != nil {
		return errors.Wrap(err, "persist signed transaction")
	}
	return p.broadcast(ctx, tx)
}

// broadcast sends the signed raw transaction and classifies the result per
// spec section 4.7's BROADCAST rules.
func (p *Processor) broadcast(ctx context.Context, tx *model.Transaction) error {
	var decoded types.Transaction
	if err := decoded.UnmarshalBinary(tx.SignedRaw); err != nil {
		return errors.Wrap(err, "decode signed raw transaction")
	}

	err := p.pool.Call(ctx, "eth_sendRawTransaction", func(callCtx context.Context, idx int) error {
		client, derr := p.pool.EthClient(idx)
		if derr != nil {
			return derr
		}
		return client.SendTransaction(callCtx, &decoded)
	})

	now := time.Now()
	tx.BroadcastDate = &now

	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "already known"):
			// treated as success: the original broadcast landed in some
			// endpoint's mempool even though this attempt raced it.
		case strings.Contains(msg, "insufficient funds"):
			p.park(tx, parkNoGas)
			tx.EngineMessage = "stuck: insufficient funds at broadcast"
			p.emitStuck(tx, events.StuckNoGas)
		case strings.Contains(msg, "transfer amount exceeds balance"):
			p.park(tx, parkNoToken)
			tx.EngineMessage = "stuck: insufficient token balance at broadcast"
			p.emitStuck(tx, events.StuckNoToken)
		case strings.Contains(msg, "invalid chain id"), strings.Contains(msg, "chain id mismatch"):
			tx.Unrecoverable = true
			errMsg := msg
			tx.EngineError = &errMsg
			p.emitStuck(tx, events.StuckInvalidChain)
		case strings.Contains(msg, "invalid sender"):
			tx.Unrecoverable = true
			errMsg := msg
			tx.EngineError = &errMsg
			p.emitStuck(tx, events.StuckUnrecoverable)
			if p.feed != nil {
				p.feed.Send(events.NewTransferFailed(tx.ID, msg))
			}
		case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "replacement transaction underpriced"):
			// presume the original instance of this nonce already landed;
			// fall through to receipt polling rather than failing here.
		default:
			tx.EngineMessage = "broadcast error: " + msg
		}
	} else {
		broadcastCounter.Inc(1)
		if p.feed != nil && tx.TxHash != nil {
			p.feed.Send(events.NewTransactionBroadcast(tx.ID, *tx.TxHash, tx.ChainID))
		}
	}

	return p.store.UpdateTransaction(ctx, tx)
}
