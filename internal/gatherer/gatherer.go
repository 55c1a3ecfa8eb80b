// Package gatherer coalesces QUEUED token-transfer rows sharing a
// (sender, chain, token) into one transaction row, respecting the
// multi-contract batch cap, the approve-before-multi rule, and deposit
// grouping, per spec section 4.6. It never touches a transfer whose
// tx_id is already set.
package gatherer

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	set "gopkg.in/fatih/set.v0"

	"github.com/golemfactory/erc20-payment-driver-go/internal/config"
	"github.com/golemfactory/erc20-payment-driver-go/internal/logging"
	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
	"github.com/golemfactory/erc20-payment-driver-go/internal/store"
	"github.com/golemfactory/erc20-payment-driver-go/internal/txbuilder"
)

var logger = logging.NewModuleLogger(logging.ModuleGatherer)

// Gatherer runs one gather pass per chain, invoked on the engine's
// gather_interval timer by the Runtime.
type Gatherer struct {
	store  store.Store
	chains map[int64]*config.ChainConfig
	engine *config.EngineConfig
}

// New builds a Gatherer over the given chain configs, keyed by chain_id.
func New(st store.Store, chains map[int64]*config.ChainConfig, engine *config.EngineConfig) *Gatherer {
	return &Gatherer{store: st, chains: chains, engine: engine}
}

// groupKey identifies one coalescing bucket: all transfers for one sender,
// one token, on one chain.
type groupKey struct {
	sender string
	token  string // "" denotes native
}

// GatherChain runs one pass over a single chain's queued transfers.
func (g *Gatherer) GatherChain(ctx context.Context, chainID int64) error {
	chain, ok := g.chains[chainID]
	if !ok {
		return errors.Errorf("gatherer: unknown chain %d", chainID)
	}

	transfers, err := g.store.GetNextTransfersToProcess(ctx, nil, chainID, 0, g.engine.IgnoreDeadlines)
	if err != nil {
		return errors.Wrap(err, "fetch queued transfers")
	}
	if len(transfers) == 0 {
		return nil
	}

	groups := make(map[groupKey][]*model.TokenTransfer)
	for _, t := range transfers {
		key := groupKey{sender: t.From}
		if t.Token != nil {
			key.token = *t.Token
		}
		groups[key] = append(groups[key], t)
	}

	for key, group := range groups {
		if err := g.gatherGroup(ctx, chain, key, group); err != nil {
			logger.Error("gather group failed", "sender", key.sender, "token", key.token, "chain_id", chainID, "err", err)
		}
	}
	return nil
}

func (g *Gatherer) gatherGroup(ctx context.Context, chain *config.ChainConfig, key groupKey, group []*model.TokenTransfer) error {
	deposit, rest := splitDepositBacked(group)
	if len(deposit) > 0 {
		if err := g.gatherDepositGroup(ctx, chain, key, deposit); err != nil {
			return err
		}
	}
	if len(rest) == 0 {
		return nil
	}

	if chain.MultiContract != nil && len(rest) > 1 {
		return g.gatherMultiGroup(ctx, chain, key, rest)
	}
	return g.gatherSingleTransfers(ctx, chain, key, rest)
}

// splitDepositBacked separates deposit-backed transfers (DepositID set)
// from plain ones; they are driven through the Lock contract instead of
// the multi-contract/direct-ERC20 path.
func splitDepositBacked(group []*model.TokenTransfer) (deposit, rest []*model.TokenTransfer) {
	for _, t := range group {
		if t.DepositID != nil {
			deposit = append(deposit, t)
		} else {
			rest = append(rest, t)
		}
	}
	return deposit, rest
}

// gatherDepositGroup groups by deposit_id and, per spec section 9(c),
// refuses to mix closing and non-closing transfers in one transaction:
// it emits a non-closing depositTransfer for deposit_finish=0 rows and a
// separate, later depositTransfer*AndClose for deposit_finish=1 rows.
func (g *Gatherer) gatherDepositGroup(ctx context.Context, chain *config.ChainConfig, key groupKey, group []*model.TokenTransfer) error {
	if chain.LockContract == nil {
		return errors.Errorf("deposit-backed transfer queued but chain %s has no lock_contract configured", chain.ChainName)
	}
	lockAddr := common.HexToAddress(chain.LockContract.Address)

	byDeposit := make(map[string][]*model.TokenTransfer)
	for _, t := range group {
		byDeposit[*t.DepositID] = append(byDeposit[*t.DepositID], t)
	}

	for depositIDStr, transfers := range byDeposit {
		depositID, ok := new(big.Int).SetString(depositIDStr, 10)
		if !ok {
			return errors.Errorf("deposit id %q is not a valid integer", depositIDStr)
		}

		var closing, nonClosing []*model.TokenTransfer
		for _, t := range transfers {
			if t.DepositFinish {
				closing = append(closing, t)
			} else {
				nonClosing = append(nonClosing, t)
			}
		}

		if len(nonClosing) > 0 {
			if err := g.emitDepositTransaction(ctx, key.sender, lockAddr, depositID, nonClosing, false); err != nil {
				return err
			}
		}
		if len(closing) > 0 {
			if err := g.emitDepositTransaction(ctx, key.sender, lockAddr, depositID, closing, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Gatherer) emitDepositTransaction(ctx context.Context, sender string, lockAddr common.Address, depositID *big.Int, transfers []*model.TokenTransfer, closeDeposit bool) error {
	var tx *model.Transaction
	var err error
	if len(transfers) == 1 {
		recv := common.HexToAddress(transfers[0].Receiver)
		tx, err = txbuilder.DepositSingleTransfer(sender, lockAddr, transfers[0].ChainID, depositID, recv, transfers[0].Amount, closeDeposit)
	} else {
		recipients := make([]txbuilder.Recipient, len(transfers))
		for i, t := range transfers {
			recipients[i] = txbuilder.Recipient{Address: common.HexToAddress(t.Receiver), Amount: t.Amount}
		}
		tx, err = txbuilder.DepositTransfer(sender, lockAddr, transfers[0].ChainID, depositID, recipients, closeDeposit)
	}
	if err != nil {
		return err
	}
	return g.linkTransfersToNewTransaction(ctx, tx, transfers)
}

// gatherMultiGroup batches up to max_at_once transfers into one MULTI.*
// transaction, after ensuring the multi-contract has a confirmed infinite
// allowance on this token; if not, it emits the approve instead and skips
// the multi batch this round (spec section 4.6, step 5).
func (g *Gatherer) gatherMultiGroup(ctx context.Context, chain *config.ChainConfig, key groupKey, group []*model.TokenTransfer) error {
	if key.token == "" {
		// native-coin transfers never need an allowance or multi-contract.
		return g.gatherSingleTransfers(ctx, chain, key, group)
	}

	multiAddr := common.HexToAddress(chain.MultiContract.Address)
	tokenAddr := common.HexToAddress(key.token)

	ok, err := g.hasConfirmedAllowance(ctx, key.sender, key.token, chain.MultiContract.Address, chain.ChainID)
	if err != nil {
		return err
	}
	if !ok {
		pending, err := g.hasPendingAllowance(ctx, key.sender, key.token, chain.MultiContract.Address, chain.ChainID)
		if err != nil {
			return err
		}
		if pending {
			return nil
		}
		tx, err := txbuilder.ERC20Approve(key.sender, tokenAddr, multiAddr, chain.ChainID)
		if err != nil {
			return err
		}
		if err := g.store.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		return g.store.InsertAllowance(ctx, &model.Allowance{
			Owner:   key.sender,
			Token:   key.token,
			Spender: chain.MultiContract.Address,
			ChainID: chain.ChainID,
		})
	}

	maxAtOnce := chain.MultiContract.MaxAtOnce
	if maxAtOnce <= 0 {
		maxAtOnce = len(group)
	}
	sort.Slice(group, func(i, j int) bool { return group[i].CreateDate.Before(group[j].CreateDate) })

	for len(group) > 0 {
		n := maxAtOnce
		if n > len(group) {
			n = len(group)
		}
		batch := group[:n]
		group = group[n:]

		if distinct := distinctReceivers(batch); distinct < len(batch) {
			logger.Warn("multi-batch contains repeated receiver addresses",
				"sender", key.sender, "chain_id", chain.ChainID, "batch_size", len(batch), "distinct_receivers", distinct)
		}

		recipients := make([]txbuilder.Recipient, len(batch))
		for i, t := range batch {
			recipients[i] = txbuilder.Recipient{Address: common.HexToAddress(t.Receiver), Amount: t.Amount}
		}
		tx, err := txbuilder.MultiTransfer(key.sender, multiAddr, tokenAddr, chain.ChainID, recipients, true, true)
		if err != nil {
			return err
		}
		if err := g.linkTransfersToNewTransaction(ctx, tx, batch); err != nil {
			return err
		}
	}
	return nil
}

// distinctReceivers counts unique receiver addresses in a batch; a batch
// paying the same address twice is not invalid, but it is unusual enough to
// flag, since the packed MULTI calldata format has no per-recipient memo to
// tell two payments to the same address apart after the fact.
func distinctReceivers(batch []*model.TokenTransfer) int {
	s := set.New(set.ThreadSafe)
	for _, t := range batch {
		s.Add(t.Receiver)
	}
	return s.Size()
}

// gatherSingleTransfers emits one transaction per transfer: `transfer` for
// native coin, `ERC20.transfer` for a token.
func (g *Gatherer) gatherSingleTransfers(ctx context.Context, chain *config.ChainConfig, key groupKey, group []*model.TokenTransfer) error {
	for _, t := range group {
		to := common.HexToAddress(t.Receiver)
		var tx *model.Transaction
		var err error
		if t.Token == nil {
			tx = txbuilder.NativeTransfer(t.From, to, t.ChainID, t.Amount)
		} else {
			tx, err = txbuilder.ERC20Transfer(t.From, common.HexToAddress(*t.Token), to, t.ChainID, t.Amount)
		}
		if err != nil {
			return err
		}
		if err := g.linkTransfersToNewTransaction(ctx, tx, []*model.TokenTransfer{t}); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gatherer) hasConfirmedAllowance(ctx context.Context, owner, token, spender string, chainID int64) (bool, error) {
	allowances, err := g.store.GetAllowancesByOwner(ctx, owner, chainID)
	if err != nil {
		return false, err
	}
	for _, a := range allowances {
		if a.Token == token && a.Spender == spender && a.ConfirmDate != nil {
			return true, nil
		}
	}
	return false, nil
}

// hasPendingAllowance reports whether an approve for (owner, token, spender)
// has already been gathered and is awaiting confirmation, so a gather pass
// does not submit a second redundant approve transaction while the first is
// still in flight.
func (g *Gatherer) hasPendingAllowance(ctx context.Context, owner, token, spender string, chainID int64) (bool, error) {
	allowances, err := g.store.GetAllowancesByOwner(ctx, owner, chainID)
	if err != nil {
		return false, err
	}
	for _, a := range allowances {
		if a.Token == token && a.Spender == spender && a.ConfirmDate == nil {
			return true, nil
		}
	}
	return false, nil
}

// linkTransfersToNewTransaction inserts tx and points every transfer's
// tx_id at it inside one atomic store transaction, so the gatherer never
// leaves a transfer "claimed" by a transaction row that failed to commit.
func (g *Gatherer) linkTransfersToNewTransaction(ctx context.Context, tx *model.Transaction, transfers []*model.TokenTransfer) error {
	return g.store.WithTx(ctx, func(s store.Store) error {
		if err := s.InsertTransaction(ctx, tx); err != nil {
			return errors.Wrap(err, "insert transaction")
		}
		for _, t := range transfers {
			txID := tx.ID
			t.TxID = &txID
			if err := s.UpdateTokenTransfer(ctx, t); err != nil {
				return errors.Wrapf(err, "link transfer %s", t.ID)
			}
		}
		return nil
	})
}
