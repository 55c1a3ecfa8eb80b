// Package runtime wires Store, RPC Pool, Signer, Gatherer and Processor
// together into one running driver, owning chain setup and exposing the
// request-level operations spec section 4.9 names: transfer_with_account,
// mint, distribute_gas, close_deposit, terminate_deposit,
// get_token_balance, get_unpaid_token_amount. It spawns one Processor task
// per (chain, sender), one Gatherer task per chain, and one Endpoint-Pool
// resolver task per chain, mirroring the teacher's per-resource task-owning
// loop shape (node/sc/bridge_manager.go's per-bridge goroutines).
package runtime

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/golemfactory/erc20-payment-driver-go/internal/abicoder"
	"github.com/golemfactory/erc20-payment-driver-go/internal/config"
	"github.com/golemfactory/erc20-payment-driver-go/internal/events"
	"github.com/golemfactory/erc20-payment-driver-go/internal/gatherer"
	"github.com/golemfactory/erc20-payment-driver-go/internal/logging"
	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
	"github.com/golemfactory/erc20-payment-driver-go/internal/processor"
	"github.com/golemfactory/erc20-payment-driver-go/internal/ratelimit"
	"github.com/golemfactory/erc20-payment-driver-go/internal/rpcpool"
	"github.com/golemfactory/erc20-payment-driver-go/internal/signer"
	"github.com/golemfactory/erc20-payment-driver-go/internal/store"
	"github.com/golemfactory/erc20-payment-driver-go/internal/txbuilder"
)

var logger = logging.NewModuleLogger(logging.ModuleRuntime)

// chainRuntime is everything Runtime owns for one configured chain.
type chainRuntime struct {
	cfg   *config.ChainConfig
	pool  *rpcpool.Pool
	gath  *gatherer.Gatherer
	procs map[string]*processor.Processor // keyed by sender hex address
}

// Options bundles the inputs Runtime needs beyond the parsed Config: the
// opened Store, one Signer per configured private key, and whether to skip
// spawning background loops (spec section 4.9's skip_service_loop, used by
// diagnostic one-shot invocations).
type Options struct {
	Store           store.Store
	Signers         []signer.Signer
	SkipServiceLoop bool
}

// Runtime is the top-level object cmd/paymentdriverd constructs and runs.
type Runtime struct {
	cfg     *config.Config
	store   store.Store
	feed    *events.Feed
	ledger  *ratelimit.Ledger
	signers map[string]signer.Signer // keyed by sender hex address
	chains  map[int64]*chainRuntime

	skipServiceLoop bool
}

// New builds chain pools, gatherers and one Processor per (chain, signer)
// pair, but does not start any background loop; call Run for that.
func New(cfg *config.Config, opts Options) (*Runtime, error) {
	r := &Runtime{
		cfg:     cfg,
		store:   opts.Store,
		feed:    &events.Feed{},
		ledger:  ratelimit.NewLedger(),
		signers: make(map[string]signer.Signer),
		chains:  make(map[int64]*chainRuntime),

		skipServiceLoop: opts.SkipServiceLoop,
	}

	for _, s := range opts.Signers {
		r.signers[s.Address().Hex()] = s
	}

	if err := validateChains(cfg.Chains); err != nil {
		return nil, err
	}

	chainConfigs := make(map[int64]*config.ChainConfig, len(cfg.Chains))
	for i := range cfg.Chains {
		chainConfigs[cfg.Chains[i].ChainID] = &cfg.Chains[i]
	}

	for i := range cfg.Chains {
		chainCfg := &cfg.Chains[i]
		pool := rpcpool.NewPool(chainCfg.ChainID, r.feed)
		for idx, url := range chainCfg.RPCEndpoints {
			pool.Add(chainCfg.ChainName+"-"+strconv.Itoa(idx), url, rpcpool.BackupLevel(0), 10*time.Second)
		}

		cr := &chainRuntime{
			cfg:   chainCfg,
			pool:  pool,
			gath:  gatherer.New(opts.Store, chainConfigs, &cfg.Engine),
			procs: make(map[string]*processor.Processor),
		}
		for _, s := range opts.Signers {
			cr.procs[s.Address().Hex()] = processor.New(s.Address(), chainCfg, &cfg.Engine, opts.Store, pool, s, r.feed)
		}
		r.chains[chainCfg.ChainID] = cr
	}

	return r, nil
}

// Events returns the process-wide driver event feed, for callers that want
// to observe TransactionBroadcast/Confirmed/Stuck and TransferDone/Failed.
func (r *Runtime) Events() *events.Feed { return r.feed }

// Run spawns the gatherer and every processor task and blocks until ctx is
// cancelled or one task returns an error, matching join_tasks from spec
// section 4.9. If SkipServiceLoop was set, Run spawns nothing and blocks
// until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	if r.skipServiceLoop {
		logger.Info("service loop disabled, runtime idle")
		<-ctx.Done()
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)

	for chainID, cr := range r.chains {
		chainID, cr := chainID, cr

		if r.cfg.Engine.GatherAtStart {
			if err := cr.gath.GatherChain(gctx, chainID); err != nil {
				logger.Error("initial gather failed", "chain_id", chainID, "err", err)
			}
		}

		g.Go(func() error {
			return r.runGatherLoop(gctx, chainID, cr)
		})

		resolver := rpcpool.NewResolver(cr.pool, rpcpool.BackupLevel(1), 10*time.Second, 5*time.Minute).
			WithValidation(cr.cfg.VerifyInterval(), cr.cfg.AllowedHeadBehind())
		g.Go(func() error {
			resolver.Run(gctx)
			return gctx.Err()
		})

		for sender, p := range cr.procs {
			sender, p := sender, p
			g.Go(func() error {
				logger.Info("starting processor task", "chain_id", chainID, "sender", sender)
				return p.Run(gctx)
			})
		}
	}

	return g.Wait()
}

func (r *Runtime) runGatherLoop(ctx context.Context, chainID int64, cr *chainRuntime) error {
	interval := r.cfg.Engine.GatherInterval()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
			if err := cr.gath.GatherChain(ctx, chainID); err != nil {
				logger.Error("gather pass failed", "chain_id", chainID, "err", err)
			}
		}
	}
}

func (r *Runtime) chain(chainID int64) (*chainRuntime, error) {
	cr, ok := r.chains[chainID]
	if !ok {
		return nil, errors.Errorf("unconfigured chain %d", chainID)
	}
	return cr, nil
}

func (r *Runtime) signerFor(address string) (signer.Signer, error) {
	s, ok := r.signers[address]
	if !ok {
		return nil, errors.Errorf("no signer configured for account %s", address)
	}
	return s, nil
}

// TransferArgs describes one transfer_with_account request, spec section
// 4.9.
type TransferArgs struct {
	PaymentID *string
	Receiver  string
	ChainID   int64
	Token     *string
	Amount    *big.Int
	DepositID *string
	Deadline  *time.Time
}

// TransferWithAccount enqueues a TokenTransfer from the given account; the
// Gatherer picks it up on its next pass and batches it with others sharing
// (sender, token).
func (r *Runtime) TransferWithAccount(ctx context.Context, account string, args TransferArgs) (*model.TokenTransfer, error) {
	if _, err := r.chain(args.ChainID); err != nil {
		return nil, err
	}
	if _, err := r.signerFor(account); err != nil {
		return nil, err
	}

	id, err := newTransferID()
	if err != nil {
		return nil, err
	}
	t := &model.TokenTransfer{
		ID:         id,
		PaymentID:  args.PaymentID,
		From:       account,
		Receiver:   args.Receiver,
		ChainID:    args.ChainID,
		Token:      args.Token,
		Amount:     args.Amount,
		DepositID:  args.DepositID,
		CreateDate: time.Now(),
		Deadline:   args.Deadline,
	}
	if args.DepositID != nil {
		t.DepositFinish = args.Deadline == nil
	}
	if err := r.store.InsertTokenTransfer(ctx, t); err != nil {
		return nil, errors.Wrap(err, "insert token transfer")
	}
	return t, nil
}

// Mint requests native/GLM faucet funds for an account, refusing locally
// once max_glm_allowed would be exceeded (spec section 4.9, 6).
func (r *Runtime) Mint(ctx context.Context, account string, chainID int64, amount *big.Int) (*model.Transaction, error) {
	cr, err := r.chain(chainID)
	if err != nil {
		return nil, err
	}
	if cr.cfg.MintContract == nil {
		return nil, errors.Errorf("chain %s has no mint_contract configured", cr.cfg.ChainName)
	}

	var maxAllowed *big.Int
	if cr.cfg.MintContract.MaxGlmAllowed != "" {
		v, ok := new(big.Int).SetString(cr.cfg.MintContract.MaxGlmAllowed, 10)
		if !ok {
			return nil, errors.Errorf("chain %s: max_glm_allowed is not a valid integer", cr.cfg.ChainName)
		}
		maxAllowed = v
	}
	if !r.ledger.Allow(chainID, account, amount, maxAllowed) {
		return nil, errors.Errorf("account %s has exhausted its faucet allowance on chain %d", account, chainID)
	}

	faucetAddr := common.HexToAddress(cr.cfg.MintContract.Address)
	tx, err := txbuilder.FaucetCreate(account, faucetAddr, common.HexToAddress(account), chainID)
	if err != nil {
		r.ledger.Reverse(chainID, account, amount)
		return nil, err
	}
	if err := r.store.InsertTransaction(ctx, tx); err != nil {
		r.ledger.Reverse(chainID, account, amount)
		return nil, errors.Wrap(err, "insert mint transaction")
	}
	return tx, nil
}

// DistributeGas pays native coin to a batch of recipients from the
// distributor contract, used to seed new accounts with gas.
func (r *Runtime) DistributeGas(ctx context.Context, account string, chainID int64, recipients []txbuilder.Recipient) (*model.Transaction, error) {
	cr, err := r.chain(chainID)
	if err != nil {
		return nil, err
	}
	if cr.cfg.DistributorContract == nil {
		return nil, errors.Errorf("chain %s has no distributor_contract configured", cr.cfg.ChainName)
	}
	tx, err := txbuilder.Distribute(account, common.HexToAddress(cr.cfg.DistributorContract.Address), chainID, recipients)
	if err != nil {
		return nil, err
	}
	if err := r.store.InsertTransaction(ctx, tx); err != nil {
		return nil, errors.Wrap(err, "insert distribute transaction")
	}
	return tx, nil
}

// CloseDeposit closes a Lock deposit without a final payout.
func (r *Runtime) CloseDeposit(ctx context.Context, account string, chainID int64, depositID *big.Int) (*model.Transaction, error) {
	cr, err := r.chain(chainID)
	if err != nil {
		return nil, err
	}
	if cr.cfg.LockContract == nil {
		return nil, errors.Errorf("chain %s has no lock_contract configured", cr.cfg.ChainName)
	}
	tx, err := txbuilder.CloseDeposit(account, common.HexToAddress(cr.cfg.LockContract.Address), chainID, depositID)
	if err != nil {
		return nil, err
	}
	if err := r.store.InsertTransaction(ctx, tx); err != nil {
		return nil, errors.Wrap(err, "insert close deposit transaction")
	}
	return tx, nil
}

// TerminateDeposit force-terminates a deposit past its valid_to deadline.
func (r *Runtime) TerminateDeposit(ctx context.Context, account string, chainID int64, depositID *big.Int) (*model.Transaction, error) {
	cr, err := r.chain(chainID)
	if err != nil {
		return nil, err
	}
	if cr.cfg.LockContract == nil {
		return nil, errors.Errorf("chain %s has no lock_contract configured", cr.cfg.ChainName)
	}
	tx, err := txbuilder.TerminateDeposit(account, common.HexToAddress(cr.cfg.LockContract.Address), chainID, depositID)
	if err != nil {
		return nil, err
	}
	if err := r.store.InsertTransaction(ctx, tx); err != nil {
		return nil, errors.Wrap(err, "insert terminate deposit transaction")
	}
	return tx, nil
}

// GetTokenBalance reads an account's on-chain token (or native, when token
// is nil) balance through the pool.
func (r *Runtime) GetTokenBalance(ctx context.Context, chainID int64, token *string, account string) (*big.Int, error) {
	cr, err := r.chain(chainID)
	if err != nil {
		return nil, err
	}
	addr := common.HexToAddress(account)

	var balance *big.Int
	if token == nil {
		callErr := cr.pool.Call(ctx, "eth_getBalance", func(callCtx context.Context, idx int) error {
			client, derr := cr.pool.EthClient(idx)
			if derr != nil {
				return derr
			}
			b, derr := client.BalanceAt(callCtx, addr, nil)
			if derr != nil {
				return derr
			}
			balance = b
			return nil
		})
		if callErr != nil {
			return nil, callErr
		}
		if r.feed != nil {
			r.feed.Send(events.NewBalanceUpdate(chainID, account, nil, balance.String()))
		}
		return balance, nil
	}

	tokenAddr := common.HexToAddress(*token)
	calldata, err := abicoder.EncodeERC20BalanceOf(addr)
	if err != nil {
		return nil, errors.Wrap(err, "encode balanceOf")
	}

	callErr := cr.pool.Call(ctx, "eth_call", func(callCtx context.Context, idx int) error {
		client, derr := cr.pool.EthClient(idx)
		if derr != nil {
			return derr
		}
		result, derr := client.CallContract(callCtx, ethereum.CallMsg{To: &tokenAddr, Data: calldata}, nil)
		if derr != nil {
			return derr
		}
		balance, derr = abicoder.DecodeERC20BalanceOf(result)
		return derr
	})
	if callErr != nil {
		return nil, callErr
	}
	if r.feed != nil {
		r.feed.Send(events.NewBalanceUpdate(chainID, account, token, balance.String()))
	}
	return balance, nil
}

// GetUnpaidTokenAmount sums the amount of every still-QUEUED TokenTransfer
// (not yet linked to a transaction) for (chain, token, from), skipping
// expired deadlines unless ignore_deadlines is set, spec section 4.9.
// Transfers already linked to an unconfirmed transaction are not counted.
func (r *Runtime) GetUnpaidTokenAmount(ctx context.Context, chainID int64, token *string, from string) (*big.Int, error) {
	return r.store.GetUnpaidAmount(ctx, chainID, token, from, r.cfg.Engine.IgnoreDeadlines)
}

// SkipTx force-marks a stuck transaction confirmed without touching the
// chain, an operator escape hatch for rows the engine can no longer drive
// (e.g. manually replaced out of band). It does not alter the linked
// transfers' paid status beyond what finalize would already do.
func (r *Runtime) SkipTx(ctx context.Context, txID string) error {
	tx, err := r.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx == nil {
		return errors.Errorf("unknown transaction %s", txID)
	}
	now := time.Now()
	tx.ConfirmDate = &now
	tx.EngineMessage = "skipped by operator"
	if r.feed != nil {
		r.feed.Send(events.NewTransferFailed(tx.ID, "skipped by operator"))
	}
	return r.store.UpdateTransaction(ctx, tx)
}

func newTransferID() (string, error) {
	return uuid.GenerateUUID()
}

// Close tears down every chain's RPC pool, releasing dialed connections.
// Safe to call after Run returns on ctx cancellation.
func (r *Runtime) Close() {
	for _, cr := range r.chains {
		cr.pool.Close()
	}
}

// validateChains reports every misconfigured chain at once, rather than
// failing on the first bad entry and leaving the rest undiagnosed in a
// multi-chain config file.
func validateChains(chains []config.ChainConfig) error {
	var errs error
	seen := make(map[int64]bool, len(chains))
	for _, c := range chains {
		if c.ChainID == 0 {
			errs = multierr.Append(errs, errors.Errorf("chain %q: chain_id must be set", c.ChainName))
		}
		if seen[c.ChainID] {
			errs = multierr.Append(errs, errors.Errorf("chain %q: duplicate chain_id %d", c.ChainName, c.ChainID))
		}
		seen[c.ChainID] = true
		if len(c.RPCEndpoints) == 0 {
			errs = multierr.Append(errs, errors.Errorf("chain %q: at least one rpc endpoint is required", c.ChainName))
		}
	}
	return errs
}
