package runtime

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/erc20-payment-driver-go/internal/config"
	"github.com/golemfactory/erc20-payment-driver-go/internal/model"
	"github.com/golemfactory/erc20-payment-driver-go/internal/signer"
	"github.com/golemfactory/erc20-payment-driver-go/internal/store"
)

type fakeSigner struct{ addr common.Address }

func (f *fakeSigner) Address() common.Address { return f.addr }
func (f *fakeSigner) Sign(ctx context.Context, tx *signer.UnsignedTx) ([]byte, common.Hash, error) {
	return nil, common.Hash{}, nil
}

var _ signer.Signer = (*fakeSigner)(nil)

type memStore struct {
	mu        sync.Mutex
	transfers map[string]*model.TokenTransfer
	txs       map[string]*model.Transaction
}

func newMemStore() *memStore {
	return &memStore{transfers: map[string]*model.TokenTransfer{}, txs: map[string]*model.Transaction{}}
}

func (m *memStore) InsertTokenTransfer(ctx context.Context, t *model.TokenTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[t.ID] = t
	return nil
}
func (m *memStore) UpdateTokenTransfer(ctx context.Context, t *model.TokenTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[t.ID] = t
	return nil
}
func (m *memStore) GetNextTransfersToProcess(ctx context.Context, sender *string, chainID int64, limit int, ignoreDeadlines bool) ([]*model.TokenTransfer, error) {
	return nil, nil
}
func (m *memStore) GetTransferCount(ctx context.Context, status *model.TransferStatus, from, receiver *string) (int64, error) {
	return 0, nil
}
func (m *memStore) GetUnpaidAmount(ctx context.Context, chainID int64, token *string, from string, ignoreDeadlines bool) (*big.Int, error) {
	return big.NewInt(42), nil
}
func (m *memStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[t.ID] = t
	return nil
}
func (m *memStore) UpdateTransaction(ctx context.Context, t *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[t.ID] = t
	return nil
}
func (m *memStore) GetNextTransactionsToProcess(ctx context.Context, sender *string, chainID int64, limit int) ([]*model.Transaction, error) {
	return nil, nil
}
func (m *memStore) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txs[id], nil
}
func (m *memStore) GetMaxNonce(ctx context.Context, sender string, chainID int64) (*uint64, error) {
	return nil, nil
}
func (m *memStore) RemoveTransactionForce(ctx context.Context, id string) error { return nil }
func (m *memStore) RemoveLastUnsentTransactions(ctx context.Context, sender string, chainID int64) error {
	return nil
}
func (m *memStore) GetAllowancesByOwner(ctx context.Context, owner string, chainID int64) ([]*model.Allowance, error) {
	return nil, nil
}
func (m *memStore) InsertAllowance(ctx context.Context, a *model.Allowance) error { return nil }
func (m *memStore) UpdateAllowance(ctx context.Context, a *model.Allowance) error { return nil }
func (m *memStore) GetTransfersByTx(ctx context.Context, txID string) ([]*model.TokenTransfer, error) {
	return nil, nil
}
func (m *memStore) WithTx(ctx context.Context, fn store.TxFn) error { return fn(m) }
func (m *memStore) Lock(sender string, chainID int64) func()       { return func() {} }
func (m *memStore) Close() error                                   { return nil }

func testRuntime(t *testing.T, chains ...config.ChainConfig) (*Runtime, *memStore, *fakeSigner) {
	t.Helper()
	sgn := &fakeSigner{addr: common.HexToAddress("0xabc0000000000000000000000000000000000a")}
	st := newMemStore()
	cfg := &config.Config{Chains: chains, Engine: config.EngineConfig{}}
	rt, err := New(cfg, Options{Store: st, Signers: []signer.Signer{sgn}, SkipServiceLoop: true})
	require.NoError(t, err)
	return rt, st, sgn
}

func TestTransferWithAccountQueuesTransfer(t *testing.T) {
	rt, st, sgn := testRuntime(t, config.ChainConfig{ChainID: 137, ChainName: "polygon", RPCEndpoints: []string{"https://rpc"}})

	transfer, err := rt.TransferWithAccount(context.Background(), sgn.Address().Hex(), TransferArgs{
		Receiver: "0xb", ChainID: 137, Amount: big.NewInt(5),
	})
	require.NoError(t, err)
	assert.Len(t, st.transfers, 1)
	assert.Equal(t, model.TransferQueued, transfer.Status())
}

func TestTransferWithAccountRejectsUnconfiguredChain(t *testing.T) {
	rt, _, sgn := testRuntime(t, config.ChainConfig{ChainID: 137, ChainName: "polygon", RPCEndpoints: []string{"https://rpc"}})

	_, err := rt.TransferWithAccount(context.Background(), sgn.Address().Hex(), TransferArgs{ChainID: 999, Amount: big.NewInt(1)})
	assert.Error(t, err)
}

func TestTransferWithAccountRejectsUnknownSigner(t *testing.T) {
	rt, _, _ := testRuntime(t, config.ChainConfig{ChainID: 137, ChainName: "polygon", RPCEndpoints: []string{"https://rpc"}})

	_, err := rt.TransferWithAccount(context.Background(), "0xnotasigner", TransferArgs{ChainID: 137, Amount: big.NewInt(1)})
	assert.Error(t, err)
}

func TestMintRefusesWithoutMintContract(t *testing.T) {
	rt, _, sgn := testRuntime(t, config.ChainConfig{ChainID: 137, ChainName: "polygon", RPCEndpoints: []string{"https://rpc"}})

	_, err := rt.Mint(context.Background(), sgn.Address().Hex(), 137, big.NewInt(1))
	assert.Error(t, err)
}

func TestMintEnforcesFaucetAllowance(t *testing.T) {
	rt, st, sgn := testRuntime(t, config.ChainConfig{
		ChainID: 137, ChainName: "polygon", RPCEndpoints: []string{"https://rpc"},
		MintContract: &config.ContractConfig{Address: "0xmint", MaxGlmAllowed: "100"},
	})

	_, err := rt.Mint(context.Background(), sgn.Address().Hex(), 137, big.NewInt(60))
	require.NoError(t, err)
	assert.Len(t, st.txs, 1)

	_, err = rt.Mint(context.Background(), sgn.Address().Hex(), 137, big.NewInt(60))
	assert.Error(t, err, "second mint exceeds max_glm_allowed and must be refused locally")
	assert.Len(t, st.txs, 1, "refused mint must not insert a transaction row")
}

func TestCloseDepositRequiresLockContract(t *testing.T) {
	rt, _, sgn := testRuntime(t, config.ChainConfig{ChainID: 137, ChainName: "polygon", RPCEndpoints: []string{"https://rpc"}})

	_, err := rt.CloseDeposit(context.Background(), sgn.Address().Hex(), 137, big.NewInt(1))
	assert.Error(t, err)
}

func TestGetUnpaidTokenAmountDelegatesToStore(t *testing.T) {
	rt, _, _ := testRuntime(t, config.ChainConfig{ChainID: 137, ChainName: "polygon", RPCEndpoints: []string{"https://rpc"}})

	amount, err := rt.GetUnpaidTokenAmount(context.Background(), 137, nil, "0xa")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), amount)
}

func TestSkipTxMarksConfirmed(t *testing.T) {
	rt, st, _ := testRuntime(t, config.ChainConfig{ChainID: 137, ChainName: "polygon", RPCEndpoints: []string{"https://rpc"}})
	tx := &model.Transaction{ID: "tx1", ChainID: 137}
	st.txs["tx1"] = tx

	require.NoError(t, rt.SkipTx(context.Background(), "tx1"))
	assert.NotNil(t, st.txs["tx1"].ConfirmDate)
}

func TestSkipTxRejectsUnknownTransaction(t *testing.T) {
	rt, _, _ := testRuntime(t, config.ChainConfig{ChainID: 137, ChainName: "polygon", RPCEndpoints: []string{"https://rpc"}})
	assert.Error(t, rt.SkipTx(context.Background(), "missing"))
}

func TestValidateChainsAcceptsWellFormedConfig(t *testing.T) {
	err := validateChains([]config.ChainConfig{
		{ChainID: 137, ChainName: "polygon", RPCEndpoints: []string{"https://rpc"}},
		{ChainID: 1, ChainName: "mainnet", RPCEndpoints: []string{"https://rpc"}},
	})
	assert.NoError(t, err)
}

func TestValidateChainsReportsEveryProblemAtOnce(t *testing.T) {
	err := validateChains([]config.ChainConfig{
		{ChainID: 0, ChainName: "broken"},
		{ChainID: 137, ChainName: "polygon", RPCEndpoints: []string{"https://rpc"}},
		{ChainID: 137, ChainName: "polygon-dup", RPCEndpoints: []string{"https://rpc"}},
	})
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "chain_id must be set")
	assert.Contains(t, msg, "duplicate chain_id")
}

func TestNewRejectsInvalidChainConfig(t *testing.T) {
	cfg := &config.Config{Chains: []config.ChainConfig{{ChainName: "broken"}}}
	_, err := New(cfg, Options{Store: newMemStore(), Signers: []signer.Signer{&fakeSigner{}}, SkipServiceLoop: true})
	assert.Error(t, err)
}
