package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[[chain]]
chain_name = "polygon"
chain_id = 137
rpc_endpoints = ["https://polygon.example/rpc"]
currency_symbol = "MATIC"
priority_fee = 30.0
max_fee_per_gas = 200.0
transaction_timeout = 60
confirmation_blocks = 5

[chain.token]
symbol = "GLM"
address = "0x1111111111111111111111111111111111111"

[chain.multi_contract]
address = "0x2222222222222222222222222222222222222"
max_at_once = 20

[engine]
process_interval = 5
process_interval_after_error = 10
process_interval_after_no_gas_or_token_start = 10
process_interval_after_no_gas_or_token_max = 300
process_interval_after_no_gas_or_token_increase = 2
process_interval_after_send = 1
report_alive_interval = 60
gather_interval = 3
gather_at_start = true
automatic_recover = true
ignore_deadlines = false
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o644))
	return path
}

func TestLoadParsesChainsAndEngine(t *testing.T) {
	path := writeSample(t)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Chains, 1)

	chain := cfg.Chains[0]
	assert.Equal(t, int64(137), chain.ChainID)
	assert.Equal(t, "polygon", chain.ChainName)
	require.NotNil(t, chain.Token)
	assert.Equal(t, "GLM", chain.Token.Symbol)
	require.NotNil(t, chain.MultiContract)
	assert.Equal(t, 20, chain.MultiContract.MaxAtOnce)

	assert.Equal(t, int64(5), cfg.Engine.ProcessIntervalSecs)
	assert.True(t, cfg.Engine.GatherAtStart)
}

func TestMaxFeePerGasEnvOverride(t *testing.T) {
	path := writeSample(t)
	t.Setenv("POLYGON_MAX_BASE_FEE", "500")

	cfg, err := Load(path)
	require.NoError(t, err)

	got := cfg.Chains[0].MaxFeePerGas()
	assert.Equal(t, gweiToWei(500).String(), got.String())
}

func TestGethAddrEnvOverridePrepended(t *testing.T) {
	path := writeSample(t)
	t.Setenv("POLYGON_GETH_ADDR", "https://override.example/rpc")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example/rpc", cfg.Chains[0].RPCEndpoints[0])
}

func TestPrivateKeysParsedFromEnv(t *testing.T) {
	path := writeSample(t)
	t.Setenv("ETH_PRIVATE_KEYS", "aaa, bbb ,ccc")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "bbb", "ccc"}, cfg.PrivateKeys)
}

func TestLoadRejectsDuplicateChainID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	doubled := sampleTOML + `
[[chain]]
chain_name = "polygon2"
chain_id = 137
rpc_endpoints = ["https://dup.example/rpc"]
transaction_timeout = 60
confirmation_blocks = 5
`
	require.NoError(t, os.WriteFile(path, []byte(doubled), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEffectiveFeeBumpMultiplierDefaultsTo1125(t *testing.T) {
	e := EngineConfig{}
	assert.Equal(t, 1.125, e.EffectiveFeeBumpMultiplier())

	e.FeeBumpMultiplier = 1.5
	assert.Equal(t, 1.5, e.EffectiveFeeBumpMultiplier())
}
