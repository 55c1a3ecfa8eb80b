package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnChangeAndSnapshotsLastGood(t *testing.T) {
	path := writeSample(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	require.NoError(t, Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(content, '\n'), 0o644))

	select {
	case cfg := <-reloaded:
		require.NotNil(t, cfg)
		assert.Len(t, cfg.Chains, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path + lastGoodSuffix)
		return err == nil
	}, 2*time.Second, 50*time.Millisecond, "last-good snapshot should appear after a successful reload")
}

func TestWatchIgnoresUnparseableEdit(t *testing.T) {
	path := writeSample(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	require.NoError(t, Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }))

	require.NoError(t, os.WriteFile(path, []byte("not valid toml [[["), 0o644))

	select {
	case <-reloaded:
		t.Fatal("a broken config file must not trigger onReload")
	case <-time.After(300 * time.Millisecond):
	}
}
