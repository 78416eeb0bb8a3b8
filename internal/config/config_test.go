package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  addr: \":9000\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "rod", cfg.Browser.Driver)
	assert.Equal(t, 5, cfg.Browser.MaxConcurrent)
	assert.Equal(t, 512, cfg.Browser.MemoryMB)
	assert.True(t, cfg.Browser.IsHeadless())
	assert.Equal(t, 60*time.Second, cfg.Browser.NavTimeout())
	assert.Equal(t, 10*time.Second, cfg.Proxy.ProbeTimeout())
	assert.Equal(t, time.Hour, cfg.Proxy.TestInterval())
	assert.Equal(t, 2, cfg.Scheduler.RetryBudget)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.Backoff.Initial())
	assert.Equal(t, 10*time.Second, cfg.Scheduler.Backoff.Max())
	assert.True(t, cfg.Metrics.IsEnabled())
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"delay window inverted", "scheduler:\n  minDelayMs: 5000\n  maxDelayMs: 2000\n"},
		{"min delay below one second", "scheduler:\n  minDelayMs: 200\n  maxDelayMs: 2000\n"},
		{"memory too small", "browser:\n  memoryMB: 128\n"},
		{"zero concurrency", "browser:\n  maxConcurrent: -1\n"},
		{"unknown storage", "storage:\n  driver: postgres\n"},
		{"mongo without uri", "storage:\n  driver: mongo\n"},
		{"redis without addr", "proxy:\n  cache:\n    driver: redis\n"},
		{"unknown browser driver", "browser:\n  driver: selenium\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("browser:\n  maxConcurrent: 2\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, zap.NewNop(), func(c Config) {
			seen.Store(int64(c.Browser.MaxConcurrent))
		})
	}()

	// give the watcher time to register before the write
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("browser:\n  maxConcurrent: 7\n"), 0o644))

	require.Eventually(t, func() bool { return seen.Load() == 7 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
