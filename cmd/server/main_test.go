package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/drivuber/internal/config"
	"github.com/example/drivuber/internal/logging"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		HTTPAddr:           "127.0.0.1:0",
		ShutdownTimeout:    time.Second,
		StorageDriver:      "memory",
		EventsDriver:       "none",
		SessionMaxProfiles: 10,
		SessionIdleTTL:     time.Minute,
		SessionSweepEvery:  time.Minute,
		MapsCacheSize:      10,
		Currency:           "usd",
	}
}

func TestRunShutsDownCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, testConfig(), logging.New(io.Discard, "", "error")) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestRunReportsUnreachableStorage(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = "redis"
	cfg.RedisAddr = "127.0.0.1:1"

	err := run(context.Background(), cfg, logging.New(io.Discard, "", "error"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open redis storage")
}
