package app

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
	cfg.WebhookSecret = testWebhookSecret

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	waitForServer(t, "http://"+cfg.MetricsAddr+"/livez")

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.HTTPAddr + "/cart")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusUnauthorized
	}, 2*time.Second, 20*time.Millisecond, "cart without X-User-ID must be rejected")

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"
	cfg.WebhookSecret = testWebhookSecret

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "unknown storage driver")

	cfg = DefaultConfig()
	require.ErrorContains(t, Run(context.Background(), cfg), EnvWebhookSecret)
}
