// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics_test

import (
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/sirimitm/sirimitm/internal/config"
	"github.com/sirimitm/sirimitm/internal/metrics"
)

func TestCreateMetricsServer_Disabled(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Metrics: config.MetricsConfig{
			Enabled: false,
		},
	}
	// Disabled metrics never attempt to bind, so this must return promptly.
	metrics.CreateMetricsServer(cfg)
}

func TestCreateMetricsServer_ServesMetricsEndpoint(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	cfg := &config.Config{
		Metrics: config.MetricsConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    port,
		},
	}

	go metrics.CreateMetricsServer(cfg)

	addr := cfg.Metrics.Bind
	url := "http://" + addr + ":" + strconv.Itoa(port) + "/metrics"

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(url) //nolint:gosec,noctx
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("metrics endpoint never became available: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
}
