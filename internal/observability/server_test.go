// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, s *Server) {
	t.Helper()
	_, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
}

func get(t *testing.T, s *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + s.Addr() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := NewServer("127.0.0.1:0", "1.2.3", func() bool { return true })
	startServer(t, server)
	require.NotEmpty(t, server.Addr())

	server.Metrics().GenerationsTotal.WithLabelValues("watch", "ok").Inc()

	status, body := get(t, server, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `launcher_build_info{version="1.2.3"} 1`)
	assert.Contains(t, body, `launcher_plugin_generations_total{status="ok",trigger="watch"} 1`)
}

func TestServer_RegistryServesExternalCollectors(t *testing.T) {
	server := NewServer("127.0.0.1:0", "dev", nil)
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "launcher_plugins_active", Help: "test"})
	server.Registry().MustRegister(gauge)
	gauge.Set(3)
	startServer(t, server)

	_, body := get(t, server, "/metrics")
	assert.Contains(t, body, "launcher_plugins_active 3")
}

func TestServer_Liveness(t *testing.T) {
	server := NewServer("127.0.0.1:0", "dev", nil)
	startServer(t, server)

	status, body := get(t, server, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	var ready atomic.Bool
	server := NewServer("127.0.0.1:0", "dev", ready.Load)
	startServer(t, server)

	status, body := get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not ready", strings.TrimSpace(body))

	ready.Store(true)
	status, body = get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_ReadinessWithNilChecker(t *testing.T) {
	server := NewServer("127.0.0.1:0", "dev", nil)
	startServer(t, server)

	status, _ := get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_SetReadiness(t *testing.T) {
	server := NewServer("127.0.0.1:0", "dev", nil)
	server.SetReadiness(func() bool { return false })
	startServer(t, server)

	status, _ := get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestServer_Plugins(t *testing.T) {
	server := NewServer("127.0.0.1:0", "dev", nil)
	server.SetPluginLister(func() []string { return []string{"clock", "theme"} })
	startServer(t, server)

	status, body := get(t, server, "/plugins")
	require.Equal(t, http.StatusOK, status)
	var got struct {
		Plugins []string `json:"plugins"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, []string{"clock", "theme"}, got.Plugins)
}

func TestServer_PluginsDisabledWithoutLister(t *testing.T) {
	server := NewServer("127.0.0.1:0", "dev", nil)
	startServer(t, server)

	status, _ := get(t, server, "/plugins")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := NewServer("127.0.0.1:0", "dev", nil)
	startServer(t, server)

	_, err := server.Start()
	assert.Error(t, err)
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", "dev", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Stop(ctx))

	startServer(t, server)
	assert.NoError(t, server.Stop(ctx))
	assert.NoError(t, server.Stop(ctx))
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", "dev", nil)
	errCh, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	// Closing the listener underneath Serve simulates a listener failure.
	require.NotNil(t, server.listener)
	_ = server.listener.Close()

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for serve error")
	}
}

func TestServer_ErrorChannelClosesOnNormalShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", "dev", nil)
	errCh, err := server.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		if ok {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error channel to close")
	}
}
