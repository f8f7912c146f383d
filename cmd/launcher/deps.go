// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/launcher/internal/observability"
	"github.com/holomush/launcher/internal/plugin"
)

// RunDeps contains injectable dependencies for the run command.
// All fields with nil values will use their default implementations.
type RunDeps struct {
	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr, version string) ObservabilityServer

	// WatcherFactory watches the plugins directory.
	// Default: plugin.NewDirWatcher
	WatcherFactory func(dir string, debounce time.Duration) (Watcher, error)

	// Bridge answers plugin invoke calls.
	// Default: newBuiltinBridge
	Bridge plugin.HostBridge
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() prometheus.Registerer
	Metrics() *observability.Metrics
	SetReadiness(fn observability.ReadinessChecker)
	SetPluginLister(fn observability.PluginLister)
}

// Watcher interface wraps the methods used from plugin.DirWatcher.
type Watcher interface {
	Run(ctx context.Context, onChange func(ctx context.Context, key string)) error
	Close() error
}
