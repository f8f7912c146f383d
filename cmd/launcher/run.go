// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/internal/observability"
	"github.com/holomush/launcher/internal/plugin"
	"github.com/holomush/launcher/internal/xdg"
	"github.com/holomush/launcher/pkg/errutil"
)

// Generation triggers recorded in launcher_plugin_generations_total.
const (
	triggerStartup = "startup"
	triggerWatch   = "watch"
)

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load and mount plugins until interrupted",
		Long: `Run discovers plugins in the plugins directory, mounts every plugin into
a headless launcher document and keeps them mounted until SIGINT or SIGTERM.
With --watch, changes to the plugins directory start a new generation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().Int("concurrency", defaultConcurrency, "plugin load concurrency")
	cmd.Flags().Duration("mount-timeout", defaultMountTimeout, "how long a plugin waits for its mount point")
	cmd.Flags().Int("fetch-retries", defaultFetchRetries, "retries for a failed source fetch")
	cmd.Flags().Int("cache-size", defaultCacheSize, "compiled module cache size")
	cmd.Flags().Duration("frame-interval", defaultFrameInterval, "frame interval for batched DOM work")
	cmd.Flags().String("metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().Bool("watch", false, "reload plugins when the plugins directory changes")

	return cmd
}

// runWithDeps runs the plugin host with injectable dependencies.
// If deps is nil, default implementations are used.
func runWithDeps(ctx context.Context, cfg *launcherConfig, cmd *cobra.Command, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr, version string) ObservabilityServer {
			return observability.NewServer(addr, version, nil)
		}
	}
	if deps.WatcherFactory == nil {
		deps.WatcherFactory = func(dir string, debounce time.Duration) (Watcher, error) {
			return plugin.NewDirWatcher(dir, debounce)
		}
	}
	if deps.Bridge == nil {
		deps.Bridge = newBuiltinBridge(version)
	}

	if err := setupLogging(cfg); err != nil {
		return err
	}

	// Registered before the first generation so an interrupt during startup
	// still tears plugins down.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting launcher",
		"plugins_dir", cfg.PluginsDir,
		"concurrency", cfg.Concurrency,
		"watch", cfg.Watch,
	)

	if cfg.Watch {
		if err := xdg.EnsureDir(cfg.PluginsDir); err != nil {
			return fmt.Errorf("failed to create plugins directory: %w", err)
		}
	}

	src, err := newDirSource(cfg)
	if err != nil {
		return err
	}

	var obsServer ObservabilityServer
	hostCfg := cfg.hostConfig()
	hostCfg.Bridge = deps.Bridge
	doc := document.New()
	hostCfg.Document = doc
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, version)
		hostCfg.Registerer = obsServer.Registry()
	}

	host, err := plugin.NewHost(newSlotShell(src, doc), src, hostCfg)
	if err != nil {
		return fmt.Errorf("failed to create plugin host: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if closeErr := host.Close(shutdownCtx); closeErr != nil {
			slog.Warn("error closing plugin host", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if obsServer != nil {
		obsServer.SetReadiness(host.Ready)
		obsServer.SetPluginLister(host.Tracker().Runtimes)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
				slog.Warn("error stopping observability server", "error", stopErr)
			}
		}()
	}

	generate := func(ctx context.Context, trigger, key string) {
		status := "ok"
		// Files changed on disk; compiled modules may be stale.
		opts := plugin.ReloadOptions{ClearCache: trigger == triggerWatch}
		if err := host.ChangeGeneration(ctx, key, opts); err != nil {
			status = "error"
			errutil.LogErrorContext(ctx, slog.Default(), "plugin generation failed", err)
		}
		if obsServer != nil {
			obsServer.Metrics().GenerationsTotal.WithLabelValues(trigger, status).Inc()
		}
		slog.Info("plugin generation settled",
			"generation", key,
			"trigger", trigger,
			"mounted", host.Tracker().Runtimes(),
		)
	}

	generate(ctx, triggerStartup, ulid.Make().String())

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Watch {
		watcher, err := deps.WatcherFactory(cfg.PluginsDir, 0)
		if err != nil {
			return fmt.Errorf("failed to watch plugins directory: %w", err)
		}
		defer func() {
			if closeErr := watcher.Close(); closeErr != nil {
				slog.Debug("error closing watcher", "error", closeErr)
			}
		}()
		g.Go(func() error {
			return watcher.Run(gctx, func(ctx context.Context, key string) {
				generate(ctx, triggerWatch, key)
			})
		})
	}

	if ctx.Err() == nil {
		cmd.Println("Launcher started")
	}
	<-ctx.Done()

	slog.Info("shutting down...")
	cancel()
	if err := g.Wait(); err != nil {
		slog.Warn("plugins directory watcher stopped with error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
