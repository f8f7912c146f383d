// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin hosts launcher plugins: it discovers manifests, compiles
// plugin code, mounts each plugin into its own render boundary and tears
// everything down again when the plugin set changes.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/internal/eventbus"
	pluginlua "github.com/holomush/launcher/internal/plugin/lua"
	"github.com/holomush/launcher/pkg/errutil"
)

var tracer = otel.Tracer("launcher/plugin")

// HostAPIVersion is the plugin API version this host implements.
const HostAPIVersion = "1.0.0"

// Defaults for Config fields left zero.
const (
	DefaultConcurrency   = 4
	DefaultMountTimeout  = 5 * time.Second
	DefaultFrameInterval = 16 * time.Millisecond
)

// ErrHostClosed is returned by operations on a closed Host.
var ErrHostClosed = errors.New("plugin host closed")

// Config configures a Host.
type Config struct {
	// Concurrency is N: the early batch runs max(2, N) workers and the late
	// batch max(1, N/2).
	Concurrency  int
	MountTimeout time.Duration
	// HostAPI is matched against each manifest's api constraint. Defaults to
	// HostAPIVersion.
	HostAPI *semver.Version
	// FetchRetries is how often a failed fetch is retried; zero disables
	// retries.
	FetchRetries int
	FetchBackoff time.Duration
	CacheSize    int
	// CallStackSize bounds the Lua call depth of each plugin; zero uses
	// the default.
	CallStackSize int

	// Document defaults to a new empty document.
	Document *document.Document
	// Frames defaults to a TickerFrames at FrameInterval owned by the host.
	Frames        document.FrameScheduler
	FrameInterval time.Duration

	Bridge HostBridge
	Sink   LogSink
	// Registerer receives plugin metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// ReloadOptions controls Reload.
type ReloadOptions struct {
	// ClearCache drops compiled modules so every plugin is fetched again.
	ClearCache bool
}

// Host runs generations of plugins. Each generation retires the previous
// one completely, then loads and mounts every compatible manifest in two
// priority batches.
type Host struct {
	cfg       Config
	manifests ManifestSource

	doc       *document.Document
	frames    document.FrameScheduler
	ownFrames *document.TickerFrames
	exec      *pluginlua.Executor
	bus       *eventbus.Bus
	nodes     *NodeRegistry
	slots     *document.Watcher
	cache     *ModuleCache
	tracker   *Tracker
	loader    *Loader
	sandbox   *Sandbox
	metrics   *Metrics

	genMu     sync.Mutex
	genKey    string
	genSet    bool
	genCancel context.CancelFunc

	reloadMu sync.Mutex
	ready    atomic.Bool
	closed   atomic.Bool
}

// NewHost creates a host reading manifests from manifests and plugin code
// from code.
func NewHost(manifests ManifestSource, code CodeSource, cfg Config) (*Host, error) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MountTimeout <= 0 {
		cfg.MountTimeout = DefaultMountTimeout
	}
	if cfg.HostAPI == nil {
		cfg.HostAPI = semver.MustParse(HostAPIVersion)
	}
	if cfg.CacheSize < 1 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}

	cache, err := NewModuleCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	h := &Host{
		cfg:       cfg,
		manifests: manifests,
		doc:       cfg.Document,
		frames:    cfg.Frames,
		bus:       eventbus.New(),
		nodes:     NewNodeRegistry(),
		cache:     cache,
		metrics:   NewMetrics(cfg.Registerer),
	}
	if h.doc == nil {
		h.doc = document.New()
	}
	if h.frames == nil {
		h.ownFrames = document.NewTickerFrames(cfg.FrameInterval)
		h.frames = h.ownFrames
	}
	h.exec = pluginlua.NewExecutor()
	h.slots = h.nodes.Attach(h.doc)
	h.tracker = NewTracker(h.nodes, cache, h.metrics)

	loaderOpts := []LoaderOption{WithLoaderMetrics(h.metrics), WithFetchRetries(cfg.FetchRetries)}
	if cfg.FetchBackoff > 0 {
		loaderOpts = append(loaderOpts, WithFetchBackoff(cfg.FetchBackoff))
	}
	h.loader = NewLoader(code, cache, h.tracker, loaderOpts...)
	h.sandbox = NewSandbox(SandboxConfig{
		Document: h.doc,
		Frames:   h.frames,
		Executor: h.exec,
		States:   pluginlua.NewStateFactory(pluginlua.WithCallStackSize(cfg.CallStackSize)),
		Bus:      h.bus,
		Bridge:   cfg.Bridge,
		Sink:     cfg.Sink,
		Tracker:  h.tracker,
		Metrics:  h.metrics,
	})
	return h, nil
}

// Document returns the host document plugins mount into.
func (h *Host) Document() *document.Document { return h.doc }

// Bus returns the event bus shared by plugins and the host.
func (h *Host) Bus() *eventbus.Bus { return h.bus }

// Nodes returns the mount-point registry.
func (h *Host) Nodes() *NodeRegistry { return h.nodes }

// Tracker returns the resource tracker of the current generation.
func (h *Host) Tracker() *Tracker { return h.tracker }

// Loader returns the code loader.
func (h *Host) Loader() *Loader { return h.loader }

// Metrics returns the host's plugin metrics.
func (h *Host) Metrics() *Metrics { return h.metrics }

// Ready reports whether a generation has settled.
func (h *Host) Ready() bool { return h.ready.Load() }

// SetGenerationKey starts a new generation when key differs from the
// current one. The first call always starts one. It must not be called from
// plugin code.
func (h *Host) SetGenerationKey(ctx context.Context, key string) error {
	return h.ChangeGeneration(ctx, key, ReloadOptions{})
}

// ChangeGeneration is SetGenerationKey with options for the reload it
// triggers. Nothing happens when key is unchanged.
func (h *Host) ChangeGeneration(ctx context.Context, key string, opts ReloadOptions) error {
	h.genMu.Lock()
	if h.genSet && h.genKey == key {
		h.genMu.Unlock()
		return nil
	}
	h.genSet = true
	h.genKey = key
	h.genMu.Unlock()

	slog.Debug("plugin generation key changed", "key", key, "clear_cache", opts.ClearCache)
	return h.Reload(ctx, opts)
}

// GenerationKey returns the current generation key.
func (h *Host) GenerationKey() string {
	h.genMu.Lock()
	defer h.genMu.Unlock()
	return h.genKey
}

// Reload retires the current generation and mounts a new one. A reload that
// is still running is cancelled first. The returned error reports only a
// failure to list manifests; per-plugin failures are logged.
func (h *Host) Reload(ctx context.Context, opts ReloadOptions) (err error) {
	if h.closed.Load() {
		return ErrHostClosed
	}

	genCtx, cancel := context.WithCancel(ctx)
	h.genMu.Lock()
	if h.genCancel != nil {
		h.genCancel()
	}
	h.genCancel = cancel
	h.genMu.Unlock()
	h.tracker.CancelInFlight()

	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	if h.closed.Load() {
		return ErrHostClosed
	}

	genCtx, span := tracer.Start(genCtx, "plugin.reload",
		trace.WithAttributes(attribute.Bool("plugin.clear_cache", opts.ClearCache)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	h.ready.Store(false)
	h.tracker.CleanupAll(genCtx, CleanupOptions{ClearCache: opts.ClearCache})
	if genCtx.Err() != nil {
		return nil
	}

	manifests, err := h.manifests.GetManifests(genCtx)
	if err != nil {
		err = errBuilder(CodeManifestSourceFailed, "").Wrapf(err, "list plugin manifests")
		errutil.LogError(slog.Default(), "plugin reload failed", err)
		return err
	}

	early, late := h.plan(manifests)
	span.SetAttributes(
		attribute.Int("plugin.early", len(early)),
		attribute.Int("plugin.late", len(late)),
	)
	earlyN, lateN := BatchSizes(h.cfg.Concurrency)
	RunPool(genCtx, h.tasks(early), earlyN)
	RunPool(genCtx, h.tasks(late), lateN)

	if genCtx.Err() == nil {
		h.ready.Store(true)
		slog.Info("plugin generation mounted", "plugins", h.tracker.Runtimes())
	}
	return nil
}

// plan drops incompatible manifests and splits the rest into the early
// (dependency, core) and late (ui, other) batches, each in priority order.
func (h *Host) plan(manifests []*Manifest) (early, late []*Manifest) {
	compatible := make([]*Manifest, 0, len(manifests))
	for _, m := range manifests {
		ok, err := m.CompatibleWith(h.cfg.HostAPI)
		if err != nil || !ok {
			slog.Warn("skipping incompatible plugin",
				"plugin", m.Name,
				"api", m.API,
				"host_api", h.cfg.HostAPI.String(),
				"error", err)
			continue
		}
		compatible = append(compatible, m)
	}
	SortByPriority(compatible)
	for _, m := range compatible {
		if m.Priority.Early() {
			early = append(early, m)
		} else {
			late = append(late, m)
		}
	}
	return early, late
}

func (h *Host) tasks(manifests []*Manifest) []Task {
	tasks := make([]Task, 0, len(manifests))
	for _, m := range manifests {
		tasks = append(tasks, PluginTask(m.Name, func(ctx context.Context) error {
			return h.loadAndMount(ctx, m)
		}))
	}
	return tasks
}

// loadAndMount is the per-plugin task: load the module, wait for the mount
// point, mount.
func (h *Host) loadAndMount(ctx context.Context, m *Manifest) (err error) {
	task := h.tracker.BeginTask(m)
	defer h.tracker.EndTask(task)
	stop := context.AfterFunc(ctx, task.Token.Cancel)
	defer stop()

	defer func() {
		h.metrics.Loads.WithLabelValues(loadStatus(err)).Inc()
		if IsCancelled(err) {
			slog.Debug("plugin load cancelled", "plugin", m.Name)
			err = nil
		}
	}()

	if ctx.Err() != nil {
		return errBuilder(CodeCancelled, m.Name).Errorf("generation cancelled")
	}

	mod, err := h.loader.Load(ctx, m, LoadOptions{UseCache: true, Token: task.Token})
	if err != nil {
		return err
	}

	mountPoint, ok := h.nodes.WaitForNode(ctx, m.Name, h.cfg.MountTimeout)
	if task.Token.Cancelled() {
		return errBuilder(CodeCancelled, m.Name).Errorf("load cancelled while waiting for mount point")
	}
	if !ok {
		return errBuilder(CodeMountTimeout, m.Name).
			With("timeout", h.cfg.MountTimeout.String()).
			Hint(fmt.Sprintf("add an element with %s=%q to the document", SlotAttr, m.Name)).
			Errorf("mount point did not appear")
	}

	if err := h.sandbox.Mount(ctx, task, mod, mountPoint); err != nil {
		return err
	}
	slog.Debug("plugin mounted", "plugin", m.Name)
	return nil
}

// Close retires every plugin, clears the module cache and stops the host's
// goroutines. It is idempotent.
func (h *Host) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.genMu.Lock()
	if h.genCancel != nil {
		h.genCancel()
	}
	h.genMu.Unlock()
	h.tracker.CancelInFlight()

	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	h.ready.Store(false)
	h.tracker.CleanupAll(ctx, CleanupOptions{ClearCache: true})
	h.slots.Disconnect()
	h.exec.Close()
	if h.ownFrames != nil {
		h.ownFrames.Close()
	}
	h.bus.Reset()
	return nil
}
