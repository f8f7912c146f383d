// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// LoadTask is one in-flight load-and-mount of a plugin.
type LoadTask struct {
	Manifest *Manifest
	Token    *CancelToken
}

// CleanupOptions controls CleanupAll.
type CleanupOptions struct {
	// ClearCache also drops every compiled module.
	ClearCache bool
}

// Tracker records everything a generation of plugins allocates and reverses
// it on cleanup.
type Tracker struct {
	nodes   *NodeRegistry
	cache   *ModuleCache
	metrics *Metrics

	mu         sync.Mutex
	tasks      map[string]*LoadTask
	containers map[*codeContainer]struct{}
	runtimes   map[string]*runtime
}

// NewTracker creates a tracker that cancels waiters on nodes and, when asked,
// clears cache. Either may be nil.
func NewTracker(nodes *NodeRegistry, cache *ModuleCache, metrics *Metrics) *Tracker {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Tracker{
		nodes:      nodes,
		cache:      cache,
		metrics:    metrics,
		tasks:      make(map[string]*LoadTask),
		containers: make(map[*codeContainer]struct{}),
		runtimes:   make(map[string]*runtime),
	}
}

// BeginTask registers a load task for m. A task already in flight for the
// same plugin is cancelled and replaced.
func (t *Tracker) BeginTask(m *Manifest) *LoadTask {
	task := &LoadTask{Manifest: m, Token: &CancelToken{}}
	t.mu.Lock()
	prev := t.tasks[m.Name]
	t.tasks[m.Name] = task
	t.mu.Unlock()
	if prev != nil {
		prev.Token.Cancel()
	}
	return task
}

// EndTask removes a settled task.
func (t *Tracker) EndTask(task *LoadTask) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tasks[task.Manifest.Name] == task {
		delete(t.tasks, task.Manifest.Name)
	}
}

func (t *Tracker) openContainer(plugin string, src []byte) *codeContainer {
	c := &codeContainer{plugin: plugin, source: src}
	c.onRelease = func(c *codeContainer) {
		t.mu.Lock()
		delete(t.containers, c)
		t.mu.Unlock()
	}
	t.mu.Lock()
	t.containers[c] = struct{}{}
	t.mu.Unlock()
	return c
}

// adopt records rt as the runtime for its plugin unless task was cancelled.
// It returns the runtime rt replaces, which the caller must tear down.
func (t *Tracker) adopt(task *LoadTask, rt *runtime) (prev *runtime, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev = t.runtimes[rt.name]
	if prev != nil {
		delete(t.runtimes, rt.name)
	}
	if task != nil && task.Token.Cancelled() {
		t.metrics.ActivePlugins.Set(float64(len(t.runtimes)))
		return prev, false
	}
	t.runtimes[rt.name] = rt
	t.metrics.ActivePlugins.Set(float64(len(t.runtimes)))
	return prev, true
}

// CancelInFlight performs the first two cleanup steps: every in-flight load
// is cancelled and every mount-point waiter resolves absent.
func (t *Tracker) CancelInFlight() {
	t.mu.Lock()
	tasks := make([]*LoadTask, 0, len(t.tasks))
	for _, task := range t.tasks {
		tasks = append(tasks, task)
	}
	t.mu.Unlock()

	for _, task := range tasks {
		cleanupStep("cancel load", task.Manifest.Name, task.Token.Cancel)
	}
	if t.nodes != nil {
		cleanupStep("cancel mount waiters", "", t.nodes.CancelAll)
	}
}

// CleanupAll tears down the current generation. It cancels in-flight loads,
// resolves mount-point waiters, tears down every mounted plugin, releases
// outstanding code containers, and clears the module cache when asked.
// Failures are logged per entry and never abort the remaining work. It is
// idempotent.
func (t *Tracker) CleanupAll(ctx context.Context, opts CleanupOptions) {
	t.CancelInFlight()

	t.mu.Lock()
	rts := make([]*runtime, 0, len(t.runtimes))
	for _, rt := range t.runtimes {
		rts = append(rts, rt)
	}
	t.mu.Unlock()
	sort.Slice(rts, func(i, j int) bool { return rts[i].name < rts[j].name })

	for _, rt := range rts {
		cleanupStep("teardown plugin", rt.name, func() { rt.teardown(ctx) })
	}

	t.mu.Lock()
	for _, rt := range rts {
		if t.runtimes[rt.name] == rt {
			delete(t.runtimes, rt.name)
		}
	}
	t.metrics.ActivePlugins.Set(float64(len(t.runtimes)))
	containers := make([]*codeContainer, 0, len(t.containers))
	for c := range t.containers {
		containers = append(containers, c)
	}
	t.mu.Unlock()

	for _, c := range containers {
		cleanupStep("release code container", c.plugin, c.release)
	}

	if opts.ClearCache && t.cache != nil {
		cleanupStep("clear module cache", "", t.cache.Purge)
	}
}

// InFlight returns the number of unsettled load tasks.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// Containers returns the number of unreleased code containers.
func (t *Tracker) Containers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.containers)
}

// Runtimes returns the names of mounted plugins, sorted.
func (t *Tracker) Runtimes() []string {
	t.mu.Lock()
	names := make([]string, 0, len(t.runtimes))
	for name := range t.runtimes {
		names = append(names, name)
	}
	t.mu.Unlock()
	sort.Strings(names)
	return names
}

// Resources reports what the named plugin currently holds.
func (t *Tracker) Resources(name string) (Resources, bool) {
	t.mu.Lock()
	rt, ok := t.runtimes[name]
	t.mu.Unlock()
	if !ok {
		return Resources{}, false
	}
	return rt.resources(), true
}

func cleanupStep(step, plugin string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cleanup step panicked",
				"step", step,
				"plugin", plugin,
				"panic", r)
		}
	}()
	fn()
}
