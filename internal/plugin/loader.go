// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	lua "github.com/yuin/gopher-lua"

	pluginlua "github.com/holomush/launcher/internal/plugin/lua"
)

// DefaultCacheSize is the module cache capacity used when none is configured.
const DefaultCacheSize = 256

// Module is a compiled plugin entry script. It is immutable and can be
// instantiated any number of times.
type Module struct {
	Name  string
	Entry string
	Proto *lua.FunctionProto
}

// CancelToken is a cooperative cancellation flag. The zero value is live; a
// nil token is never cancelled.
type CancelToken struct {
	cancelled atomic.Bool
}

// Cancel marks the token cancelled.
func (t *CancelToken) Cancel() {
	if t != nil {
		t.cancelled.Store(true)
	}
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}

// LoadOptions controls a single Load call.
type LoadOptions struct {
	UseCache bool
	Token    *CancelToken
}

// ModuleCache holds compiled modules keyed by plugin name and entry path.
// Entries are only ever replaced whole.
type ModuleCache struct {
	entries *lru.Cache[string, *Module]
}

// NewModuleCache creates a cache holding at most size modules.
func NewModuleCache(size int) (*ModuleCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, *Module](size)
	if err != nil {
		return nil, oops.In("plugin").With("size", size).Wrapf(err, "create module cache")
	}
	return &ModuleCache{entries: entries}, nil
}

// Get returns the cached module for m.
func (c *ModuleCache) Get(m *Manifest) (*Module, bool) {
	return c.entries.Get(m.cacheKey())
}

// Len returns the number of cached modules.
func (c *ModuleCache) Len() int { return c.entries.Len() }

// Purge drops every cached module.
func (c *ModuleCache) Purge() { c.entries.Purge() }

func (c *ModuleCache) put(m *Manifest, mod *Module) {
	c.entries.Add(m.cacheKey(), mod)
}

// codeContainer holds plugin source text for the duration of one compile.
type codeContainer struct {
	plugin    string
	mu        sync.Mutex
	source    []byte
	released  bool
	onRelease func(*codeContainer)
}

// use runs fn with the source text unless the container was released.
func (c *codeContainer) use(fn func([]byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errors.New("code container already released")
	}
	return fn(c.source)
}

// release wipes the source and unregisters the container. Idempotent.
func (c *codeContainer) release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	clear(c.source)
	c.source = nil
	c.mu.Unlock()

	if c.onRelease != nil {
		c.onRelease(c)
	}
}

// Loader fetches and compiles plugin code.
type Loader struct {
	source  CodeSource
	cache   *ModuleCache
	tracker *Tracker
	metrics *Metrics
	retries uint64
	backoff time.Duration
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFetchRetries sets how many times a failed fetch is retried.
func WithFetchRetries(n int) LoaderOption {
	return func(l *Loader) {
		if n >= 0 {
			l.retries = uint64(n)
		}
	}
}

// WithFetchBackoff sets the base delay of the exponential fetch backoff.
func WithFetchBackoff(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.backoff = d
		}
	}
}

// WithLoaderMetrics records cache and fetch metrics on m.
func WithLoaderMetrics(m *Metrics) LoaderOption {
	return func(l *Loader) {
		if m != nil {
			l.metrics = m
		}
	}
}

// NewLoader creates a loader reading from source, caching into cache and
// registering code containers with tracker. A nil tracker gets a private one.
func NewLoader(source CodeSource, cache *ModuleCache, tracker *Tracker, opts ...LoaderOption) *Loader {
	l := &Loader{
		source:  source,
		cache:   cache,
		tracker: tracker,
		metrics: NewMetrics(nil),
		retries: 2,
		backoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.tracker == nil {
		l.tracker = NewTracker(nil, cache, l.metrics)
	}
	return l
}

// Cache returns the module cache.
func (l *Loader) Cache() *ModuleCache { return l.cache }

// Load resolves the compiled module for m. With UseCache a cached module is
// returned without fetching or checking the token. Otherwise the source is
// fetched, the token checked, and the text compiled; only a successful
// compile of a live load is cached.
func (l *Loader) Load(ctx context.Context, m *Manifest, opts LoadOptions) (*Module, error) {
	if opts.UseCache {
		if mod, ok := l.cache.Get(m); ok {
			l.metrics.CacheHits.Inc()
			return mod, nil
		}
	}

	src, err := l.fetch(ctx, m)
	if err != nil {
		return nil, err
	}
	if opts.Token.Cancelled() {
		return nil, errBuilder(CodeCancelled, m.Name).Errorf("load cancelled after fetch")
	}
	if !utf8.Valid(src) || bytes.IndexByte(src, 0) >= 0 {
		return nil, errBuilder(CodeInvalidSource, m.Name).
			With("entry", m.Entry).
			Hint("entry scripts must be UTF-8 Lua text").
			Errorf("plugin source is not text")
	}

	proto, err := l.compile(m, src)
	if err != nil {
		return nil, err
	}
	if opts.Token.Cancelled() {
		return nil, errBuilder(CodeCancelled, m.Name).Errorf("load cancelled during compile")
	}

	mod := &Module{Name: m.Name, Entry: m.Entry, Proto: proto}
	l.cache.put(m, mod)
	return mod, nil
}

func (l *Loader) fetch(ctx context.Context, m *Manifest) ([]byte, error) {
	var src []byte
	backoff := retry.WithMaxRetries(l.retries, retry.NewExponential(l.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		data, err := l.source.GetSource(ctx, m.Name, m.Entry)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return retry.RetryableError(err)
		}
		src = data
		return nil
	})
	switch {
	case err == nil:
		l.metrics.Fetches.WithLabelValues(statusOK).Inc()
		return src, nil
	case ctx.Err() != nil:
		l.metrics.Fetches.WithLabelValues(statusCancelled).Inc()
		return nil, errBuilder(CodeCancelled, m.Name).Wrapf(ctx.Err(), "fetch interrupted")
	default:
		l.metrics.Fetches.WithLabelValues(statusError).Inc()
		return nil, errBuilder(CodeFetchFailed, m.Name).
			With("entry", m.Entry).
			Wrapf(err, "fetch plugin source")
	}
}

// compile turns src into a prototype inside an ephemeral code container that
// is released before compile returns.
func (l *Loader) compile(m *Manifest, src []byte) (*lua.FunctionProto, error) {
	c := l.tracker.openContainer(m.Name, bytes.Clone(src))
	defer c.release()

	var proto *lua.FunctionProto
	err := c.use(func(text []byte) error {
		var err error
		proto, err = pluginlua.Compile(m.Name+"/"+m.Entry, text)
		return err
	})
	if err != nil {
		return nil, errBuilder(CodeCompileFailed, m.Name).
			With("entry", m.Entry).
			Wrapf(err, "compile plugin")
	}
	return proto, nil
}
