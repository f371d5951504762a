// Package gateway provides the request interception layer.
//
// The gateway sits between clients and the upstream application origin and
// applies one of three caching strategies per request: cache-first for
// immutable static assets, network-first for API data, and
// stale-while-revalidate for navigable documents. Writes and cross-origin
// traffic pass through untouched. When the origin is unreachable the
// gateway synthesizes offline responses instead of surfacing transport
// errors to the client.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/taduranmiggy/loveyou/internal/cache"
	"github.com/taduranmiggy/loveyou/internal/events"
)

// ServedFromHeader marks responses that came from the cache rather than
// the origin.
const ServedFromHeader = "X-Served-From"

// Config holds gateway configuration.
type Config struct {
	// Addr to listen on (default: ":8787")
	Addr string

	// Upstream is the application origin requests are forwarded to.
	Upstream string

	// Version selects the active cache partitions. Bumping it and
	// restarting drops every prior-version partition on activation.
	Version int

	// ShellPath is the document served to offline navigations
	// (default: "/index.html").
	ShellPath string

	// FetchTimeout bounds each origin request (default: 10s).
	FetchTimeout time.Duration

	// Logger for gateway activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8787",
		Version:      1,
		ShellPath:    "/index.html",
		FetchTimeout: 10 * time.Second,
		Logger:       log.New(os.Stderr, "[gateway] ", log.LstdFlags),
	}
}

// Gateway is the interception server.
type Gateway struct {
	config   *Config
	cache    *cache.Cache
	bus      *events.Bus
	hub      *Hub
	upstream *url.URL
	client   *http.Client

	staticPartition  string
	dynamicPartition string

	listener net.Listener
	server   *http.Server

	online   bool
	onlineMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a gateway over the given cache and event bus.
func New(config *Config, store *cache.Cache, bus *events.Bus) (*Gateway, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[gateway] ", log.LstdFlags)
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}
	if config.ShellPath == "" {
		config.ShellPath = "/index.html"
	}

	upstream, err := url.Parse(config.Upstream)
	if err != nil || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q: %w", config.Upstream, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		config:           config,
		cache:            store,
		bus:              bus,
		upstream:         upstream,
		client:           &http.Client{Timeout: config.FetchTimeout},
		staticPartition:  cache.StaticPartition(config.Version),
		dynamicPartition: cache.DynamicPartition(config.Version),
		online:           true,
		ctx:              ctx,
		cancel:           cancel,
	}
	g.hub = NewHub(bus, config.Logger)
	return g, nil
}

// Activate drops cache partitions left over from prior versions. Call it
// once before Start so the new version begins with only its own entries.
func (g *Gateway) Activate(ctx context.Context) error {
	n, err := g.cache.DropOther(ctx, g.staticPartition, g.dynamicPartition)
	if err != nil {
		return fmt.Errorf("activation cleanup failed: %w", err)
	}
	g.config.Logger.Printf("Activated version %d (%d prior entr(ies) dropped)", g.config.Version, n)
	return nil
}

// Start begins listening and watching connectivity events.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.config.Addr, err)
	}
	g.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.hub.HandleWebSocket)
	mux.HandleFunc("/", g.ServeHTTP)

	g.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	g.wg.Add(1)
	go g.watchConnectivity()

	g.hub.Start()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.config.Logger.Printf("Gateway listening on %s (upstream %s)", ln.Addr(), g.upstream)
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.config.Logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the gateway down.
func (g *Gateway) Stop() error {
	g.config.Logger.Println("Stopping gateway")
	g.cancel()
	g.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	g.wg.Wait()
	g.config.Logger.Println("Gateway stopped")
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return g.config.Addr
	}
	return g.listener.Addr().String()
}

// Online reports the last known connectivity state.
func (g *Gateway) Online() bool {
	g.onlineMu.RLock()
	defer g.onlineMu.RUnlock()
	return g.online
}

// SetOnline overrides connectivity state. Normally driven by bus events.
func (g *Gateway) SetOnline(v bool) {
	g.onlineMu.Lock()
	g.online = v
	g.onlineMu.Unlock()
}

func (g *Gateway) watchConnectivity() {
	defer g.wg.Done()

	ch, cancel := g.bus.Subscribe(events.Online, events.Offline)
	defer cancel()

	for {
		select {
		case <-g.ctx.Done():
			return
		case ev := <-ch:
			g.SetOnline(ev.Type == events.Online)
		}
	}
}

type strategy int

const (
	passthrough strategy = iota
	cacheFirst
	networkFirst
	staleWhileRevalidate
)

var staticExtensions = map[string]bool{
	".js":    true,
	".css":   true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".gif":   true,
	".svg":   true,
	".webp":  true,
	".ico":   true,
	".woff":  true,
	".woff2": true,
	".map":   true,
}

// classify picks the strategy for a request. Only same-origin GETs are
// ever intercepted.
func (g *Gateway) classify(r *http.Request) strategy {
	if r.Method != http.MethodGet {
		return passthrough
	}
	if r.URL.Host != "" && r.URL.Host != r.Host {
		return passthrough
	}

	p := r.URL.Path
	if staticExtensions[strings.ToLower(path.Ext(p))] {
		return cacheFirst
	}
	if strings.HasPrefix(p, "/api/") {
		return networkFirst
	}
	return staleWhileRevalidate
}

// ServeHTTP dispatches a request through its classified strategy.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch g.classify(r) {
	case cacheFirst:
		g.serveCacheFirst(w, r)
	case networkFirst:
		g.serveNetworkFirst(w, r)
	case staleWhileRevalidate:
		g.serveStaleWhileRevalidate(w, r)
	default:
		g.proxy(w, r)
	}
}

// serveCacheFirst answers static assets from the cache when present; the
// origin is consulted only on a miss and the result stored for next time.
func (g *Gateway) serveCacheFirst(w http.ResponseWriter, r *http.Request) {
	key := cacheKey(r)
	if entry, err := g.cache.Get(r.Context(), g.staticPartition, key); err == nil {
		writeEntry(w, entry, true)
		return
	}

	entry, err := g.fetch(r, g.staticPartition, cache.StrategyCacheFirst)
	if err != nil {
		g.config.Logger.Printf("Static fetch failed for %s: %v", key, err)
		g.writeOffline(w, r)
		return
	}
	writeEntry(w, entry, false)
}

// serveNetworkFirst tries the origin and falls back to the last cached
// response, tagging fallbacks so clients can tell the data may be stale.
func (g *Gateway) serveNetworkFirst(w http.ResponseWriter, r *http.Request) {
	key := cacheKey(r)

	entry, err := g.fetch(r, g.dynamicPartition, cache.StrategyNetworkFirst)
	if err == nil {
		writeEntry(w, entry, false)
		return
	}

	if cached, cerr := g.cache.Get(r.Context(), g.dynamicPartition, key); cerr == nil {
		writeEntry(w, cached, true)
		return
	}

	g.writeOffline(w, r)
}

// serveStaleWhileRevalidate answers from cache immediately when possible
// and refreshes the entry in the background.
func (g *Gateway) serveStaleWhileRevalidate(w http.ResponseWriter, r *http.Request) {
	key := cacheKey(r)

	cached, cerr := g.cache.Get(r.Context(), g.dynamicPartition, key)
	if cerr == nil {
		writeEntry(w, cached, true)

		revalidate := r.Clone(context.Background())
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			if _, err := g.fetch(revalidate, g.dynamicPartition, cache.StrategySWR); err != nil {
				g.config.Logger.Printf("Revalidation failed for %s: %v", key, err)
			}
		}()
		return
	}

	entry, err := g.fetch(r, g.dynamicPartition, cache.StrategySWR)
	if err != nil {
		g.writeOffline(w, r)
		return
	}
	writeEntry(w, entry, false)
}

// fetch forwards the request to the origin and caches successful responses.
func (g *Gateway) fetch(r *http.Request, partition, strat string) (*cache.Entry, error) {
	target := *g.upstream
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	ctx, cancel := context.WithTimeout(g.ctx, g.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build origin request: %w", err)
	}
	copyHeaders(req.Header, r.Header)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("origin unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read origin response: %w", err)
	}

	entry := &cache.Entry{
		Partition: partition,
		Key:       cacheKey(r),
		Status:    resp.StatusCode,
		Headers:   resp.Header.Clone(),
		Body:      body,
		Strategy:  strat,
	}

	// Only successful responses are worth replaying later.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := g.cache.Put(r.Context(), entry); err != nil {
			g.config.Logger.Printf("Failed to cache %s: %v", entry.Key, err)
		}
	}
	return entry, nil
}

// proxy forwards non-interceptable traffic verbatim. Cross-origin
// requests keep their own destination; only same-origin traffic is
// rewritten onto the configured upstream.
func (g *Gateway) proxy(w http.ResponseWriter, r *http.Request) {
	var target url.URL
	if r.URL.Host != "" && r.URL.Host != g.upstream.Host {
		target = *r.URL
		if target.Scheme == "" {
			target.Scheme = "http"
		}
	} else {
		target = *g.upstream
		target.Path = r.URL.Path
		target.RawQuery = r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := g.client.Do(req)
	if err != nil {
		g.writeOffline(w, r)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// writeOffline synthesizes a response for an unreachable origin. API
// requests get a machine-readable JSON body; navigations get the cached
// application shell when one exists.
func (g *Gateway) writeOffline(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error":   "offline",
			"status":  http.StatusServiceUnavailable,
			"path":    r.URL.Path,
			"message": "origin unreachable, request not served",
		})
		return
	}

	if shell, err := g.cache.Get(r.Context(), g.staticPartition, g.config.ShellPath); err == nil {
		writeEntry(w, shell, true)
		return
	}
	if shell, err := g.cache.Get(r.Context(), g.dynamicPartition, g.config.ShellPath); err == nil {
		writeEntry(w, shell, true)
		return
	}

	http.Error(w, "offline", http.StatusServiceUnavailable)
}

func cacheKey(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

func writeEntry(w http.ResponseWriter, entry *cache.Entry, fromCache bool) {
	copyHeaders(w.Header(), entry.Headers)
	if fromCache {
		w.Header().Set(ServedFromHeader, "cache")
	}
	w.WriteHeader(entry.Status)
	_, _ = w.Write(bytes.Clone(entry.Body))
}

var hopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if hopHeaders[k] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
