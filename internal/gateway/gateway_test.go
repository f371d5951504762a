package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taduranmiggy/loveyou/internal/cache"
	"github.com/taduranmiggy/loveyou/internal/events"
	"github.com/taduranmiggy/loveyou/internal/store"
)

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	s, err := store.OpenLocal(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenLocal() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	c, err := cache.New(s.RawDB(), &cache.Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("cache.New() failed: %v", err)
	}
	return c
}

func testGateway(t *testing.T, upstream string) *Gateway {
	t.Helper()
	g, err := New(&Config{
		Upstream: upstream,
		Version:  1,
		Logger:   log.New(io.Discard, "", 0),
	}, testCache(t), events.NewBus())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return g
}

// countingOrigin serves fixed bodies and counts requests per path.
func countingOrigin(t *testing.T) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("origin:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// TestClassify tests strategy selection per request shape
func TestClassify(t *testing.T) {
	g := testGateway(t, "http://localhost:1")

	tests := []struct {
		method string
		path   string
		want   strategy
	}{
		{http.MethodGet, "/app.js", cacheFirst},
		{http.MethodGet, "/img/logo.svg", cacheFirst},
		{http.MethodGet, "/fonts/inter.woff2", cacheFirst},
		{http.MethodGet, "/api/day", networkFirst},
		{http.MethodGet, "/api/calendar?month=3", networkFirst},
		{http.MethodGet, "/", staleWhileRevalidate},
		{http.MethodGet, "/settings", staleWhileRevalidate},
		{http.MethodPost, "/api/day", passthrough},
		{http.MethodPut, "/app.js", passthrough},
		{http.MethodDelete, "/api/day", passthrough},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.path, nil)
		if got := g.classify(r); got != tt.want {
			t.Errorf("classify(%s %s) = %d, want %d", tt.method, tt.path, got, tt.want)
		}
	}
}

// TestProxy_CrossOriginKeepsDestination tests that a request addressed
// to a different host is forwarded there rather than rewritten onto the
// configured upstream
func TestProxy_CrossOriginKeepsDestination(t *testing.T) {
	upstream, upstreamHits := countingOrigin(t)
	other, otherHits := countingOrigin(t)
	g := testGateway(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, other.URL+"/elsewhere", nil)
	req.Host = "gateway.local"
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "origin:/elsewhere" {
		t.Errorf("Body = %q, want response from the addressed host", body)
	}
	if n := atomic.LoadInt64(otherHits); n != 1 {
		t.Errorf("Addressed host hit %d times, want 1", n)
	}
	if n := atomic.LoadInt64(upstreamHits); n != 0 {
		t.Errorf("Upstream hit %d times, want 0", n)
	}
}

// TestCacheFirst_SecondRequestSkipsOrigin tests that a cached static
// asset is never refetched
func TestCacheFirst_SecondRequestSkipsOrigin(t *testing.T) {
	origin, hits := countingOrigin(t)
	g := testGateway(t, origin.URL)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d: status = %d, want 200", i+1, rec.Code)
		}
		if body := rec.Body.String(); body != "origin:/app.js" {
			t.Fatalf("Request %d: body = %q", i+1, body)
		}
	}

	if n := atomic.LoadInt64(hits); n != 1 {
		t.Errorf("Origin hit %d times, want 1", n)
	}
}

// TestNetworkFirst_PrefersOrigin tests that fresh API data always comes
// from the origin while it is reachable
func TestNetworkFirst_PrefersOrigin(t *testing.T) {
	origin, hits := countingOrigin(t)
	g := testGateway(t, origin.URL)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/day", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d: status = %d, want 200", i+1, rec.Code)
		}
		if rec.Header().Get(ServedFromHeader) != "" {
			t.Errorf("Request %d tagged as cache-served while online", i+1)
		}
	}

	if n := atomic.LoadInt64(hits); n != 2 {
		t.Errorf("Origin hit %d times, want 2", n)
	}
}

// TestNetworkFirst_FallsBackToCache tests that API requests survive the
// origin going away, tagged as cache-served
func TestNetworkFirst_FallsBackToCache(t *testing.T) {
	origin, _ := countingOrigin(t)
	g := testGateway(t, origin.URL)

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/day", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Warm-up request failed: %d", rec.Code)
	}

	origin.Close()

	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/day", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Offline request status = %d, want 200 from cache", rec.Code)
	}
	if rec.Header().Get(ServedFromHeader) != "cache" {
		t.Errorf("%s = %q, want %q", ServedFromHeader, rec.Header().Get(ServedFromHeader), "cache")
	}
	if body := rec.Body.String(); body != "origin:/api/day" {
		t.Errorf("Body = %q, want cached origin response", body)
	}
}

// TestNetworkFirst_OfflineWithoutCache tests the synthesized offline
// payload for API requests with no fallback
func TestNetworkFirst_OfflineWithoutCache(t *testing.T) {
	g := testGateway(t, "http://127.0.0.1:1")

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/day", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status = %d, want 503", rec.Code)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Offline body is not JSON: %v", err)
	}
	if payload["error"] != "offline" {
		t.Errorf(`payload["error"] = %v, want "offline"`, payload["error"])
	}
	if status, ok := payload["status"].(float64); !ok || int(status) != http.StatusServiceUnavailable {
		t.Errorf(`payload["status"] = %v, want %d`, payload["status"], http.StatusServiceUnavailable)
	}
}

// TestStaleWhileRevalidate_ServesCachedAndRefreshes tests that a cached
// document is answered immediately and refreshed in the background
func TestStaleWhileRevalidate_ServesCachedAndRefreshes(t *testing.T) {
	origin, hits := countingOrigin(t)
	g := testGateway(t, origin.URL)

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("First request status = %d", rec.Code)
	}
	if rec.Header().Get(ServedFromHeader) != "" {
		t.Error("First request tagged as cache-served")
	}

	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Second request status = %d", rec.Code)
	}
	if rec.Header().Get(ServedFromHeader) != "cache" {
		t.Error("Second request not served from cache")
	}

	// The background revalidation fetch should land shortly.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(hits) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := atomic.LoadInt64(hits); n != 2 {
		t.Errorf("Origin hit %d times, want 2 (initial + revalidation)", n)
	}
}

// TestOfflineNavigation_ServesShell tests that an offline navigation
// falls back to the cached application shell
func TestOfflineNavigation_ServesShell(t *testing.T) {
	origin, _ := countingOrigin(t)
	g := testGateway(t, origin.URL)

	// Warm the shell the way precache would.
	rec := httptest.NewRecorder()
	g.serveCacheFirst(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Shell warm-up failed: %d", rec.Code)
	}

	origin.Close()

	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Offline navigation status = %d, want 200 shell", rec.Code)
	}
	if body := rec.Body.String(); body != "origin:/index.html" {
		t.Errorf("Body = %q, want cached shell", body)
	}
}

// TestActivate_DropsPriorVersions tests partition cleanup on version bump
func TestActivate_DropsPriorVersions(t *testing.T) {
	origin, hits := countingOrigin(t)
	c := testCache(t)

	g1, err := New(&Config{Upstream: origin.URL, Version: 1, Logger: log.New(io.Discard, "", 0)}, c, events.NewBus())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	rec := httptest.NewRecorder()
	g1.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Warm-up failed: %d", rec.Code)
	}

	g2, err := New(&Config{Upstream: origin.URL, Version: 2, Logger: log.New(io.Discard, "", 0)}, c, events.NewBus())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := g2.Activate(context.Background()); err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}

	// The v1 entry is gone, so the v2 gateway refetches.
	rec = httptest.NewRecorder()
	g2.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Post-activation request failed: %d", rec.Code)
	}
	if n := atomic.LoadInt64(hits); n != 2 {
		t.Errorf("Origin hit %d times, want 2", n)
	}
}
