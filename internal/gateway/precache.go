package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Manifest lists the assets fetched into the static partition ahead of
// any client request, so the application shell works on first offline
// visit.
type Manifest struct {
	// Assets are origin paths, e.g. "/index.html" or "/app.css".
	Assets []string `yaml:"assets"`
}

// LoadManifest reads and parses a precache manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Precache fetches every manifest asset into the static partition.
// Individual fetch failures are logged and skipped so one missing asset
// does not block the rest.
func (g *Gateway) Precache(ctx context.Context, m *Manifest) error {
	var failed int
	for _, asset := range m.Assets {
		u, err := url.Parse(asset)
		if err != nil || u.Path == "" {
			g.config.Logger.Printf("Skipping invalid precache asset %q", asset)
			failed++
			continue
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
		if err != nil {
			failed++
			continue
		}
		req.URL = u

		if _, err := g.fetch(req, g.staticPartition, "precache"); err != nil {
			g.config.Logger.Printf("Precache fetch failed for %s: %v", asset, err)
			failed++
		}
	}
	g.config.Logger.Printf("Precached %d/%d asset(s)", len(m.Assets)-failed, len(m.Assets))
	if failed == len(m.Assets) && len(m.Assets) > 0 {
		return fmt.Errorf("all %d precache fetches failed", failed)
	}
	return nil
}

// WatchManifest re-runs precache whenever the manifest file changes.
// It returns after installing the watcher; watching stops when the
// gateway stops.
func (g *Gateway) WatchManifest(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory rather than the file so editors that replace
	// the file on save keep being observed.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer watcher.Close()

		for {
			select {
			case <-g.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				m, err := LoadManifest(path)
				if err != nil {
					g.config.Logger.Printf("Manifest reload failed: %v", err)
					continue
				}
				g.config.Logger.Printf("Manifest changed, re-precaching %d asset(s)", len(m.Assets))
				if err := g.Precache(g.ctx, m); err != nil {
					g.config.Logger.Printf("Re-precache failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.config.Logger.Printf("Watcher error: %v", err)
			}
		}
	}()

	return nil
}
