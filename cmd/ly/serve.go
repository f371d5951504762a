package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/taduranmiggy/loveyou/internal/cache"
	"github.com/taduranmiggy/loveyou/internal/gateway"
	"github.com/taduranmiggy/loveyou/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the caching gateway daemon",
	Long: `Start the request interception gateway in front of the web origin.

The gateway serves static assets cache-first, API data network-first with
a cached fallback, and documents stale-while-revalidate. While it runs it
also watches connectivity and drains the sync journal whenever the remote
comes back.

Connected web clients receive sync and connectivity events over
WebSocket at /ws and can request an immediate drain the same way.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.New(serveLogWriter(), "[serve] ", log.LstdFlags)

		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()
		a.Logger = logger

		responseCache, err := cache.New(a.Local.RawDB(), &cache.Config{
			MaxBytes:  cfg.CacheMaxBytes,
			Retention: cfg.CacheRetention,
			Logger:    logger,
		})
		if err != nil {
			fatalf("%v", err)
		}

		gw, err := gateway.New(&gateway.Config{
			Addr:     cfg.GatewayAddr,
			Upstream: cfg.UpstreamURL,
			Version:  cfg.CacheVersion,
			Logger:   logger,
		}, responseCache, a.Bus)
		if err != nil {
			fatalf("%v", err)
		}

		if err := gw.Activate(cmd.Context()); err != nil {
			fatalf("%v", err)
		}
		if err := gw.Start(); err != nil {
			fatalf("%v", err)
		}

		if cfg.PrecacheManifest != "" {
			if m, err := gateway.LoadManifest(cfg.PrecacheManifest); err != nil {
				logger.Printf("Precache manifest unavailable: %v", err)
			} else {
				if err := gw.Precache(cmd.Context(), m); err != nil {
					logger.Printf("Precache incomplete: %v", err)
				}
				if err := gw.WatchManifest(cfg.PrecacheManifest); err != nil {
					logger.Printf("Manifest watch unavailable: %v", err)
				}
			}
		}

		a.Start()

		fmt.Printf("%s Gateway listening on %s (upstream %s)\n", ui.RenderPass("✓"), gw.Addr(), cfg.UpstreamURL)
		fmt.Printf("   WebSocket endpoint: ws://%s/ws\n", gw.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if err := gw.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Gateway stopped")
	},
}

// serveLogWriter tees daemon logs to a rotated file when one is
// configured.
func serveLogWriter() io.Writer {
	if cfg.LogFile == "" {
		return os.Stderr
	}
	return io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	})
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
