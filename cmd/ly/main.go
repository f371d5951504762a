// Command ly is the loveyou CLI: an offline-first daily intake tracker
// with a local SQLite cache, an optional shared remote database, and a
// caching gateway for the web client.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/taduranmiggy/loveyou/internal/app"
	"github.com/taduranmiggy/loveyou/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ly",
	Short: "Offline-first daily intake tracker",
	Long: `ly tracks daily intake against a pill regimen.

All reads and writes hit a local SQLite database first, so every command
works without connectivity. When a remote database is configured, writes
are journaled and synced in order whenever the device is online.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./loveyou.yaml or ~/.config/loveyou/loveyou.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "account", Title: "Account:"},
		&cobra.Group{ID: "tracking", Title: "Tracking:"},
		&cobra.Group{ID: "sync", Title: "Sync & Data:"},
	)
}

// newApp builds the service object for a command invocation.
func newApp() (*app.App, error) {
	logger := log.New(os.Stderr, "[ly] ", log.LstdFlags)
	return app.New(cfg, logger)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatalf("%v", err)
	}
}
