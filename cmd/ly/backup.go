package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/taduranmiggy/loveyou/internal/backup"
	"github.com/taduranmiggy/loveyou/internal/seed"
	"github.com/taduranmiggy/loveyou/internal/ui"
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	GroupID: "sync",
	Short:   "Export and restore your data",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create [file]",
	Short: "Write a JSON snapshot of your data",
	Long: `Export the signed-in user's profile, intake history, and settings to a
JSON file. With no argument the snapshot is written into the data
directory with a timestamped name.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		snap, err := backup.Create(cmd.Context(), a.Local)
		if err != nil {
			fatalf("%v", err)
		}

		path := ""
		if len(args) > 0 {
			path = args[0]
		} else {
			name := fmt.Sprintf("loveyou-backup-%s.json", time.Now().Format("20060102-150405"))
			path = filepath.Join(cfg.DataDir, name)
		}

		f, err := os.Create(path)
		if err != nil {
			fatalf("failed to create %s: %v", path, err)
		}
		defer f.Close()

		if err := backup.Write(f, snap); err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s Backup written to %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("   %d intake event(s), %d setting(s)\n", len(snap.IntakeEvents), len(snap.Settings))
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Restore data from a snapshot",
	Long: `Restore a snapshot created with 'ly backup create'.

Each section present in the snapshot replaces the corresponding local
data entirely; sections absent from the snapshot are left untouched.
Restoring the same file twice is safe.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		f, err := os.Open(args[0])
		if err != nil {
			fatalf("failed to open %s: %v", args[0], err)
		}
		defer f.Close()

		snap, err := backup.Read(f)
		if err != nil {
			fatalf("%v", err)
		}

		if err := backup.Restore(cmd.Context(), a.Local, snap); err != nil {
			fatalf("restore failed: %v", err)
		}

		fmt.Printf("%s Restored snapshot from %s\n", ui.RenderPass("✓"), snap.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("   %d intake event(s), %d setting(s)\n", len(snap.IntakeEvents), len(snap.Settings))
	},
}

var seedCmd = &cobra.Command{
	Use:     "seed [file]",
	GroupID: "sync",
	Short:   "Load the regimen and message catalog",
	Long: `Seed the local database with the regimen and message catalog.

With no argument the built-in catalog is used. Seeding only inserts rows
that are missing, so it is safe to run again after an upgrade.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		var catalog *seed.Catalog
		if len(args) > 0 {
			catalog, err = seed.Load(args[0])
		} else {
			catalog, err = seed.Parse(seed.DefaultCatalog)
		}
		if err != nil {
			fatalf("%v", err)
		}

		added, err := seed.Apply(cmd.Context(), a.Local, catalog, a.Logger)
		if err != nil {
			fatalf("%v", err)
		}

		if added == 0 {
			fmt.Printf("%s Catalog already up to date\n", ui.RenderPass("✓"))
		} else {
			fmt.Printf("%s Seeded %d catalog row(s)\n", ui.RenderPass("✓"), added)
		}
	},
}

func init() {
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(seedCmd)
}
