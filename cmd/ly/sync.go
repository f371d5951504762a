package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taduranmiggy/loveyou/internal/queue"
	"github.com/taduranmiggy/loveyou/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push queued mutations to the remote now",
	Long: `Drain the local sync journal against the remote database.

Mutations are applied strictly in the order they were made. If one fails
with a retryable error the drain stops there and the remainder stays
queued; a mutation that keeps failing is moved aside after ` + fmt.Sprint(queue.MaxRetries) + ` attempts.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		before, err := a.Queue.Len(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		if before == 0 {
			fmt.Printf("%s Nothing to sync\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("%s Syncing %d queued mutation(s)...\n", ui.RenderAccent("🔄"), before)
		start := time.Now()

		if err := a.Sync(cmd.Context()); err != nil {
			fatalf("sync failed: %v", err)
		}

		after, err := a.Queue.Len(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}

		elapsed := time.Since(start).Round(time.Millisecond)
		if after == 0 {
			fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed)
		} else {
			fmt.Printf("%s Synced %d of %d; %d still queued (remote unreachable?)\n",
				ui.RenderWarn("⚠"), before-after, before, after)
		}
	},
}

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Show the pending sync journal",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		items, err := a.Local.QueueList(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}

		if len(items) == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("%d queued mutation(s):\n", len(items))
		for _, item := range items {
			retries := ""
			if item.RetryCount > 0 {
				retries = ui.RenderWarn(fmt.Sprintf("  (%d failed attempt(s))", item.RetryCount))
			}
			fmt.Printf("  #%d  %-16s %s%s\n", item.Seq, item.Action,
				ui.RenderFaint(item.CreatedAt.Local().Format("2006-01-02 15:04:05")), retries)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show connectivity, session, and queue state",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		if a.Remote != nil {
			fmt.Printf("Remote:   %s %s\n", ui.RenderPass("●"), cfg.RemoteURL)
		} else if cfg.RemoteURL != "" {
			fmt.Printf("Remote:   %s %s (unreachable)\n", ui.RenderFail("●"), cfg.RemoteURL)
		} else {
			fmt.Printf("Remote:   %s\n", ui.RenderFaint("not configured"))
		}

		fmt.Printf("Local:    %s\n", a.Local.Path())

		if user, err := a.Local.CurrentUser(cmd.Context()); err == nil {
			fmt.Printf("Session:  %s\n", user.Email)
		} else {
			fmt.Printf("Session:  %s\n", ui.RenderFaint("signed out"))
		}

		n, err := a.Queue.Len(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		if n > 0 {
			fmt.Printf("Queue:    %s\n", ui.RenderWarn(fmt.Sprintf("%d pending", n)))
		} else {
			fmt.Printf("Queue:    empty\n")
		}

		if last, err := a.Local.LastSync(cmd.Context()); err == nil && !last.IsZero() {
			fmt.Printf("Last sync: %s\n", last.Local().Format("2006-01-02 15:04:05"))
		}
	},
}

var regimensCmd = &cobra.Command{
	Use:     "regimens",
	GroupID: "tracking",
	Short:   "List available regimens",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		regimens, err := a.Store().ListRegimens(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		if len(regimens) == 0 {
			fmt.Printf("%s No regimens seeded yet; run 'ly seed'\n", ui.RenderWarn("⚠"))
			return
		}

		for _, r := range regimens {
			fmt.Printf("%-12s %s\n", ui.RenderAccent(r.ID), r.Description)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(regimensCmd)
}
