// queuectl is the operator tool for inspecting and repairing the
// notification queue and its ledger.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"mention_bot/internal/config"
	"mention_bot/internal/health"
	"mention_bot/internal/ledger"
	"mention_bot/internal/queue"
)

var (
	listHandle string
	listAll    bool
	dryRun     bool
	force      bool
	days       int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "queuectl",
	Short:         "Inspect and repair the notification queue",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	listCmd.Flags().StringVar(&listHandle, "handle", "", "filter by handle (partial match)")
	listCmd.Flags().BoolVar(&listAll, "all", false, "include errors and no_reply directories")
	deleteCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be deleted without deleting")
	deleteCmd.Flags().BoolVar(&force, "force", false, "skip confirmation prompt")
	cleanupCmd.Flags().IntVar(&days, "days", 7, "delete handled ledger records older than this many days")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func newStore() (*queue.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelWarn,
		TimeFormat: time.RFC3339,
	}))
	return queue.NewStore(cfg.QueueDir, cfg.ErrorDir, cfg.NoReplyDir, log), cfg, nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications in the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := newStore()
		if err != nil {
			return err
		}

		locations := []queue.Location{queue.LocationPending}
		if listAll {
			locations = append(locations, queue.LocationError, queue.LocationNoReply)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tSOURCE\tHANDLE\tTEXT\tINDEXED AT")
		total := 0
		skipped := 0
		for _, loc := range locations {
			paths, err := store.List(loc)
			if err != nil {
				return err
			}
			for _, path := range paths {
				n, err := store.Peek(path)
				if err != nil {
					skipped++
					continue
				}
				handle := n.Handle()
				if listHandle != "" && !strings.Contains(strings.ToLower(handle), strings.ToLower(listHandle)) {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t@%s\t%s\t%s\n",
					filepath.Base(path), loc, handle, truncate(n.Text(), 40), truncate(n.IndexedAt, 19))
				total++
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d notifications", total)
		if skipped > 0 {
			fmt.Printf(" (%d unreadable files skipped)", skipped)
		}
		fmt.Println()
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue and ledger statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := newStore()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LOCATION\tCOUNT\tUNIQUE HANDLES")
		for _, loc := range []queue.Location{queue.LocationPending, queue.LocationError, queue.LocationNoReply} {
			paths, err := store.List(loc)
			if err != nil {
				return err
			}
			handles := make(map[string]struct{})
			for _, path := range paths {
				if n, err := store.Peek(path); err == nil && n.Handle() != "" {
					handles[n.Handle()] = struct{}{}
				}
			}
			fmt.Fprintf(w, "%s\t%d\t%d\n", loc, len(paths), len(handles))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		led, err := ledger.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer func() { _ = led.Close() }()

		stats, err := led.Stats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("\nLedger: %d total (%d pending, %d processed, %d ignored, %d error)\n",
			stats.Total, stats.Pending, stats.Processed, stats.Ignored, stats.Error)
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Show notification counts by handle",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := newStore()
		if err != nil {
			return err
		}

		type counts struct{ pending, errors, noReply int }
		byHandle := make(map[string]*counts)
		for _, loc := range []queue.Location{queue.LocationPending, queue.LocationError, queue.LocationNoReply} {
			paths, err := store.List(loc)
			if err != nil {
				return err
			}
			for _, path := range paths {
				n, err := store.Peek(path)
				if err != nil {
					continue
				}
				handle := n.Handle()
				if handle == "" {
					handle = "unknown"
				}
				c := byHandle[handle]
				if c == nil {
					c = &counts{}
					byHandle[handle] = c
				}
				switch loc {
				case queue.LocationError:
					c.errors++
				case queue.LocationNoReply:
					c.noReply++
				default:
					c.pending++
				}
			}
		}

		handles := make([]string, 0, len(byHandle))
		for h := range byHandle {
			handles = append(handles, h)
		}
		sort.Slice(handles, func(i, j int) bool {
			ci, cj := byHandle[handles[i]], byHandle[handles[j]]
			return ci.pending+ci.errors+ci.noReply > cj.pending+cj.errors+cj.noReply
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HANDLE\tQUEUE\tERRORS\tNO REPLY\tTOTAL")
		for _, h := range handles {
			c := byHandle[h]
			fmt.Fprintf(w, "@%s\t%d\t%d\t%d\t%d\n", h, c.pending, c.errors, c.noReply, c.pending+c.errors+c.noReply)
		}
		return w.Flush()
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check queue health and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := newStore()
		if err != nil {
			return err
		}
		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		monitor := health.NewMonitor(store, log)

		status := monitor.Check()
		metrics := monitor.History()[len(monitor.History())-1]

		fmt.Printf("Queue health: %s\n\n", status)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Queue size\t%d\n", metrics.QueueSize)
		fmt.Fprintf(w, "Error size\t%d\n", metrics.ErrorSize)
		fmt.Fprintf(w, "No-reply size\t%d\n", metrics.NoReplySize)
		fmt.Fprintf(w, "Total size\t%d\n", metrics.TotalSize)
		fmt.Fprintf(w, "Unique handles\t%d\n", metrics.UniqueHandles)
		fmt.Fprintf(w, "Error rate\t%.1f%%\n", metrics.ErrorRate*100)
		fmt.Fprintf(w, "Processing rate\t%.1f/min\n", monitor.ProcessingRate())
		fmt.Fprintf(w, "Size trend\t%s\n", monitor.SizeTrend())
		fmt.Fprintf(w, "Backlog\t%t\n", monitor.DetectBacklog())
		return w.Flush()
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair corrupted queue files",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := newStore()
		if err != nil {
			return err
		}
		stats, err := store.Repair(cfg.QueueDir)
		if err != nil {
			return err
		}
		fmt.Printf("Scanned: %d\nCorrupted: %d\nRepaired: %d\nMoved to errors: %d\n",
			stats.Scanned, stats.Corrupted, stats.Repaired, stats.MovedToErrors)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <handle>",
	Short: "Delete all notifications from a handle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := newStore()
		if err != nil {
			return err
		}
		handle := strings.TrimPrefix(args[0], "@")

		var toDelete []string
		for _, loc := range []queue.Location{queue.LocationPending, queue.LocationError, queue.LocationNoReply} {
			paths, err := store.List(loc)
			if err != nil {
				return err
			}
			for _, path := range paths {
				n, err := store.Peek(path)
				if err != nil {
					continue
				}
				if strings.EqualFold(n.Handle(), handle) {
					toDelete = append(toDelete, path)
				}
			}
		}

		if len(toDelete) == 0 {
			fmt.Printf("No notifications found from @%s\n", handle)
			return nil
		}
		for _, path := range toDelete {
			fmt.Println(path)
		}
		if dryRun {
			fmt.Printf("\nDry run: %d files would be deleted\n", len(toDelete))
			return nil
		}
		if !force && !confirm(fmt.Sprintf("Delete %d notifications from @%s?", len(toDelete), handle)) {
			fmt.Println("Cancelled")
			return nil
		}

		deleted := 0
		for _, path := range toDelete {
			if err := store.Delete(path); err != nil {
				fmt.Fprintf(os.Stderr, "delete %s: %v\n", path, err)
				continue
			}
			deleted++
		}
		fmt.Printf("Deleted %d notifications\n", deleted)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old handled records from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		led, err := ledger.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer func() { _ = led.Close() }()

		deleted, err := led.CleanupOldRecords(context.Background(), days)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d records older than %d days\n", deleted, days)
		return nil
	},
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false
	}
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
