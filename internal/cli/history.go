package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/comfyaudit/pkg/history"
)

// historyCommand creates the history command group.
func (c *CLI) historyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse recorded audit runs",
		Long: `Browse recorded audit runs. Every finished audit is stored (as a JSON
file per run, or in MongoDB when config names a history.mongo_uri) so
reports can be compared over time.`,
	}

	cmd.AddCommand(c.historyListCommand())
	cmd.AddCommand(c.historyShowCommand())
	cmd.AddCommand(c.historyPruneCommand())

	return cmd
}

// historyListCommand creates the "history list" subcommand.
func (c *CLI) historyListCommand() *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withHistory(cmd.Context(), func(ctx context.Context, store history.Store) error {
				records, err := store.List(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return renderJSON(os.Stdout, records)
				}
				if len(records) == 0 {
					printInfo("No runs recorded yet")
					return nil
				}
				for _, rec := range records {
					printHistoryRecord(rec)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print records as JSON")

	return cmd
}

// historyShowCommand creates the "history show" subcommand.
func (c *CLI) historyShowCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run's full report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withHistory(cmd.Context(), func(ctx context.Context, store history.Store) error {
				result, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return renderJSON(os.Stdout, result)
				}
				renderReport(os.Stdout, result)
				printSummary(len(result.Reports), result.ActionCount(), result.FinishedAt.Sub(result.StartedAt))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the stored result as JSON")

	return cmd
}

// historyPruneCommand creates the "history prune" subcommand.
func (c *CLI) historyPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop all but the newest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withHistory(cmd.Context(), func(ctx context.Context, store history.Store) error {
				removed, err := store.Prune(ctx, keep)
				if err != nil {
					return err
				}
				printSuccess("Removed %d runs, kept the newest %d", removed, keep)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&keep, "keep", "k", 10, "number of runs to keep")

	return cmd
}

// withHistory opens the configured history store, runs fn, and closes it.
func (c *CLI) withHistory(ctx context.Context, fn func(context.Context, history.Store) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	store, err := c.newHistoryStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

// printHistoryRecord renders one run summary line pair.
func printHistoryRecord(rec history.Record) {
	heading := styleHeading.Render(rec.RunID)
	when := StyleDim.Render(rec.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("%s  %s\n", heading, when)

	detail := fmt.Sprintf("%d packages, %d need action", rec.Packages, rec.Actions)
	if rec.Root != "" {
		detail += "  " + rec.Root
	}
	printDetail("%s", detail)
}
