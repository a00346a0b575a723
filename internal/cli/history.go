package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/store"
)

func newHistoryCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Recently opened vaults",
		Long: `Show or prune the list of recently opened vaults. The history holds
names, locations and key file paths only, never secrets.

Example:
  lockbox history list
  lockbox history remove ~/old.lockbox`,
	}

	var format string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recently opened vaults, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormat(firstNonEmpty(format, a.cfg.OutputFormat))
			if err != nil {
				return err
			}
			var records []domain.HistoryRecord
			err = a.withHistory(func(h store.HistoryStore) error {
				records, err = h.List()
				return err
			})
			if err != nil {
				return err
			}
			return printHistory(cmd, f, records)
		},
	}
	listCmd.Flags().StringVarP(&format, "format", "o", "", "output format (table|json|yaml)")

	removeCmd := &cobra.Command{
		Use:   "remove <location>",
		Short: "Forget a vault location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location := absPath(args[0])
			err := a.withHistory(func(h store.HistoryStore) error {
				return h.Remove(location)
			})
			if err != nil {
				return err
			}
			return writeOutput(out(cmd), "✓ Removed %s from history\n", location)
		},
	}

	cmd.AddCommand(listCmd, removeCmd)
	return cmd
}

// withHistory opens the history store for fn. Unlike the best effort use
// while opening vaults, failures are returned.
func (a *App) withHistory(fn func(h store.HistoryStore) error) error {
	h, err := a.openHistory(a.cfg.HistoryPath, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer a.closeHistory(h)
	return fn(h)
}

func printHistory(cmd *cobra.Command, format string, records []domain.HistoryRecord) error {
	w := out(cmd)
	if format != FormatTable {
		if records == nil {
			records = []domain.HistoryRecord{}
		}
		return writeStructured(w, format, records)
	}
	if len(records) == 0 {
		return writeString(w, "No recently opened vaults.\n")
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLOCATION\tLAST OPENED\tKEY FILE")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.Name, rec.Location, rec.LastOpenedAt.Local().Format(time.DateTime), rec.KeyFile)
	}
	return tw.Flush()
}
