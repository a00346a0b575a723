package cli

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/domain"
)

type listOptions struct {
	search string
	long   bool
	sortBy string
	format string
}

func newListCommand(a *App) *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries in the vault",
		Long: `List all entries, with optional filtering.

The --search flag matches title, username, URL, notes and plain custom
fields. Tokens separated by '+' or spaces must all match (e.g. 'aws+prod').

Example:
  lockbox list                     # list all entries
  lockbox list --search github     # entries containing 'github'
  lockbox list --format json       # output as JSON
  lockbox list --long --sort updated`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runList(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.search, "search", "", "search tokens")
	cmd.Flags().BoolVar(&opts.long, "long", false, "show detailed output with additional columns")
	cmd.Flags().StringVar(&opts.sortBy, "sort", "", "sort by title or updated (default: vault order)")
	cmd.Flags().StringVarP(&opts.format, "format", "o", "", "output format (table|json|yaml)")

	return cmd
}

func (a *App) runList(cmd *cobra.Command, opts *listOptions) error {
	format, err := parseFormat(firstNonEmpty(opts.format, a.cfg.OutputFormat))
	if err != nil {
		return err
	}

	var list []domain.Entry
	err = a.withVault(false, func(s *vaultSession) error {
		if strings.TrimSpace(opts.search) != "" {
			list, err = s.SearchEntries(opts.search)
		} else {
			list, err = s.ListEntries()
		}
		return err
	})
	if err != nil {
		return err
	}

	switch opts.sortBy {
	case "title":
		sort.SliceStable(list, func(i, j int) bool {
			return strings.ToLower(list[i].Title) < strings.ToLower(list[j].Title)
		})
	case "updated":
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		})
	}

	return printEntries(out(cmd), format, list, opts.long)
}
