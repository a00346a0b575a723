package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

func newDeleteCommand(a *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <entry>",
		Short: "Delete an entry from the vault",
		Long: `Delete an entry from the vault permanently.

This action cannot be undone. You will be prompted for confirmation
unless you use the --yes flag or confirm_destructive is off.

Example:
  lockbox delete old-account
  lockbox delete temp-entry --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDelete(cmd, args[0], yes)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Skip confirmation prompt")
	return cmd
}

func (a *App) runDelete(cmd *cobra.Command, ref string, yes bool) error {
	deleted := false
	err := a.withVault(true, func(s *vaultSession) error {
		entry, err := resolveEntry(s.Manager, ref)
		if err != nil {
			return err
		}

		ok, err := a.confirmDestructive("Delete entry '"+entry.Title+"'? This cannot be undone.", yes)
		if err != nil {
			return err
		}
		if !ok {
			return errCancelled
		}

		if err := s.DeleteEntry(entry.ID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		if errors.Is(err, errCancelled) {
			return writeOutput(out(cmd), "Deletion cancelled\n")
		}
		return err
	}
	if deleted {
		return writeOutput(out(cmd), "✓ Entry '%s' deleted\n", ref)
	}
	return nil
}
