package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/store"
	"github.com/vault-cli/lockbox/internal/util"
)

type saveAsOptions struct {
	compress   bool
	noCompress bool
	force      bool
}

func newSaveAsCommand(a *App) *cobra.Command {
	opts := &saveAsOptions{}

	cmd := &cobra.Command{
		Use:   "save-as [location]",
		Short: "Write the vault to a new location",
		Long: `Re-encrypt the open vault with its current key and write it to another
location, optionally switching compression. The original file is left as is.
Without a location you are asked for one.

Example:
  lockbox save-as ~/backup/personal.lockbox
  lockbox save-as --no-compress /tmp/debug.lockbox`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return a.runSaveAs(cmd, target, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.compress, "compress", false, "compress the entry tree")
	cmd.Flags().BoolVar(&opts.noCompress, "no-compress", false, "do not compress the entry tree")
	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite an existing file")
	cmd.MarkFlagsMutuallyExclusive("compress", "no-compress")
	return cmd
}

func (a *App) runSaveAs(cmd *cobra.Command, target string, opts *saveAsOptions) error {
	var written, name string

	err := a.withVault(false, func(s *vaultSession) error {
		location := target
		if location == "" {
			chosen, ok, err := a.chooser(nil).ChooseSaveLocation(s.info.Name, store.VaultFilter)
			if err != nil {
				return err
			}
			if !ok {
				return errCancelled
			}
			location = chosen
		}
		location = absPath(location)
		if location == s.location {
			return fmt.Errorf("%w: target is the open vault", util.ErrInvalidInput)
		}
		if _, err := os.Stat(location); err == nil && !opts.force {
			return fmt.Errorf("%w: %s already exists (use --force to overwrite)", util.ErrInvalidInput, location)
		}
		if err := os.MkdirAll(filepath.Dir(location), 0o700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		switch {
		case opts.compress:
			if err := s.SetCompression(true); err != nil {
				return err
			}
		case opts.noCompress:
			if err := s.SetCompression(false); err != nil {
				return err
			}
		}
		if err := s.SetSource(location); err != nil {
			return err
		}
		if err := a.save(s.Manager, location); err != nil {
			return err
		}
		written, name = location, s.info.Name
		return nil
	})
	if err != nil {
		return err
	}

	if hist := a.history(); hist != nil {
		defer a.closeHistory(hist)
		a.remember(hist, domain.HistoryRecord{Name: name, Location: written, KeyFile: absKeyFile(a.keyFile)})
	}
	return writeOutput(out(cmd), "✓ Vault written to %s\n", written)
}
