package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	internalcrypto "github.com/vault-cli/lockbox/internal/crypto"
	"github.com/vault-cli/lockbox/internal/util"
)

func newRotatePasswordCommand(a *App) *cobra.Command {
	var (
		length     int
		charset    string
		copyToClip bool
		ttl        int
		show       bool
	)

	cmd := &cobra.Command{
		Use:   "rotate <entry>",
		Short: "Regenerate password for an existing entry",
		Long: `Regenerates the password for an existing entry while preserving everything else.

This command generates a new secure password for the specified entry and updates it
in the vault. The original creation timestamp is preserved, but the modification
time is updated to the current time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if length <= 0 {
				return fmt.Errorf("%w: --length must be positive", util.ErrInvalidInput)
			}
			cs, err := internalcrypto.ParseCharset(charset)
			if err != nil {
				return fmt.Errorf("%w: %v", util.ErrInvalidInput, err)
			}
			return a.runRotatePassword(cmd, args[0], length, cs, copyToClip, ttl, show)
		},
	}

	cmd.Flags().IntVarP(&length, "length", "l", 20, "Length of the new password")
	cmd.Flags().StringVar(&charset, "charset", string(internalcrypto.CharsetAlnumSpecial), "Character set (alpha|alnum|alnumspecial|digits)")
	cmd.Flags().BoolVarP(&copyToClip, "copy", "c", false, "Copy password to clipboard")
	cmd.Flags().IntVar(&ttl, "ttl", -1, "Time in seconds before clipboard is cleared (-1 uses config default)")
	cmd.Flags().BoolVarP(&show, "show", "s", false, "Show the new password in output")

	cmd.MarkFlagsMutuallyExclusive("copy", "show")

	return cmd
}

func (a *App) runRotatePassword(cmd *cobra.Command, ref string, length int, charset internalcrypto.Charset, copyToClip bool, ttl int, show bool) error {
	newPassword, err := internalcrypto.GenerateProtected(length, charset)
	if err != nil {
		return fmt.Errorf("failed to generate password: %w", err)
	}

	var title string
	err = a.withVault(true, func(s *vaultSession) error {
		entry, err := resolveEntry(s.Manager, ref)
		if err != nil {
			return err
		}
		draft := entry.Draft()
		draft.Password = newPassword
		updated, err := s.UpdateEntry(entry.ID, draft)
		if err != nil {
			return fmt.Errorf("failed to update entry: %w", err)
		}
		title = updated.Title
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case show:
		return a.emitSecret(cmd, newPassword, false, ttl)
	case copyToClip:
		if err := writeOutput(out(cmd), "✓ Password for '%s' rotated\n", title); err != nil {
			return err
		}
		return a.emitSecret(cmd, newPassword, true, ttl)
	default:
		return writeOutput(out(cmd), "✓ Password for '%s' rotated\n", title)
	}
}
