package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	internalcrypto "github.com/vault-cli/lockbox/internal/crypto"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/util"
)

type passgenOptions struct {
	length  int
	words   int
	charset string
	copy    bool
	ttl     int
}

func newPassgenCommand(a *App) *cobra.Command {
	opts := &passgenOptions{
		length:  20,
		charset: string(internalcrypto.CharsetAlnumSpecial),
		ttl:     -1,
	}

	cmd := &cobra.Command{
		Use:   "passgen",
		Short: "Generate secure passwords or passphrases",
		Long: `Generate secure passwords using configurable character sets or
Diceware-style passphrases, with optional clipboard support.

Example:
  lockbox passgen --length 32
  lockbox passgen --words 6
  lockbox passgen --charset digits --length 6 --copy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPassgen(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.length, "length", opts.length, "Length of generated password (characters)")
	cmd.Flags().IntVar(&opts.words, "words", 0, "Number of words for Diceware passphrase")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Copy the generated value to the clipboard")
	cmd.Flags().IntVar(&opts.ttl, "ttl", opts.ttl, "Clipboard clear timeout in seconds (-1 to use config default)")
	cmd.Flags().StringVar(&opts.charset, "charset", opts.charset, "Character set (alpha|alnum|alnumspecial|digits)")

	return cmd
}

func (a *App) runPassgen(cmd *cobra.Command, opts *passgenOptions) error {
	if cmd.Flags().Changed("words") {
		if cmd.Flags().Changed("length") {
			return fmt.Errorf("%w: --words cannot be used with --length", util.ErrInvalidInput)
		}
		if cmd.Flags().Changed("charset") {
			return fmt.Errorf("%w: --words cannot be used with --charset", util.ErrInvalidInput)
		}
		if opts.words <= 0 {
			return fmt.Errorf("%w: --words must be positive", util.ErrInvalidInput)
		}

		words, err := internalcrypto.GenerateDiceware(opts.words)
		if err != nil {
			return fmt.Errorf("failed to generate passphrase: %w", err)
		}

		a.logger.Debug("passphrase generated", "entropy_bits", internalcrypto.DicewareEntropyBits(opts.words))
		return a.emitSecret(cmd, protect.FromString(strings.Join(words, " ")), opts.copy, opts.ttl)
	}

	charset, err := internalcrypto.ParseCharset(opts.charset)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrInvalidInput, err)
	}
	if opts.length <= 0 {
		return fmt.Errorf("%w: --length must be positive", util.ErrInvalidInput)
	}

	password, err := internalcrypto.GenerateProtected(opts.length, charset)
	if err != nil {
		return fmt.Errorf("failed to generate password: %w", err)
	}

	a.logger.Debug("password generated", "entropy_bits", internalcrypto.EntropyBits(opts.length, charset))
	return a.emitSecret(cmd, password, opts.copy, opts.ttl)
}

// emitSecret prints secret, or copies it to the clipboard and waits for the
// timed clear.
func (a *App) emitSecret(cmd *cobra.Command, secret *protect.Value, copy bool, ttlOverride int) error {
	w := out(cmd)
	if !copy {
		return writeOutput(w, "%s\n", secret.RevealText())
	}

	if !a.clip.Available() {
		return fmt.Errorf("clipboard not available, remove --copy to print instead")
	}

	ttl, err := resolveClipboardTTL(ttlOverride, a.cfg.ClipboardTTL)
	if err != nil {
		return err
	}

	done, err := a.clip.Copy(secret, ttl)
	if err != nil {
		return err
	}

	if ttl == 0 {
		return writeOutput(w, "✓ Copied to clipboard\n")
	}
	if err := writeOutput(w, "✓ Copied to clipboard (clears in %s)\n", ttl.Round(time.Second)); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt)
	defer stop()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Debug("clipboard wait interrupted")
	}
	return nil
}

func resolveClipboardTTL(override int, configured time.Duration) (time.Duration, error) {
	if override < -1 {
		return 0, fmt.Errorf("%w: --ttl must be -1 (config default) or a non-negative number of seconds", util.ErrInvalidInput)
	}

	if override >= 0 {
		return time.Duration(override) * time.Second, nil
	}

	if configured > 0 {
		return configured, nil
	}

	return 30 * time.Second, nil
}

// contextOrBackground returns the command context, which is nil when a
// command is executed without one.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
