package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/totp"
	"github.com/vault-cli/lockbox/internal/util"
)

func newTOTPCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Time-based one-time passwords",
		Long: `Generate, verify and configure TOTP codes (RFC 6238) stored with entries.

Example:
  lockbox totp code github
  lockbox totp set github --secret JBSWY3DPEHPK3PXP
  lockbox totp uri github
  lockbox totp import "otpauth://totp/ACME:alice?secret=JBSWY3DPEHPK3PXP&issuer=ACME"`,
	}

	cmd.AddCommand(
		newTOTPCodeCommand(a),
		newTOTPURICommand(a),
		newTOTPSetCommand(a),
		newTOTPVerifyCommand(a),
		newTOTPImportCommand(a),
	)
	return cmd
}

// entryTOTP reads the TOTP config of the referenced entry.
func (a *App) entryTOTP(ref string) (domain.Entry, totp.Config, error) {
	var entry domain.Entry
	err := a.withVault(false, func(s *vaultSession) error {
		var err error
		entry, err = resolveEntry(s.Manager, ref)
		return err
	})
	if err != nil {
		return domain.Entry{}, totp.Config{}, err
	}
	if entry.TOTP == nil {
		return domain.Entry{}, totp.Config{}, fmt.Errorf("%w: %s", domain.ErrNoTOTP, entry.Title)
	}
	return entry, entry.TOTP.Normalize(), nil
}

func newTOTPCodeCommand(a *App) *cobra.Command {
	var copyCode bool
	ttl := -1

	cmd := &cobra.Command{
		Use:   "code <entry>",
		Short: "Print the current code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := a.entryTOTP(args[0])
			if err != nil {
				return err
			}

			now := a.now()
			code, err := totp.Code(cfg, now)
			if err != nil {
				return err
			}
			remaining := totp.Remaining(cfg, now)

			if copyCode {
				if remaining < time.Duration(ttl)*time.Second || ttl < 0 {
					ttl = max(1, int(remaining.Seconds()))
				}
				return a.emitSecret(cmd, protect.FromString(code), true, ttl)
			}
			return writeOutput(out(cmd), "%s (expires in %ds)\n", code, int(remaining.Round(time.Second).Seconds()))
		},
	}

	cmd.Flags().BoolVar(&copyCode, "copy", false, "copy the code to the clipboard until it expires")
	cmd.Flags().IntVar(&ttl, "ttl", ttl, "clipboard clear timeout in seconds (-1 clears when the code expires)")
	return cmd
}

func newTOTPURICommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "uri <entry>",
		Short: "Print the otpauth:// URI of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, _, err := a.entryTOTP(args[0])
			if err != nil {
				return err
			}
			uri, err := entry.OTPAuthURI()
			if err != nil {
				return err
			}
			return writeOutput(out(cmd), "%s\n", uri)
		},
	}
}

type totpSetOptions struct {
	secret    string
	uri       string
	generate  bool
	algorithm string
	digits    int
	period    int
}

func newTOTPSetCommand(a *App) *cobra.Command {
	opts := &totpSetOptions{}

	cmd := &cobra.Command{
		Use:   "set <entry>",
		Short: "Configure TOTP for an entry",
		Long: `Configure TOTP for an entry from a base32 secret, an otpauth URI or a
newly generated secret. Algorithm, digits and period default to the config
file. A generated secret is printed as an otpauth URI for enrolment.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTOTPSet(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.secret, "secret", "", "base32 secret")
	cmd.Flags().StringVar(&opts.uri, "uri", "", "otpauth:// URI")
	cmd.Flags().BoolVar(&opts.generate, "generate", false, "generate a new secret")
	cmd.Flags().StringVar(&opts.algorithm, "algorithm", "", "hash algorithm (SHA1|SHA256|SHA512)")
	cmd.Flags().IntVar(&opts.digits, "digits", 0, "code length (6 or 8)")
	cmd.Flags().IntVar(&opts.period, "period", 0, "time step in seconds")
	return cmd
}

func (a *App) runTOTPSet(cmd *cobra.Command, ref string, opts *totpSetOptions) error {
	sources := 0
	for _, set := range []bool{opts.secret != "", opts.uri != "", opts.generate} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return fmt.Errorf("%w: exactly one of --secret, --uri or --generate is required", util.ErrInvalidInput)
	}

	var cfg totp.Config
	if opts.uri != "" {
		if opts.algorithm != "" || opts.digits != 0 || opts.period != 0 {
			return fmt.Errorf("%w: --uri already carries algorithm, digits and period", util.ErrInvalidInput)
		}
		parsed, _, err := totp.ParseURI(opts.uri)
		if err != nil {
			return err
		}
		cfg = parsed
	} else {
		defaults, err := a.cfg.TOTPDefaults()
		if err != nil {
			return err
		}
		cfg = defaults
		if opts.algorithm != "" {
			if cfg.Algorithm, err = totp.ParseAlgorithm(opts.algorithm); err != nil {
				return err
			}
		}
		if opts.digits != 0 {
			cfg.Digits = opts.digits
		}
		if opts.period != 0 {
			cfg.Period = opts.period
		}
		cfg.Secret = opts.secret
		if opts.generate {
			if cfg.Secret, err = totp.GenerateSecret(); err != nil {
				return err
			}
		}
		cfg = cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	return a.withVault(true, func(s *vaultSession) error {
		entry, err := resolveEntry(s.Manager, ref)
		if err != nil {
			return err
		}
		draft := entry.Draft()
		draft.TOTP = &cfg
		updated, err := s.UpdateEntry(entry.ID, draft)
		if err != nil {
			return err
		}

		if err := writeOutput(out(cmd), "✓ TOTP configured for '%s'\n", updated.Title); err != nil {
			return err
		}
		if opts.generate {
			uri, err := updated.OTPAuthURI()
			if err != nil {
				return err
			}
			return writeOutput(out(cmd), "%s\n", uri)
		}
		return nil
	})
}

func newTOTPVerifyCommand(a *App) *cobra.Command {
	window := -1

	cmd := &cobra.Command{
		Use:   "verify <entry> <code>",
		Short: "Check a code against an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := a.entryTOTP(args[0])
			if err != nil {
				return err
			}
			if window < 0 {
				window = a.cfg.TOTP.Window
			}
			if !totp.Verify(cfg, args[1], a.now(), window) {
				return fmt.Errorf("%w: code does not match", util.ErrInvalidInput)
			}
			return writeOutput(out(cmd), "✓ Code is valid\n")
		},
	}

	cmd.Flags().IntVar(&window, "window", window, "accepted time steps either side of now (-1 to use config default)")
	return cmd
}

func newTOTPImportCommand(a *App) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "import <otpauth-uri>",
		Short: "Create an entry from an otpauth:// URI",
		Long: `Create a new entry from an otpauth URI. The title defaults to the
issuer (or the account when there is none) and the username to the account.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, label, err := totp.ParseURI(args[0])
			if err != nil {
				return err
			}

			draft := domain.EntryDraft{
				Title:    firstNonEmpty(title, label.Issuer, label.Account),
				Username: label.Account,
				TOTP:     &cfg,
			}
			return a.withVault(true, func(s *vaultSession) error {
				e, err := s.CreateEntry(draft)
				if err != nil {
					return fmt.Errorf("failed to create entry: %w", err)
				}
				return writeOutput(out(cmd), "✓ Entry '%s' added (%s)\n", e.Title, e.ID)
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "entry title")
	return cmd
}
