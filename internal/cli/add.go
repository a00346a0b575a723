package cli

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	internalcrypto "github.com/vault-cli/lockbox/internal/crypto"
	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/totp"
	"github.com/vault-cli/lockbox/internal/util"
)

// entryFlags are the content flags shared by add and update.
type entryFlags struct {
	username        string
	url             string
	notes           string
	icon            string
	passwordFile    string
	passwordPrompt  bool
	generate        bool
	length          int
	charset         string
	fields          []string
	protectedFields []string
	attachments     []string
	totpSecret      string
	totpURI         string
}

func (f *entryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.username, "username", "", "username or email")
	cmd.Flags().StringVar(&f.url, "url", "", "associated URL")
	cmd.Flags().StringVar(&f.notes, "notes", "", "additional notes")
	cmd.Flags().StringVar(&f.icon, "icon", "", "icon identifier")
	cmd.Flags().StringVar(&f.passwordFile, "password-file", "", "read the password from a file (- for stdin)")
	cmd.Flags().BoolVar(&f.passwordPrompt, "password-prompt", false, "prompt for the password")
	cmd.Flags().BoolVar(&f.generate, "generate", false, "generate a random password")
	cmd.Flags().IntVar(&f.length, "length", 20, "length of a generated password")
	cmd.Flags().StringVar(&f.charset, "charset", string(internalcrypto.CharsetAlnumSpecial), "character set of a generated password (alpha|alnum|alnumspecial|digits)")
	cmd.Flags().StringArrayVar(&f.fields, "field", nil, "custom field key=value (repeatable)")
	cmd.Flags().StringArrayVar(&f.protectedFields, "protected-field", nil, "protected custom field key=value (repeatable)")
	cmd.Flags().StringArrayVar(&f.attachments, "attach", nil, "attach a file (repeatable)")
	cmd.Flags().StringVar(&f.totpSecret, "totp-secret", "", "TOTP secret (base32)")
	cmd.Flags().StringVar(&f.totpURI, "totp-uri", "", "TOTP otpauth:// URI")
}

func newAddCommand(a *App) *cobra.Command {
	flags := &entryFlags{}

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a new entry to the vault",
		Long: `Add a new entry to the vault with the given title.

The password is prompted for unless --generate or --password-file is given.
Custom fields, protected fields and attachments can be repeated.

Example:
  lockbox add github --username user@example.com --url https://github.com
  lockbox add aws --generate --length 32 --protected-field "api key=AKIA..."
  lockbox add bank --totp-uri "otpauth://totp/Bank:me?secret=JBSWY3DPEHPK3PXP"
  lockbox add server --attach ~/.ssh/id_ed25519 --notes "Production host"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAdd(cmd, args[0], flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *App) runAdd(cmd *cobra.Command, title string, flags *entryFlags) error {
	draft := domain.EntryDraft{
		Title:    title,
		Username: flags.username,
		URL:      flags.url,
		Notes:    flags.notes,
		Icon:     flags.icon,
	}

	password, err := a.entryPassword(cmd, flags, true)
	if err != nil {
		return err
	}
	draft.Password = password

	if draft.CustomFields, err = parseFields(nil, flags.fields, flags.protectedFields); err != nil {
		return err
	}
	if draft.Attachments, err = readAttachments(nil, flags.attachments); err != nil {
		return err
	}
	if draft.TOTP, err = a.totpFromFlags(flags.totpSecret, flags.totpURI); err != nil {
		return err
	}

	return a.withVault(true, func(s *vaultSession) error {
		e, err := s.CreateEntry(draft)
		if err != nil {
			return fmt.Errorf("failed to create entry: %w", err)
		}
		if err := writeOutput(out(cmd), "✓ Entry '%s' added (%s)\n", e.Title, e.ID); err != nil {
			return err
		}
		if a.verbose {
			return printEntry(out(cmd), FormatTable, e, false)
		}
		return nil
	})
}

// entryPassword reads the password selected by the flags. With prompt set
// and no other source, the user is asked; otherwise nil means unchanged.
func (a *App) entryPassword(cmd *cobra.Command, flags *entryFlags, prompt bool) (*protect.Value, error) {
	sources := 0
	for _, set := range []bool{flags.generate, flags.passwordFile != "", flags.passwordPrompt} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return nil, fmt.Errorf("%w: --generate, --password-file and --password-prompt are mutually exclusive", util.ErrInvalidInput)
	}

	switch {
	case flags.generate:
		charset, err := internalcrypto.ParseCharset(flags.charset)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", util.ErrInvalidInput, err)
		}
		password, err := internalcrypto.GenerateProtected(flags.length, charset)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", util.ErrInvalidInput, err)
		}
		return password, nil
	case flags.passwordFile != "":
		var data []byte
		var err error
		if flags.passwordFile == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(filepath.Clean(flags.passwordFile))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read password file: %w", err)
		}
		password := protect.FromBytes(bytes.TrimRight(data, "\r\n"))
		memguard.WipeBytes(data)
		return password, nil
	case flags.passwordPrompt || prompt:
		return a.prompt.Password("Entry password (empty for none): ")
	}
	return nil, nil
}

// parseFields applies key=value flags to fields. A key that already exists is
// replaced in place.
func parseFields(fields []domain.CustomField, plain, protected []string) ([]domain.CustomField, error) {
	set := func(raw string, secret bool) error {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("%w: custom field %q must be key=value", util.ErrInvalidInput, raw)
		}
		var v domain.FieldValue = domain.PlainValue(value)
		if secret {
			v = domain.Protected(value)
		}
		for i := range fields {
			if fields[i].Key == key {
				fields[i].Value = v
				return nil
			}
		}
		fields = append(fields, domain.CustomField{Key: key, Value: v})
		return nil
	}

	for _, raw := range plain {
		if err := set(raw, false); err != nil {
			return nil, err
		}
	}
	for _, raw := range protected {
		if err := set(raw, true); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// readAttachments loads files and adds them under their base name,
// replacing attachments with the same name.
func readAttachments(existing []domain.Attachment, paths []string) ([]domain.Attachment, error) {
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Clean(p))
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		att := domain.Attachment{Name: filepath.Base(p), MimeType: mime.TypeByExtension(filepath.Ext(p)), Data: data}
		replaced := false
		for i := range existing {
			if existing[i].Name == att.Name {
				existing[i] = att
				replaced = true
			}
		}
		if !replaced {
			existing = append(existing, att)
		}
	}
	return existing, nil
}

// totpFromFlags builds a TOTP config from a raw secret, using the configured
// defaults, or from an otpauth URI.
func (a *App) totpFromFlags(secret, uri string) (*totp.Config, error) {
	switch {
	case secret != "" && uri != "":
		return nil, fmt.Errorf("%w: use either --totp-secret or --totp-uri", util.ErrInvalidInput)
	case uri != "":
		cfg, _, err := totp.ParseURI(uri)
		if err != nil {
			return nil, err
		}
		return &cfg, nil
	case secret != "":
		cfg, err := a.cfg.TOTPDefaults()
		if err != nil {
			return nil, err
		}
		cfg.Secret = secret
		cfg = cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	return nil, nil
}
