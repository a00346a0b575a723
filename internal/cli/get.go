package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/store"
	"github.com/vault-cli/lockbox/internal/util"
)

type getOptions struct {
	field      string
	show       bool
	copy       bool
	ttl        int
	format     string
	attachment string
	output     string
}

func newGetCommand(a *App) *cobra.Command {
	opts := &getOptions{ttl: -1}

	cmd := &cobra.Command{
		Use:   "get <entry>",
		Short: "Show an entry or one of its fields",
		Long: `Show an entry, print or copy a single field, or export an attachment.

The entry is given by id or by title (case-insensitive). Protected values
are masked unless --show is given; --copy puts the field on the clipboard
and clears it after the configured timeout.

Example:
  lockbox get github                        # show the entry, password masked
  lockbox get github --copy                 # copy the password
  lockbox get github --field username       # print the username
  lockbox get aws --field "api key" --show  # print a protected custom field
  lockbox get server --attachment id_ed25519 --output ./id_ed25519`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGet(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.field, "field", "", "field to retrieve (password|username|url|notes|title|<custom field>)")
	cmd.Flags().BoolVar(&opts.show, "show", false, "show protected values in the terminal")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "copy the field (default password) to the clipboard")
	cmd.Flags().IntVar(&opts.ttl, "ttl", opts.ttl, "clipboard clear timeout in seconds (-1 to use config default)")
	cmd.Flags().StringVarP(&opts.format, "format", "o", "", "output format (table|json|yaml)")
	cmd.Flags().StringVar(&opts.attachment, "attachment", "", "export the named attachment")
	cmd.Flags().StringVar(&opts.output, "output", "", "file to write the attachment to (default: its name, - for stdout)")

	return cmd
}

func (a *App) runGet(cmd *cobra.Command, ref string, opts *getOptions) error {
	format, err := parseFormat(firstNonEmpty(opts.format, a.cfg.OutputFormat))
	if err != nil {
		return err
	}
	if opts.attachment != "" && (opts.field != "" || opts.copy) {
		return fmt.Errorf("%w: --attachment cannot be combined with --field or --copy", util.ErrInvalidInput)
	}

	var entry domain.Entry
	err = a.withVault(false, func(s *vaultSession) error {
		entry, err = resolveEntry(s.Manager, ref)
		return err
	})
	if err != nil {
		return err
	}

	switch {
	case opts.attachment != "":
		return a.exportAttachment(cmd, entry, opts.attachment, opts.output)
	case opts.field == "" && !opts.copy:
		return printEntry(out(cmd), format, entry, opts.show)
	}

	field := opts.field
	if field == "" {
		field = "password"
	}
	value, err := fieldValue(entry, field)
	if err != nil {
		return err
	}

	if opts.copy {
		if value.IsProtected() {
			return a.emitSecret(cmd, protectedOf(value), true, opts.ttl)
		}
		return a.emitSecret(cmd, protect.FromString(value.Reveal()), true, opts.ttl)
	}
	if value.IsProtected() && !opts.show {
		return fmt.Errorf("%w: %s is protected, use --show or --copy", util.ErrInvalidInput, field)
	}
	return writeOutput(out(cmd), "%s\n", value.Reveal())
}

// fieldValue looks up a standard field by its lower case name, then a custom
// field by exact key.
func fieldValue(e domain.Entry, name string) (domain.FieldValue, error) {
	switch strings.ToLower(name) {
	case "password", "secret":
		if e.Password == nil {
			return domain.Protected(""), nil
		}
		return domain.ProtectedValue{Value: e.Password}, nil
	case "username", "user":
		return domain.PlainValue(e.Username), nil
	case "url":
		return domain.PlainValue(e.URL), nil
	case "notes":
		return domain.PlainValue(e.Notes), nil
	case "title":
		return domain.PlainValue(e.Title), nil
	}
	if v, ok := e.Field(name); ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: entry %q has no field %q", util.ErrInvalidInput, e.Title, name)
}

func protectedOf(v domain.FieldValue) *protect.Value {
	if p, ok := v.(domain.ProtectedValue); ok && p.Value != nil {
		return p.Value
	}
	return protect.FromString(v.Reveal())
}

func (a *App) exportAttachment(cmd *cobra.Command, e domain.Entry, name, output string) error {
	att, ok := e.Attachment(name)
	if !ok {
		return fmt.Errorf("%w: entry %q has no attachment %q", store.ErrNotFound, e.Title, name)
	}
	if output == "-" {
		_, err := out(cmd).Write(att.Data)
		return err
	}
	if output == "" {
		output = filepath.Base(att.Name)
	}
	if err := store.AtomicWriteFile(output, att.Data); err != nil {
		return fmt.Errorf("failed to write attachment: %w", err)
	}
	return writeOutput(out(cmd), "✓ Wrote %s (%d bytes)\n", output, len(att.Data))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
