package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/util"
)

type updateOptions struct {
	entryFlags
	title             string
	removeFields      []string
	removeAttachments []string
	clearTOTP         bool
}

func newUpdateCommand(a *App) *cobra.Command {
	opts := &updateOptions{}

	cmd := &cobra.Command{
		Use:   "update <entry>",
		Short: "Update an existing entry",
		Long: `Update fields of an existing entry. Only the given flags change;
everything else is kept.

Example:
  lockbox update github --username new@example.com
  lockbox update github --password-prompt
  lockbox update aws --field region=eu-west-1 --remove-field legacy
  lockbox update bank --clear-totp`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runUpdate(cmd, args[0], opts)
		},
	}

	opts.entryFlags.register(cmd)
	cmd.Flags().StringVar(&opts.title, "title", "", "new title")
	cmd.Flags().StringArrayVar(&opts.removeFields, "remove-field", nil, "remove a custom field (repeatable)")
	cmd.Flags().StringArrayVar(&opts.removeAttachments, "remove-attachment", nil, "remove an attachment (repeatable)")
	cmd.Flags().BoolVar(&opts.clearTOTP, "clear-totp", false, "remove the TOTP configuration")

	return cmd
}

func (a *App) runUpdate(cmd *cobra.Command, ref string, opts *updateOptions) error {
	flags := cmd.Flags()
	if !flags.Changed("title") && !flags.Changed("username") && !flags.Changed("url") &&
		!flags.Changed("notes") && !flags.Changed("icon") && !flags.Changed("password-file") &&
		!flags.Changed("password-prompt") && !flags.Changed("generate") && len(opts.fields) == 0 &&
		len(opts.protectedFields) == 0 && len(opts.attachments) == 0 && len(opts.removeFields) == 0 &&
		len(opts.removeAttachments) == 0 && opts.totpSecret == "" && opts.totpURI == "" && !opts.clearTOTP {
		return fmt.Errorf("%w: nothing to update", util.ErrInvalidInput)
	}
	if opts.clearTOTP && (opts.totpSecret != "" || opts.totpURI != "") {
		return fmt.Errorf("%w: --clear-totp cannot be combined with --totp-secret or --totp-uri", util.ErrInvalidInput)
	}

	password, err := a.entryPassword(cmd, &opts.entryFlags, false)
	if err != nil {
		return err
	}
	newTOTP, err := a.totpFromFlags(opts.totpSecret, opts.totpURI)
	if err != nil {
		return err
	}

	return a.withVault(true, func(s *vaultSession) error {
		entry, err := resolveEntry(s.Manager, ref)
		if err != nil {
			return err
		}

		draft := entry.Draft()
		if flags.Changed("title") {
			draft.Title = opts.title
		}
		if flags.Changed("username") {
			draft.Username = opts.username
		}
		if flags.Changed("url") {
			draft.URL = opts.url
		}
		if flags.Changed("notes") {
			draft.Notes = opts.notes
		}
		if flags.Changed("icon") {
			draft.Icon = opts.icon
		}
		if password != nil {
			draft.Password = password
		}

		for _, key := range opts.removeFields {
			before := len(draft.CustomFields)
			for i, f := range draft.CustomFields {
				if f.Key == key {
					draft.CustomFields = append(draft.CustomFields[:i], draft.CustomFields[i+1:]...)
					break
				}
			}
			if len(draft.CustomFields) == before {
				return fmt.Errorf("%w: entry %q has no field %q", util.ErrInvalidInput, entry.Title, key)
			}
		}
		if draft.CustomFields, err = parseFields(draft.CustomFields, opts.fields, opts.protectedFields); err != nil {
			return err
		}

		for _, name := range opts.removeAttachments {
			before := len(draft.Attachments)
			for i, att := range draft.Attachments {
				if att.Name == name {
					draft.Attachments = append(draft.Attachments[:i], draft.Attachments[i+1:]...)
					break
				}
			}
			if len(draft.Attachments) == before {
				return fmt.Errorf("%w: entry %q has no attachment %q", util.ErrInvalidInput, entry.Title, name)
			}
		}
		if draft.Attachments, err = readAttachments(draft.Attachments, opts.attachments); err != nil {
			return err
		}

		switch {
		case opts.clearTOTP:
			draft.TOTP = nil
		case newTOTP != nil:
			draft.TOTP = newTOTP
		}

		updated, err := s.UpdateEntry(entry.ID, draft)
		if err != nil {
			return fmt.Errorf("failed to update entry: %w", err)
		}
		return writeOutput(out(cmd), "✓ Entry '%s' updated\n", updated.Title)
	})
}
