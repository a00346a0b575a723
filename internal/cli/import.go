package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/totp"
	"github.com/vault-cli/lockbox/internal/util"
)

// Conflict policies for entries whose title already exists.
const (
	ConflictSkip      = "skip"
	ConflictOverwrite = "overwrite"
	ConflictDuplicate = "duplicate"
)

func newImportCommand(a *App) *cobra.Command {
	var (
		conflict string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import entries from an export document",
		Long: `Import entries from a JSON or YAML document written by 'lockbox export'.
Imported entries get fresh ids. An entry whose title matches an existing one
is handled by the conflict policy. Use - to read from stdin.

Example:
  lockbox import backup.json
  lockbox import backup.yaml --conflict overwrite
  lockbox import backup.json --conflict duplicate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch conflict {
			case ConflictSkip, ConflictOverwrite, ConflictDuplicate:
			default:
				return fmt.Errorf("%w: --conflict must be skip, overwrite or duplicate", util.ErrInvalidInput)
			}
			return a.runImport(cmd, args[0], format, conflict)
		},
	}

	cmd.Flags().StringVar(&conflict, "conflict", ConflictSkip, "conflict resolution (skip|overwrite|duplicate)")
	cmd.Flags().StringVarP(&format, "format", "o", "", "document format (json|yaml), defaults to the file extension")
	return cmd
}

func readExportDocument(cmd *cobra.Command, source, format string) (exportDocument, error) {
	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(io.LimitReader(cmd.InOrStdin(), MaxOutputSize))
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return exportDocument{}, fmt.Errorf("failed to read %s: %w", source, err)
	}

	var doc exportDocument
	if format == FormatYAML {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return exportDocument{}, fmt.Errorf("%w: malformed export document: %v", util.ErrInvalidInput, err)
	}
	if doc.Version != exportVersion {
		return exportDocument{}, fmt.Errorf("%w: unsupported export version %d", util.ErrInvalidInput, doc.Version)
	}
	return doc, nil
}

// draft turns an exported entry back into entry content.
func (x exportEntry) draft() (domain.EntryDraft, error) {
	d := domain.EntryDraft{
		Title:    x.Title,
		Username: x.Username,
		URL:      x.URL,
		Notes:    x.Notes,
		Icon:     x.Icon,
	}
	if x.Password != "" {
		d.Password = protect.FromString(x.Password)
	}
	for _, f := range x.Fields {
		var v domain.FieldValue = domain.PlainValue(f.Value)
		if f.Protected {
			v = domain.Protected(f.Value)
		}
		d.CustomFields = append(d.CustomFields, domain.CustomField{Key: f.Key, Value: v})
	}
	for _, att := range x.Attachments {
		d.Attachments = append(d.Attachments, domain.Attachment{Name: att.Name, MimeType: att.MimeType, Data: att.Data})
	}
	if x.TOTP != "" {
		cfg, _, err := totp.ParseURI(x.TOTP)
		if err != nil {
			return domain.EntryDraft{}, fmt.Errorf("entry %q: %w", x.Title, err)
		}
		d.TOTP = &cfg
	}
	return d, d.Validate()
}

type importResult struct {
	added, updated, skipped int
}

func (a *App) runImport(cmd *cobra.Command, source, formatFlag, conflict string) error {
	format, err := documentFormat(formatFlag, source)
	if err != nil {
		return err
	}
	doc, err := readExportDocument(cmd, source, format)
	if err != nil {
		return err
	}

	var res importResult
	err = a.withVault(true, func(s *vaultSession) error {
		existing, err := s.ListEntries()
		if err != nil {
			return err
		}
		byTitle := make(map[string]domain.Entry, len(existing))
		for _, e := range existing {
			byTitle[strings.ToLower(e.Title)] = e
		}

		for _, x := range doc.Entries {
			d, err := x.draft()
			if err != nil {
				return err
			}

			current, clash := byTitle[strings.ToLower(x.Title)]
			switch {
			case clash && conflict == ConflictSkip:
				a.logger.Debug("import skipped existing entry", slog.String("title", x.Title))
				res.skipped++
			case clash && conflict == ConflictOverwrite:
				if _, err := s.UpdateEntry(current.ID, d); err != nil {
					return fmt.Errorf("failed to update %q: %w", x.Title, err)
				}
				res.updated++
			default:
				created, err := s.CreateEntry(d)
				if err != nil {
					return fmt.Errorf("failed to add %q: %w", x.Title, err)
				}
				byTitle[strings.ToLower(created.Title)] = created
				res.added++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return writeOutput(out(cmd), "✓ Import finished: %d added, %d updated, %d skipped\n", res.added, res.updated, res.skipped)
}
