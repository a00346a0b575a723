package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/store"
	"github.com/vault-cli/lockbox/internal/util"
)

// exportVersion is bumped when the document layout changes.
const exportVersion = 1

// exportDocument is the plaintext backup format read back by import.
type exportDocument struct {
	Version    int           `json:"version" yaml:"version"`
	Vault      string        `json:"vault" yaml:"vault"`
	ExportedAt time.Time     `json:"exported_at" yaml:"exported_at"`
	Entries    []exportEntry `json:"entries" yaml:"entries"`
}

type exportField struct {
	Key       string `json:"key" yaml:"key"`
	Value     string `json:"value" yaml:"value"`
	Protected bool   `json:"protected,omitempty" yaml:"protected,omitempty"`
}

type exportAttachment struct {
	Name     string `json:"name" yaml:"name"`
	MimeType string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	Data     []byte `json:"data" yaml:"data"`
}

type exportEntry struct {
	ID          string             `json:"id" yaml:"id"`
	Title       string             `json:"title" yaml:"title"`
	Username    string             `json:"username,omitempty" yaml:"username,omitempty"`
	Password    string             `json:"password,omitempty" yaml:"password,omitempty"`
	URL         string             `json:"url,omitempty" yaml:"url,omitempty"`
	Notes       string             `json:"notes,omitempty" yaml:"notes,omitempty"`
	Icon        string             `json:"icon,omitempty" yaml:"icon,omitempty"`
	Fields      []exportField      `json:"fields,omitempty" yaml:"fields,omitempty"`
	Attachments []exportAttachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	TOTP        string             `json:"totp,omitempty" yaml:"totp,omitempty"`
	CreatedAt   time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" yaml:"updated_at"`
}

func newExportEntry(e domain.Entry) (exportEntry, error) {
	x := exportEntry{
		ID:        e.ID.String(),
		Title:     e.Title,
		Username:  e.Username,
		URL:       e.URL,
		Notes:     e.Notes,
		Icon:      e.Icon,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if !e.Password.IsEmpty() {
		x.Password = e.Password.RevealText()
	}
	for _, f := range e.CustomFields {
		x.Fields = append(x.Fields, exportField{Key: f.Key, Value: f.Value.Reveal(), Protected: f.Value.IsProtected()})
	}
	for _, a := range e.Attachments {
		x.Attachments = append(x.Attachments, exportAttachment{Name: a.Name, MimeType: a.MimeType, Data: a.Data})
	}
	if e.TOTP != nil {
		uri, err := e.OTPAuthURI()
		if err != nil {
			return exportEntry{}, fmt.Errorf("entry %q: %w", e.Title, err)
		}
		x.TOTP = uri
	}
	return x, nil
}

func newExportCommand(a *App) *cobra.Command {
	var (
		format string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export vault entries in plaintext",
		Long: `Export every entry, secrets included, as a JSON or YAML document that
'lockbox import' can read back. The file is written with 0600 permissions
but is NOT encrypted. Use - to write to stdout.

Example:
  lockbox export backup.json
  lockbox export --format yaml - | less`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExport(cmd, args[0], format, yes)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", "", "document format (json|yaml), defaults to the file extension")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the plaintext warning")
	return cmd
}

// documentFormat picks json or yaml from an explicit flag or the file name.
func documentFormat(flag, path string) (string, error) {
	if flag != "" {
		f, err := parseFormat(flag)
		if err != nil {
			return "", err
		}
		if f == FormatTable {
			return "", fmt.Errorf("%w: documents are json or yaml", util.ErrInvalidInput)
		}
		return f, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return FormatJSON, nil
	}
}

func (a *App) runExport(cmd *cobra.Command, target, formatFlag string, yes bool) error {
	format, err := documentFormat(formatFlag, target)
	if err != nil {
		return err
	}

	doc := exportDocument{Version: exportVersion, ExportedAt: a.now().UTC()}
	err = a.withVault(false, func(s *vaultSession) error {
		ok, err := a.confirmDestructive("The export will contain every secret in plaintext. Continue?", yes)
		if err != nil {
			return err
		}
		if !ok {
			return errCancelled
		}

		list, err := s.ListEntries()
		if err != nil {
			return err
		}
		doc.Vault = s.info.Name
		doc.Entries = make([]exportEntry, 0, len(list))
		for _, e := range list {
			x, err := newExportEntry(e)
			if err != nil {
				return err
			}
			doc.Entries = append(doc.Entries, x)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errCancelled) {
			return writeOutput(out(cmd), "Export cancelled\n")
		}
		return err
	}

	if target == "-" {
		return writeStructured(out(cmd), format, doc)
	}

	var data []byte
	if format == FormatYAML {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	if err := store.AtomicWriteFile(target, data); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	a.logger.Info("vault exported", slog.String("path", target), slog.Int("entries", len(doc.Entries)))
	return writeOutput(out(cmd), "✓ Exported %d %s to %s\n", len(doc.Entries), plural(len(doc.Entries), "entry", "entries"), target)
}
