package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/util"
)

// MaxOutputSize is the maximum allowed size for output to prevent memory exhaustion
const MaxOutputSize = 10 * 1024 * 1024 // 10MB

const masked = "********"

// Output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// writeString writes a string to the writer with error checking and size limits
func writeString(w io.Writer, s string) error {
	if len(s) > MaxOutputSize {
		return fmt.Errorf("output size %d exceeds maximum allowed size %d",
			len(s), MaxOutputSize)
	}

	n, err := fmt.Fprint(w, s)
	if err != nil {
		return fmt.Errorf("failed to write output (wrote %d bytes): %w", n, err)
	}
	return nil
}

// writeOutput is a helper function to write formatted output with error checking and size limits
func writeOutput(w io.Writer, format string, args ...interface{}) error {
	output := fmt.Sprintf(format, args...)
	return writeString(w, output)
}

// writeStructured encodes v as json or yaml.
func writeStructured(w io.Writer, format string, v interface{}) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return writeString(w, string(data)+"\n")
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return writeString(w, string(data))
	default:
		return fmt.Errorf("%w: unsupported output format %q", util.ErrInvalidInput, format)
	}
}

type fieldView struct {
	Key       string `json:"key" yaml:"key"`
	Value     string `json:"value" yaml:"value"`
	Protected bool   `json:"protected" yaml:"protected"`
}

type attachmentView struct {
	Name string `json:"name" yaml:"name"`
	Size int    `json:"size" yaml:"size"`
}

type totpView struct {
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	Digits    int    `json:"digits" yaml:"digits"`
	Period    int    `json:"period" yaml:"period"`
}

// entryView is the printable form of an entry. Protected values are masked
// unless revealed explicitly.
type entryView struct {
	ID           string           `json:"id" yaml:"id"`
	Title        string           `json:"title" yaml:"title"`
	Username     string           `json:"username,omitempty" yaml:"username,omitempty"`
	Password     string           `json:"password,omitempty" yaml:"password,omitempty"`
	URL          string           `json:"url,omitempty" yaml:"url,omitempty"`
	Notes        string           `json:"notes,omitempty" yaml:"notes,omitempty"`
	Icon         string           `json:"icon,omitempty" yaml:"icon,omitempty"`
	CustomFields []fieldView      `json:"custom_fields,omitempty" yaml:"custom_fields,omitempty"`
	Attachments  []attachmentView `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	TOTP         *totpView        `json:"totp,omitempty" yaml:"totp,omitempty"`
	CreatedAt    time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" yaml:"updated_at"`
}

func newEntryView(e domain.Entry, reveal bool) entryView {
	v := entryView{
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
		v.Password = masked
		if reveal {
			v.Password = e.Password.RevealText()
		}
	}
	for _, f := range e.CustomFields {
		fv := fieldView{Key: f.Key, Protected: f.Value.IsProtected()}
		if fv.Protected && !reveal {
			fv.Value = masked
		} else {
			fv.Value = f.Value.Reveal()
		}
		v.CustomFields = append(v.CustomFields, fv)
	}
	for _, a := range e.Attachments {
		v.Attachments = append(v.Attachments, attachmentView{Name: a.Name, Size: len(a.Data)})
	}
	if e.TOTP != nil {
		cfg := e.TOTP.Normalize()
		v.TOTP = &totpView{Algorithm: string(cfg.Algorithm), Digits: cfg.Digits, Period: cfg.Period}
	}
	return v
}

// printEntry writes one entry in the requested format.
func printEntry(w io.Writer, format string, e domain.Entry, reveal bool) error {
	v := newEntryView(e, reveal)
	if format != FormatTable {
		return writeStructured(w, format, v)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", v.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", v.Title)
	if v.Username != "" {
		fmt.Fprintf(tw, "Username:\t%s\n", v.Username)
	}
	if v.Password != "" {
		fmt.Fprintf(tw, "Password:\t%s\n", v.Password)
	}
	if v.URL != "" {
		fmt.Fprintf(tw, "URL:\t%s\n", v.URL)
	}
	if v.Notes != "" {
		fmt.Fprintf(tw, "Notes:\t%s\n", v.Notes)
	}
	for _, f := range v.CustomFields {
		fmt.Fprintf(tw, "%s:\t%s\n", f.Key, f.Value)
	}
	for _, a := range v.Attachments {
		fmt.Fprintf(tw, "Attachment:\t%s (%d bytes)\n", a.Name, a.Size)
	}
	if v.TOTP != nil {
		fmt.Fprintf(tw, "TOTP:\t%s, %d digits, %ds\n", v.TOTP.Algorithm, v.TOTP.Digits, v.TOTP.Period)
	}
	fmt.Fprintf(tw, "Created:\t%s\n", v.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Updated:\t%s\n", v.UpdatedAt.Format(time.RFC3339))
	return tw.Flush()
}

// printEntries writes a listing. long adds URL and modification time.
func printEntries(w io.Writer, format string, list []domain.Entry, long bool) error {
	if format != FormatTable {
		views := make([]entryView, 0, len(list))
		for _, e := range list {
			views = append(views, newEntryView(e, false))
		}
		return writeStructured(w, format, views)
	}

	if len(list) == 0 {
		return writeString(w, "No entries found.\n")
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if long {
		fmt.Fprintln(tw, "ID\tTITLE\tUSERNAME\tURL\tOTP\tUPDATED")
	} else {
		fmt.Fprintln(tw, "ID\tTITLE\tUSERNAME")
	}
	for _, e := range list {
		if long {
			otp := ""
			if e.TOTP != nil {
				otp = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Title, e.Username, e.URL, otp, e.UpdatedAt.Format("2006-01-02 15:04"))
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ID, e.Title, e.Username)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return writeOutput(w, "\n%d %s\n", len(list), plural(len(list), "entry", "entries"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// printKV writes key/value rows as an aligned table.
func printKV(w io.Writer, rows [][2]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1])
	}
	return tw.Flush()
}

func parseFormat(s string) (string, error) {
	switch f := strings.ToLower(s); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("%w: output format must be table, json or yaml", util.ErrInvalidInput)
	}
}
