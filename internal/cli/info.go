package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/vault"
)

type infoOptions struct {
	unlock bool
	format string
}

func newInfoCommand(a *App) *cobra.Command {
	opts := &infoOptions{}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show vault metadata",
		Long: `Display the container header (format version, cipher and KDF
parameters), which is readable without a password. With --unlock the vault
is opened and its name, creation time and entry count are shown too.

Example:
  lockbox info
  lockbox info --unlock --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInfo(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.unlock, "unlock", false, "open the vault to show name and entry count")
	cmd.Flags().StringVarP(&opts.format, "format", "o", "", "output format (table|json|yaml)")
	return cmd
}

type infoView struct {
	Location string           `json:"location" yaml:"location"`
	Header   vault.HeaderInfo `json:"header" yaml:"header"`
	Vault    *vault.Info      `json:"vault,omitempty" yaml:"vault,omitempty"`
}

func (a *App) runInfo(cmd *cobra.Command, opts *infoOptions) error {
	format, err := parseFormat(firstNonEmpty(opts.format, a.cfg.OutputFormat))
	if err != nil {
		return err
	}

	location, err := a.openLocation()
	if err != nil {
		return err
	}
	data, err := a.storage.ReadBytes(location)
	if err != nil {
		return fmt.Errorf("failed to read vault: %w", err)
	}
	header, err := vault.Inspect(data)
	if err != nil {
		return err
	}

	view := infoView{Location: location, Header: header}
	if opts.unlock {
		err := a.withVault(false, func(s *vaultSession) error {
			info := s.info
			view.Vault = &info
			return nil
		})
		if err != nil {
			return err
		}
	}

	if format != FormatTable {
		return writeStructured(out(cmd), format, view)
	}

	rows := [][2]string{
		{"Location", view.Location},
		{"Format version", fmt.Sprint(header.Version)},
		{"Cipher", header.Cipher},
		{"KDF", describeKDF(header.KDF)},
		{"Salt length", fmt.Sprint(header.SaltLength)},
		{"Compressed", fmt.Sprint(header.Compressed)},
	}
	if v := view.Vault; v != nil {
		rows = append(rows,
			[2]string{"Name", v.Name},
			[2]string{"Created", v.CreatedAt.Local().Format(time.RFC3339)},
			[2]string{"Entries", fmt.Sprint(v.Entries)},
		)
	}
	return printKV(out(cmd), rows)
}
