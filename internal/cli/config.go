package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/config"
	"github.com/vault-cli/lockbox/internal/util"
)

func newConfigCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage lockbox configuration",
		Long: `Manage lockbox configuration settings.

You can view, set, or get individual configuration values.
Configuration is stored in $XDG_CONFIG_HOME/lockbox/config.yaml by default.

Example:
  lockbox config path                      # Show config file path
  lockbox config get clipboard_ttl         # Get clipboard timeout
  lockbox config set clipboard_ttl 60s     # Set clipboard timeout
  lockbox config show                      # Show all configuration`,
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the whole configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeStructured(out(cmd), FormatYAML, a.cfg)
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := configValue(a.cfg, args[0])
			if err != nil {
				return err
			}
			return writeOutput(out(cmd), "%s\n", value)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConfigSet(cmd, args[0], args[1])
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeOutput(out(cmd), "%s\n", a.configPath())
		},
	}

	cmd.AddCommand(showCmd, getCmd, setCmd, pathCmd)
	return cmd
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "-", "_")
}

func configValue(cfg *config.Config, key string) (string, error) {
	switch normalizeKey(key) {
	case "vault_path":
		return cfg.VaultPath, nil
	case "history_path":
		return cfg.HistoryPath, nil
	case "clipboard_ttl":
		return cfg.ClipboardTTL.String(), nil
	case "output_format":
		return cfg.OutputFormat, nil
	case "confirm_destructive":
		return strconv.FormatBool(cfg.ConfirmDestructive), nil
	case "cipher":
		return cfg.Cipher, nil
	case "compression":
		return strconv.FormatBool(cfg.Compression), nil
	case "kdf.algorithm":
		return cfg.KDF.Algorithm, nil
	case "kdf.memory":
		return strconv.FormatUint(uint64(cfg.KDF.Memory), 10), nil
	case "kdf.iterations":
		return strconv.FormatUint(uint64(cfg.KDF.Iterations), 10), nil
	case "kdf.parallelism":
		return strconv.FormatUint(uint64(cfg.KDF.Parallelism), 10), nil
	case "totp.algorithm":
		return cfg.TOTP.Algorithm, nil
	case "totp.digits":
		return strconv.Itoa(cfg.TOTP.Digits), nil
	case "totp.period":
		return strconv.Itoa(cfg.TOTP.Period), nil
	case "totp.window":
		return strconv.Itoa(cfg.TOTP.Window), nil
	case "log.level":
		return cfg.Log.Level, nil
	case "log.format":
		return cfg.Log.Format, nil
	default:
		return "", fmt.Errorf("%w: unknown configuration key: %s", util.ErrInvalidInput, key)
	}
}

func setConfigValue(cfg *config.Config, key, value string) error {
	invalid := func(err error) error {
		return fmt.Errorf("%w: %s: %v", util.ErrInvalidInput, key, err)
	}

	switch normalizeKey(key) {
	case "vault_path":
		cfg.VaultPath = value
	case "history_path":
		cfg.HistoryPath = value
	case "clipboard_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return invalid(err)
		}
		cfg.ClipboardTTL = d
	case "output_format":
		cfg.OutputFormat = value
	case "confirm_destructive", "compression":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return invalid(err)
		}
		if normalizeKey(key) == "compression" {
			cfg.Compression = b
		} else {
			cfg.ConfirmDestructive = b
		}
	case "cipher":
		cfg.Cipher = value
	case "kdf.algorithm":
		cfg.KDF.Algorithm = value
	case "kdf.memory", "kdf.iterations":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return invalid(err)
		}
		if normalizeKey(key) == "kdf.memory" {
			cfg.KDF.Memory = uint32(n)
		} else {
			cfg.KDF.Iterations = uint32(n)
		}
	case "kdf.parallelism":
		n, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return invalid(err)
		}
		cfg.KDF.Parallelism = uint8(n)
	case "totp.algorithm":
		cfg.TOTP.Algorithm = value
	case "totp.digits", "totp.period", "totp.window":
		n, err := strconv.Atoi(value)
		if err != nil {
			return invalid(err)
		}
		switch normalizeKey(key) {
		case "totp.digits":
			cfg.TOTP.Digits = n
		case "totp.period":
			cfg.TOTP.Period = n
		default:
			cfg.TOTP.Window = n
		}
	case "log.level":
		cfg.Log.Level = value
	case "log.format":
		cfg.Log.Format = value
	default:
		return fmt.Errorf("%w: unknown configuration key: %s", util.ErrInvalidInput, key)
	}
	return nil
}

func (a *App) runConfigSet(cmd *cobra.Command, key, value string) error {
	updated := *a.cfg
	if err := setConfigValue(&updated, key, value); err != nil {
		return err
	}
	if err := updated.Validate(); err != nil {
		return err
	}

	if err := config.SaveConfig(&updated, a.configPath()); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	*a.cfg = updated

	return writeOutput(out(cmd), "✓ Configuration updated: %s = %s\n", key, value)
}
