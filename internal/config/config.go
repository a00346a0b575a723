// Package config loads and saves the lockbox CLI configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vault-cli/lockbox/internal/keys"
	"github.com/vault-cli/lockbox/internal/totp"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the lockbox configuration
type Config struct {
	VaultPath          string        `yaml:"vault_path"`
	HistoryPath        string        `yaml:"history_path"`
	ClipboardTTL       time.Duration `yaml:"clipboard_ttl"`
	OutputFormat       string        `yaml:"output_format"`
	ConfirmDestructive bool          `yaml:"confirm_destructive"`
	KDF                KDFConfig     `yaml:"kdf"`
	Cipher             string        `yaml:"cipher"`
	Compression        bool          `yaml:"compression"`
	TOTP               TOTPConfig    `yaml:"totp"`
	Log                LogConfig     `yaml:"log"`
}

// KDFConfig represents KDF parameters for new vaults
type KDFConfig struct {
	Algorithm   string `yaml:"algorithm"`
	Iterations  uint32 `yaml:"iterations"`
	Memory      uint32 `yaml:"memory"`
	Parallelism uint8  `yaml:"parallelism"`
}

// TOTPConfig holds the defaults for new TOTP secrets.
type TOTPConfig struct {
	Algorithm string `yaml:"algorithm"`
	Digits    int    `yaml:"digits"`
	Period    int    `yaml:"period"`
	Window    int    `yaml:"window"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns ~/.config/lockbox/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "lockbox", "config.yaml")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "lockbox")
	return &Config{
		VaultPath:          filepath.Join(dataDir, "vault.lockbox"),
		HistoryPath:        filepath.Join(dataDir, "history.db"),
		ClipboardTTL:       30 * time.Second,
		OutputFormat:       "table",
		ConfirmDestructive: true,
		KDF: KDFConfig{
			Algorithm:   keys.KDFArgon2id.String(),
			Iterations:  keys.DefaultArgon2Iterations,
			Memory:      keys.DefaultArgon2Memory,
			Parallelism: keys.DefaultArgon2Parallelism,
		},
		Cipher:      keys.CipherAES256GCM.String(),
		Compression: true,
		TOTP: TOTPConfig{
			Algorithm: string(totp.SHA1),
			Digits:    totp.DefaultDigits,
			Period:    totp.DefaultPeriod,
			Window:    totp.DefaultWindow,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from file or returns default. A missing
// file is created with the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	cleanPath := filepath.Clean(configPath)
	if _, err := os.Stat(cleanPath); os.IsNotExist(err) {
		if err := SaveConfig(cfg, cleanPath); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config, configPath string) error {
	cleanPath := filepath.Clean(configPath)

	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cleanPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks every field that has a closed set of values.
func (c *Config) Validate() error {
	switch c.OutputFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("%w: output_format must be table, json or yaml, got %q", ErrInvalidConfig, c.OutputFormat)
	}
	if c.ClipboardTTL < 0 {
		return fmt.Errorf("%w: clipboard_ttl must not be negative", ErrInvalidConfig)
	}
	if _, err := c.KeyParams(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.TOTPDefaults(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.TOTP.Window < 0 || c.TOTP.Window > 10 {
		return fmt.Errorf("%w: totp.window must be between 0 and 10", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// KeyParams converts the cipher and KDF settings for a new vault. The salt
// is left empty.
func (c *Config) KeyParams() (keys.Params, error) {
	cipher, err := keys.ParseCipher(c.Cipher)
	if err != nil {
		return keys.Params{}, err
	}
	alg, err := keys.ParseKDF(c.KDF.Algorithm)
	if err != nil {
		return keys.Params{}, err
	}

	kdf := keys.KDFParams{
		Algorithm:   alg,
		Iterations:  c.KDF.Iterations,
		MemoryKB:    c.KDF.Memory,
		Parallelism: c.KDF.Parallelism,
	}
	if alg == keys.KDFPBKDF2 {
		kdf.MemoryKB = 0
		kdf.Parallelism = 0
	}
	if err := keys.ValidateKDFParams(kdf); err != nil {
		return keys.Params{}, err
	}
	return keys.Params{Cipher: cipher, KDF: kdf, Scheme: keys.SchemeCompositeV1}, nil
}

// TOTPDefaults returns a secretless totp.Config with the configured
// algorithm, digits and period.
func (c *Config) TOTPDefaults() (totp.Config, error) {
	alg, err := totp.ParseAlgorithm(c.TOTP.Algorithm)
	if err != nil {
		return totp.Config{}, err
	}
	cfg := totp.Config{Algorithm: alg, Digits: c.TOTP.Digits, Period: c.TOTP.Period}.Normalize()
	if cfg.Digits != 6 && cfg.Digits != 8 {
		return totp.Config{}, fmt.Errorf("%w: got %d", totp.ErrInvalidDigits, cfg.Digits)
	}
	if cfg.Period <= 0 {
		return totp.Config{}, fmt.Errorf("%w: got %d", totp.ErrInvalidPeriod, cfg.Period)
	}
	return cfg, nil
}
