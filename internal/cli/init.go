package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/keys"
	"github.com/vault-cli/lockbox/internal/util"
	"github.com/vault-cli/lockbox/internal/vault"
)

// MinPassphraseLength applies to new master passwords entered on the command line.
const MinPassphraseLength = 8

type initOptions struct {
	name           string
	cipher         string
	kdf            string
	kdfMemory      uint32
	kdfIterations  uint32
	kdfParallelism uint8
	tune           time.Duration
	force          bool
	noCompress     bool
}

func newInitCommand(a *App) *cobra.Command {
	opts := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new vault",
		Long: `Create a new, empty vault protected by a master password and an
optional key file.

Cipher and KDF parameters default to the config file; flags override them.

Example:
  lockbox init --name Personal
  lockbox init --kdf-memory 131072 --kdf-iterations 4
  lockbox init --cipher chacha20-poly1305 --key-file ~/.lockbox.key
  lockbox init --tune 1s --vault /path/to/work.lockbox --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "vault name (default: file name)")
	cmd.Flags().StringVar(&opts.cipher, "cipher", "", "cipher (aes256-gcm|chacha20-poly1305)")
	cmd.Flags().StringVar(&opts.kdf, "kdf", "", "key derivation function (argon2id|pbkdf2-sha256)")
	cmd.Flags().Uint32Var(&opts.kdfMemory, "kdf-memory", 0, "memory parameter for Argon2id (KB)")
	cmd.Flags().Uint32Var(&opts.kdfIterations, "kdf-iterations", 0, "iterations (Argon2id passes or PBKDF2 rounds)")
	cmd.Flags().Uint8Var(&opts.kdfParallelism, "kdf-parallelism", 0, "parallelism parameter for Argon2id")
	cmd.Flags().DurationVar(&opts.tune, "tune", 0, "tune Argon2id to take about this long on this machine")
	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite an existing vault")
	cmd.Flags().BoolVar(&opts.noCompress, "no-compress", false, "do not compress the entry tree")

	return cmd
}

func (a *App) runInit(cmd *cobra.Command, opts *initOptions) error {
	params, err := a.initParams(cmd, opts)
	if err != nil {
		return err
	}

	name := opts.name
	if name == "" {
		base := filepath.Base(a.vaultPath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	location, err := a.saveLocation(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(location); err == nil && !opts.force {
		return fmt.Errorf("%w: vault already exists at %s (use --force to overwrite)", util.ErrInvalidInput, location)
	}
	if err := os.MkdirAll(filepath.Dir(location), 0o700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	password, err := a.masterPassword(true)
	if err != nil {
		return err
	}
	if password.Len() < MinPassphraseLength {
		return fmt.Errorf("%w: passphrase is too short (minimum %d characters)", util.ErrInvalidInput, MinPassphraseLength)
	}
	creds, err := a.buildCredentials(password, a.keyFile)
	if err != nil {
		return err
	}

	m := vault.NewManager(vault.WithLogger(a.logger))
	defer m.Lock()

	info, err := m.Create(vault.CreateOptions{
		Name:        name,
		Source:      location,
		Credentials: creds,
		Params:      params,
		Compress:    a.cfg.Compression && !opts.noCompress,
	})
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}
	if err := a.save(m, location); err != nil {
		return err
	}

	hist := a.history()
	if hist != nil {
		defer a.closeHistory(hist)
	}
	a.remember(hist, domain.HistoryRecord{Name: info.Name, Location: location, KeyFile: absKeyFile(a.keyFile)})

	w := out(cmd)
	if err := writeOutput(w, "✓ Vault %q created at %s\n", info.Name, location); err != nil {
		return err
	}
	return printKV(w, [][2]string{
		{"Cipher", info.Cipher},
		{"KDF", describeKDF(info.KDF)},
		{"Compressed", fmt.Sprint(info.Compressed)},
	})
}

// initParams merges the config defaults with the command line flags.
func (a *App) initParams(cmd *cobra.Command, opts *initOptions) (keys.Params, error) {
	params, err := a.cfg.KeyParams()
	if err != nil {
		return keys.Params{}, err
	}

	if opts.cipher != "" {
		if params.Cipher, err = keys.ParseCipher(opts.cipher); err != nil {
			return keys.Params{}, err
		}
	}
	if opts.kdf != "" {
		alg, err := keys.ParseKDF(opts.kdf)
		if err != nil {
			return keys.Params{}, err
		}
		if alg != params.KDF.Algorithm {
			params.KDF = keys.DefaultArgon2Params()
			if alg == keys.KDFPBKDF2 {
				params.KDF = keys.DefaultPBKDF2Params()
			}
		}
	}

	if opts.tune > 0 {
		if params.KDF.Algorithm != keys.KDFArgon2id {
			return keys.Params{}, fmt.Errorf("%w: --tune only applies to argon2id", util.ErrInvalidInput)
		}
		if params.KDF, err = keys.TuneArgon2Params(opts.tune); err != nil {
			return keys.Params{}, fmt.Errorf("failed to tune kdf: %w", err)
		}
	}

	if cmd.Flags().Changed("kdf-iterations") {
		params.KDF.Iterations = opts.kdfIterations
	}
	if params.KDF.Algorithm == keys.KDFArgon2id {
		if cmd.Flags().Changed("kdf-memory") {
			params.KDF.MemoryKB = opts.kdfMemory
		}
		if cmd.Flags().Changed("kdf-parallelism") {
			params.KDF.Parallelism = opts.kdfParallelism
		}
	} else if cmd.Flags().Changed("kdf-memory") || cmd.Flags().Changed("kdf-parallelism") {
		return keys.Params{}, fmt.Errorf("%w: --kdf-memory and --kdf-parallelism only apply to argon2id", util.ErrInvalidInput)
	}

	if err := keys.ValidateKDFParams(params.KDF); err != nil {
		return keys.Params{}, err
	}
	params.Scheme = keys.SchemeCompositeV1
	return params, nil
}

func describeKDF(k keys.KDFParams) string {
	if k.Algorithm == keys.KDFPBKDF2 {
		return fmt.Sprintf("%s, %d iterations", k.Algorithm, k.Iterations)
	}
	return fmt.Sprintf("%s, %d iterations, %d KB, parallelism %d", k.Algorithm, k.Iterations, k.MemoryKB, k.Parallelism)
}

func absKeyFile(p string) string {
	if p == "" {
		return ""
	}
	return absPath(p)
}
