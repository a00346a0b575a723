package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/keys"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/util"
	"github.com/vault-cli/lockbox/internal/vault"
)

// NewPassphraseEnv names the environment variable read for the new master
// password during rotation.
const NewPassphraseEnv = "LOCKBOX_NEW_PASSPHRASE"

type rotateMasterKeyOptions struct {
	newKeyFile    string
	removeKeyFile bool
	cipher        string
	kdf           string
}

func newRotateMasterKeyCommand(a *App) *cobra.Command {
	opts := &rotateMasterKeyOptions{}

	cmd := &cobra.Command{
		Use:   "rotate-master-key",
		Short: "Change the master password and re-encrypt the vault",
		Long: `Change the master password, key file, cipher or KDF while preserving
all vault data.

This process:
1. Opens the vault with the current credentials
2. Prompts for a new master password
3. Derives a new key with a fresh salt
4. Re-encrypts the vault with the new key

Example:
  lockbox rotate-master-key
  lockbox rotate-master-key --new-key-file ~/.lockbox.key
  lockbox rotate-master-key --cipher chacha20-poly1305 --kdf argon2id`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRotateMasterKey(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.newKeyFile, "new-key-file", "", "key file for the new credentials (default: keep the current one)")
	cmd.Flags().BoolVar(&opts.removeKeyFile, "remove-key-file", false, "stop using a key file")
	cmd.Flags().StringVar(&opts.cipher, "cipher", "", "switch cipher (aes256-gcm|chacha20-poly1305)")
	cmd.Flags().StringVar(&opts.kdf, "kdf", "", "switch key derivation function with its defaults (argon2id|pbkdf2-sha256)")
	return cmd
}

func (a *App) runRotateMasterKey(cmd *cobra.Command, opts *rotateMasterKeyOptions) error {
	if opts.newKeyFile != "" && opts.removeKeyFile {
		return fmt.Errorf("%w: --new-key-file cannot be combined with --remove-key-file", util.ErrInvalidInput)
	}

	var location, newKeyFile string

	err := a.withVault(true, func(s *vaultSession) error {
		params, err := rotationParams(s.info, opts)
		if err != nil {
			return err
		}

		location = s.location
		newKeyFile = s.keyFile
		switch {
		case opts.removeKeyFile:
			newKeyFile = ""
		case opts.newKeyFile != "":
			newKeyFile = absPath(opts.newKeyFile)
		}

		password, err := a.newMasterPassword()
		if err != nil {
			return err
		}
		if password.Len() < MinPassphraseLength {
			return fmt.Errorf("%w: passphrase is too short (minimum %d characters)", util.ErrInvalidInput, MinPassphraseLength)
		}
		creds, err := a.buildCredentials(password, newKeyFile)
		if err != nil {
			return err
		}

		if err := s.Rekey(creds, params); err != nil {
			return fmt.Errorf("failed to rotate master key: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if hist := a.history(); hist != nil {
		defer a.closeHistory(hist)
		if rec, ok, err := hist.Find(location); err == nil && ok {
			rec.KeyFile = newKeyFile
			a.remember(hist, rec)
		}
	}

	return writeOutput(out(cmd), "✓ Master key rotated. Use the new credentials from now on.\n")
}

// rotationParams returns the zero Params, which keeps cipher and KDF, unless
// a switch was requested.
func rotationParams(info vault.Info, opts *rotateMasterKeyOptions) (keys.Params, error) {
	if opts.cipher == "" && opts.kdf == "" {
		return keys.Params{}, nil
	}

	cipher, err := keys.ParseCipher(info.Cipher)
	if err != nil {
		return keys.Params{}, err
	}
	params := keys.Params{Cipher: cipher, KDF: info.KDF, Scheme: keys.SchemeCompositeV1}

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
	return params, nil
}

func (a *App) newMasterPassword() (*protect.Value, error) {
	if env := a.getenv(NewPassphraseEnv); env != "" {
		return protect.FromString(env), nil
	}
	return promptPasswordConfirm(a.prompt, "Enter new master password: ")
}
