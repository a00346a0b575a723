// Package cli implements the lockbox command line: it drives a vault.Manager
// against files on disk, keeps the recently opened history and talks to the
// user through prompts and the clipboard.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/clipboard"
	"github.com/vault-cli/lockbox/internal/config"
	"github.com/vault-cli/lockbox/internal/logging"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/store"
	"github.com/vault-cli/lockbox/internal/util"
)

// PassphraseEnv names the environment variable read for the master password
// when --passphrase is not given.
const PassphraseEnv = "LOCKBOX_PASSPHRASE"

// Clipboard copies secrets with a timed clear.
type Clipboard interface {
	Available() bool
	Copy(secret *protect.Value, timeout time.Duration) (<-chan struct{}, error)
}

// History is a HistoryStore that must be closed after use.
type History interface {
	store.HistoryStore
	Close() error
}

// HistoryOpener opens the history database at path.
type HistoryOpener func(path string, logger *slog.Logger) (History, error)

// App holds the flags and collaborators shared by all commands.
type App struct {
	cfgFile      string
	vaultPath    string
	keyFile      string
	hardwareSlot string
	passphrase   string
	pick         bool
	verbose      bool

	cfg         *config.Config
	logger      *slog.Logger
	storage     store.ByteStorage
	prompt      Prompter
	clip        Clipboard
	openHistory HistoryOpener
	errOut      io.Writer
	getenv      func(string) string
	now         func() time.Time
}

// Option configures an App.
type Option func(*App)

// WithConfig uses cfg instead of loading the config file.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) {
		a.cfg = cfg
	}
}

// WithStorage replaces the file storage.
func WithStorage(s store.ByteStorage) Option {
	return func(a *App) {
		a.storage = s
	}
}

// WithPrompter replaces the terminal prompter.
func WithPrompter(p Prompter) Option {
	return func(a *App) {
		a.prompt = p
	}
}

// WithClipboard replaces the system clipboard.
func WithClipboard(c Clipboard) Option {
	return func(a *App) {
		a.clip = c
	}
}

// WithHistoryOpener replaces the bbolt history.
func WithHistoryOpener(open HistoryOpener) Option {
	return func(a *App) {
		a.openHistory = open
	}
}

// WithEnv replaces os.Getenv.
func WithEnv(getenv func(string) string) Option {
	return func(a *App) {
		a.getenv = getenv
	}
}

// WithClock replaces time.Now for TOTP codes.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// NewApp creates an App. Collaborators that are not injected are built from
// the configuration when a command runs.
func NewApp(opts ...Option) *App {
	a := &App{
		getenv: os.Getenv,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewRootCommand builds the lockbox command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	return NewApp(opts...).Command()
}

// Command returns the root command bound to a.
func (a *App) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lockbox",
		Short: "A local, file based password manager with TOTP support",
		Long: `Lockbox keeps credentials in a single encrypted container file.

Features:
- AES-256-GCM or ChaCha20-Poly1305 with Argon2id or PBKDF2 key derivation
- Optional key file mixed into the master key
- Custom fields, protected fields and file attachments per entry
- TOTP codes and otpauth:// URIs
- Clipboard integration with auto-clear`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/lockbox/config.yaml)")
	cmd.PersistentFlags().StringVar(&a.vaultPath, "vault", "", "vault file path")
	cmd.PersistentFlags().BoolVar(&a.pick, "pick", false, "choose the vault interactively from the history")
	cmd.PersistentFlags().StringVar(&a.keyFile, "key-file", "", "key file mixed into the master key")
	cmd.PersistentFlags().StringVar(&a.hardwareSlot, "hardware-key", "", "hardware key slot (not supported yet)")
	cmd.PersistentFlags().StringVar(&a.passphrase, "passphrase", "", "master password (prefer "+PassphraseEnv+" or the prompt)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		newInitCommand(a),
		newAddCommand(a),
		newGetCommand(a),
		newListCommand(a),
		newUpdateCommand(a),
		newDeleteCommand(a),
		newTOTPCommand(a),
		newHistoryCommand(a),
		newPassgenCommand(a),
		newInfoCommand(a),
		newRotateMasterKeyCommand(a),
		newRotatePasswordCommand(a),
		newSaveAsCommand(a),
		newExportCommand(a),
		newImportCommand(a),
		newDoctorCommand(a),
		newConfigCommand(a),
	)
	return cmd
}

func (a *App) setup(cmd *cobra.Command) error {
	if a.cfg == nil {
		path := a.configPath()
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		a.cfg = cfg
	}

	if a.logger == nil {
		level := a.cfg.Log.Level
		if a.verbose {
			level = "debug"
		}
		logger, err := logging.New(cmd.ErrOrStderr(), level, a.cfg.Log.Format)
		if err != nil {
			return fmt.Errorf("%w: %v", util.ErrInvalidInput, err)
		}
		a.logger = logger
	}

	a.errOut = cmd.ErrOrStderr()
	if a.vaultPath == "" {
		a.vaultPath = a.cfg.VaultPath
	}
	if a.storage == nil {
		a.storage = store.NewFileStorage(store.WithFileLogger(a.logger))
	}
	if a.prompt == nil {
		a.prompt = newTerminalPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
	}
	if a.clip == nil {
		a.clip = clipboard.New()
	}
	if a.openHistory == nil {
		a.openHistory = openBoltHistory
	}
	return nil
}

func (a *App) configPath() string {
	if a.cfgFile != "" {
		return a.cfgFile
	}
	return config.DefaultPath()
}

func openBoltHistory(path string, logger *slog.Logger) (History, error) {
	return store.OpenHistory(path, store.WithHistoryLogger(logger))
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := NewRootCommand().Execute()
	return util.HandleError(os.Stderr, err)
}

// out is the writer for command results.
func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
