package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/entries"
	"github.com/vault-cli/lockbox/internal/keys"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/store"
	"github.com/vault-cli/lockbox/internal/util"
	"github.com/vault-cli/lockbox/internal/vault"
)

// hardwareSlot names a hardware key slot given on the command line.
type hardwareSlot string

func (s hardwareSlot) Slot() string { return string(s) }

// vaultSession is the open vault handed to a command.
type vaultSession struct {
	*vault.Manager
	location string
	keyFile  string
	info     vault.Info
}

// withVault opens the vault, runs fn and locks it again. When write is set
// the vault is saved back to its location after fn succeeds.
func (a *App) withVault(write bool, fn func(s *vaultSession) error) error {
	location, err := a.openLocation()
	if err != nil {
		return err
	}

	data, err := a.storage.ReadBytes(location)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no vault at %s (run 'lockbox init' first): %w", location, err)
		}
		return fmt.Errorf("failed to read vault: %w", err)
	}

	hist := a.history()
	if hist != nil {
		defer a.closeHistory(hist)
	}

	keyFile := absKeyFile(a.keyFile)
	if keyFile == "" && hist != nil {
		if rec, ok, err := hist.Find(location); err == nil && ok {
			keyFile = rec.KeyFile
		}
	}

	creds, err := a.credentials(keyFile, false)
	if err != nil {
		return err
	}

	m := vault.NewManager(vault.WithLogger(a.logger))
	defer m.Lock()

	info, err := m.Open(data, location, creds)
	if err != nil {
		return err
	}
	a.logger.Debug("vault opened", slog.String("path", location), slog.Int("entries", info.Entries))
	a.remember(hist, domain.HistoryRecord{Name: info.Name, Location: location, KeyFile: keyFile, HardwareKey: a.hardwareSlot != ""})

	s := &vaultSession{Manager: m, location: location, keyFile: keyFile, info: info}
	if err := fn(s); err != nil {
		return err
	}
	if !write {
		return nil
	}
	return a.save(s.Manager, s.location)
}

func (a *App) save(m *vault.Manager, location string) error {
	data, err := m.Save()
	if err != nil {
		return fmt.Errorf("failed to encode vault: %w", err)
	}
	if err := a.storage.WriteBytes(location, data); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	a.logger.Debug("vault saved", slog.String("path", location))
	return nil
}

// openLocation returns the vault to open, asking the user when --pick is set.
// The choice is kept for the rest of the command.
func (a *App) openLocation() (string, error) {
	if !a.pick {
		return absPath(a.vaultPath), nil
	}

	hist := a.history()
	if hist != nil {
		defer a.closeHistory(hist)
	}
	chooser := a.chooser(hist)
	location, ok, err := chooser.ChooseOpenLocation(store.VaultFilter)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errCancelled
	}
	a.vaultPath, a.pick = absPath(location), false
	return a.vaultPath, nil
}

// saveLocation returns the location for a new vault called name.
func (a *App) saveLocation(name string) (string, error) {
	if !a.pick {
		return absPath(a.vaultPath), nil
	}
	location, ok, err := a.chooser(nil).ChooseSaveLocation(name, store.VaultFilter)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errCancelled
	}
	return absPath(location), nil
}

var errCancelled = errors.New("cancelled")

func (a *App) chooser(hist store.HistoryStore) *promptChooser {
	return &promptChooser{
		prompt:     a.prompt,
		out:        a.errOut,
		history:    hist,
		defaultDir: filepath.Dir(a.vaultPath),
	}
}

// history opens the history store. It is best effort: failures are logged
// and nil is returned.
func (a *App) history() History {
	if a.cfg.HistoryPath == "" {
		return nil
	}
	h, err := a.openHistory(a.cfg.HistoryPath, a.logger)
	if err != nil {
		a.logger.Warn("history unavailable", slog.Any("error", err))
		return nil
	}
	return h
}

func (a *App) closeHistory(h History) {
	if err := h.Close(); err != nil {
		a.logger.Warn("failed to close history", slog.Any("error", err))
	}
}

func (a *App) remember(h History, rec domain.HistoryRecord) {
	if h == nil {
		return
	}
	if _, err := h.Add(rec); err != nil {
		a.logger.Warn("failed to record history", slog.String("path", rec.Location), slog.Any("error", err))
	}
}

// credentials gathers the master password, key file and hardware key. With
// confirm set a prompted password must be typed twice.
func (a *App) credentials(keyFile string, confirm bool) (*keys.Credentials, error) {
	password, err := a.masterPassword(confirm)
	if err != nil {
		return nil, err
	}
	return a.buildCredentials(password, keyFile)
}

func (a *App) buildCredentials(password *protect.Value, keyFile string) (*keys.Credentials, error) {
	var opts []keys.Option
	if keyFile != "" {
		contents, err := os.ReadFile(filepath.Clean(keyFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		opts = append(opts, keys.WithKeyFile(contents))
		memguard.WipeBytes(contents)
	}
	if a.hardwareSlot != "" {
		opts = append(opts, keys.WithHardwareKey(hardwareSlot(a.hardwareSlot)))
	}
	return keys.NewCredentials(password, opts...), nil
}

func (a *App) masterPassword(confirm bool) (*protect.Value, error) {
	if a.passphrase != "" {
		return protect.FromString(a.passphrase), nil
	}
	if env := a.getenv(PassphraseEnv); env != "" {
		return protect.FromString(env), nil
	}
	if confirm {
		return promptPasswordConfirm(a.prompt, "Enter master password: ")
	}
	return a.prompt.Password("Master password: ")
}

// resolveEntry finds an entry by id or, case-insensitively, by title.
func resolveEntry(m *vault.Manager, ref string) (domain.Entry, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return m.FindEntry(id)
	}

	all, err := m.ListEntries()
	if err != nil {
		return domain.Entry{}, err
	}
	var matches []domain.Entry
	for _, e := range all {
		if strings.EqualFold(e.Title, ref) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return domain.Entry{}, fmt.Errorf("%w: %q", entries.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return domain.Entry{}, fmt.Errorf("%w: %d entries are titled %q, use the id", util.ErrInvalidInput, len(matches), ref)
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// confirmDestructive asks before destroying data unless --yes was given or
// confirmations are turned off.
func (a *App) confirmDestructive(prompt string, yes bool) (bool, error) {
	if yes || !a.cfg.ConfirmDestructive {
		return true, nil
	}
	return a.prompt.Confirm(prompt, false)
}
