package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vault-cli/lockbox/internal/keys"
	"github.com/vault-cli/lockbox/internal/store"
	"github.com/vault-cli/lockbox/internal/vault"
)

func newDoctorCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Perform security and health checks",
		Long: `Perform security and health checks without unlocking the vault.

This command checks:
- Vault, config and history file permissions
- The container header and KDF parameter strength
- History store availability
- Clipboard support and timeout

Example:
  lockbox doctor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDoctor(out(cmd))
		},
	}
}

// checkup collects doctor findings.
type checkup struct {
	w        io.Writer
	issues   int
	warnings int
}

func (c *checkup) section(title string) { fmt.Fprintf(c.w, "\n%s\n", title) }

func (c *checkup) ok(format string, args ...interface{}) {
	fmt.Fprintf(c.w, "   ✅ "+format+"\n", args...)
}

func (c *checkup) warn(format string, args ...interface{}) {
	c.warnings++
	fmt.Fprintf(c.w, "   ⚠️  "+format+"\n", args...)
}

func (c *checkup) fail(format string, args ...interface{}) {
	c.issues++
	fmt.Fprintf(c.w, "   ❌ "+format+"\n", args...)
}

// filePerm reports whether path is private to its owner.
func (c *checkup) filePerm(label, path string) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		c.ok("%s not found (nothing to check)", label)
		return
	}
	if err != nil {
		c.fail("Cannot check %s: %v", label, err)
		return
	}
	if runtime.GOOS == "windows" {
		c.ok("%s present (permission bits not checked on windows)", label)
		return
	}
	perm := info.Mode().Perm()
	switch {
	case perm == 0o600:
		c.ok("%s permissions: %o (secure)", label, perm)
	case perm&0o077 != 0:
		c.fail("%s permissions: %o (too permissive, should be 0600)", label, perm)
		fmt.Fprintf(c.w, "      Fix with: chmod 600 %s\n", path)
	default:
		c.warn("%s permissions: %o (acceptable but 0600 recommended)", label, perm)
	}
}

func (a *App) runDoctor(w io.Writer) error {
	c := &checkup{w: w}
	fmt.Fprintln(w, "Lockbox Security & Health Check")
	fmt.Fprintln(w, "===============================")

	location := absPath(a.vaultPath)

	c.section("1. File Security")
	c.filePerm("Vault file", location)
	c.filePerm("Config file", a.configPath())
	if a.cfg.HistoryPath != "" {
		c.filePerm("History file", a.cfg.HistoryPath)
	}
	if runtime.GOOS != "windows" {
		if info, err := os.Stat(filepath.Dir(location)); err == nil {
			if perm := info.Mode().Perm(); perm&0o077 == 0 {
				c.ok("Vault directory permissions: %o (secure)", perm)
			} else {
				c.warn("Vault directory permissions: %o (consider 0700)", perm)
			}
		}
	}

	c.section("2. Vault Container")
	data, err := a.storage.ReadBytes(location)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.fail("Vault file not found: %s", location)
	case err != nil:
		c.fail("Cannot read vault: %v", err)
	default:
		header, err := vault.Inspect(data)
		if err != nil {
			c.fail("Header is not readable: %v", err)
			break
		}
		c.ok("Format version %d, cipher %s", header.Version, header.Cipher)
		c.kdfStrength(header.KDF)
	}

	c.section("3. History")
	if a.cfg.HistoryPath == "" {
		c.ok("History disabled")
	} else if h, err := a.openHistory(a.cfg.HistoryPath, a.logger); err != nil {
		if errors.Is(err, store.ErrLocked) {
			c.warn("History store is in use by another process")
		} else {
			c.fail("History store cannot be opened: %v", err)
		}
	} else {
		records, err := h.List()
		a.closeHistory(h)
		if err != nil {
			c.fail("History store cannot be read: %v", err)
		} else {
			c.ok("History store readable (%d %s)", len(records), plural(len(records), "vault", "vaults"))
		}
	}

	c.section("4. Clipboard")
	if a.clip.Available() {
		c.ok("System clipboard available")
	} else {
		c.warn("System clipboard not available, --copy will fail")
	}
	switch ttl := a.cfg.ClipboardTTL; {
	case ttl == 0:
		c.warn("Clipboard is never cleared (clipboard_ttl is 0)")
	case ttl > 60*time.Second:
		c.warn("Clipboard timeout is %v (consider reducing)", ttl)
	default:
		c.ok("Clipboard timeout: %v", ttl)
	}

	if runtime.GOOS == "linux" {
		c.section("5. System")
		if swaps, err := os.ReadFile("/proc/swaps"); err == nil && strings.Count(strings.TrimSpace(string(swaps)), "\n") > 0 {
			c.warn("Swap is enabled - secrets may be written to disk")
			fmt.Fprintln(w, "      Consider disabling swap or using encrypted swap")
		} else {
			c.ok("No swap devices")
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 40))
	if c.issues == 0 && c.warnings == 0 {
		fmt.Fprintln(w, "✅ All checks passed!")
		return nil
	}
	if c.issues > 0 {
		fmt.Fprintf(w, "❌ Found %d %s that should be fixed\n", c.issues, plural(c.issues, "issue", "issues"))
	}
	if c.warnings > 0 {
		fmt.Fprintf(w, "⚠️  Found %d %s for consideration\n", c.warnings, plural(c.warnings, "warning", "warnings"))
	}
	return nil
}

func (c *checkup) kdfStrength(k keys.KDFParams) {
	switch k.Algorithm {
	case keys.KDFArgon2id:
		switch {
		case k.MemoryKB >= 64*1024:
			c.ok("Argon2id memory: %d KB (strong)", k.MemoryKB)
		case k.MemoryKB >= 8*1024:
			c.warn("Argon2id memory: %d KB (acceptable but consider increasing)", k.MemoryKB)
		default:
			c.fail("Argon2id memory: %d KB (weak, should be at least 8192 KB)", k.MemoryKB)
		}
		if k.Iterations >= 3 {
			c.ok("Argon2id iterations: %d", k.Iterations)
		} else {
			c.warn("Argon2id iterations: %d (consider increasing)", k.Iterations)
		}
	case keys.KDFPBKDF2:
		switch {
		case k.Iterations >= keys.DefaultPBKDF2Iterations:
			c.ok("PBKDF2 iterations: %d (strong)", k.Iterations)
		case k.Iterations >= 100000:
			c.warn("PBKDF2 iterations: %d (consider 'lockbox rotate-master-key')", k.Iterations)
		default:
			c.fail("PBKDF2 iterations: %d (weak)", k.Iterations)
		}
	default:
		c.fail("Unknown KDF %s", k.Algorithm)
	}
}
