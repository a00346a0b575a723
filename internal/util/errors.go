// Package util maps errors from the engine packages to CLI exit codes.
package util

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vault-cli/lockbox/internal/config"
	"github.com/vault-cli/lockbox/internal/container"
	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/keys"
	"github.com/vault-cli/lockbox/internal/store"
	"github.com/vault-cli/lockbox/internal/totp"
	"github.com/vault-cli/lockbox/internal/vault"
)

// Exit codes
const (
	ExitOK           = 0
	ExitError        = 1
	ExitInvalidInput = 2
	ExitVaultLocked  = 3
	ExitCannotOpen   = 4
)

// ErrInvalidInput marks bad flags or arguments detected by the CLI itself.
var ErrInvalidInput = errors.New("invalid input")

var invalidInput = []error{
	ErrInvalidInput,
	domain.ErrInvalidDraft,
	domain.ErrNoTOTP,
	keys.ErrInvalidParams,
	keys.ErrInvalidKeyFile,
	keys.ErrNotImplemented,
	totp.ErrMissingSecret,
	totp.ErrInvalidSecret,
	totp.ErrInvalidDigits,
	totp.ErrInvalidPeriod,
	totp.ErrUnsupportedAlgorithm,
	totp.ErrUnsupportedScheme,
	totp.ErrMalformedURI,
	config.ErrInvalidConfig,
}

// ExitCode returns the exit code for err.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, store.ErrLocked):
		return ExitVaultLocked
	case errors.Is(err, vault.ErrCannotOpen),
		errors.Is(err, container.ErrUnsupportedVersion):
		return ExitCannotOpen
	}
	for _, target := range invalidInput {
		if errors.Is(err, target) {
			return ExitInvalidInput
		}
	}
	return ExitError
}

// HandleError prints err to w and returns its exit code.
func HandleError(w io.Writer, err error) int {
	code := ExitCode(err)
	if code == ExitOK {
		return code
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	switch code {
	case ExitVaultLocked:
		fmt.Fprintln(w, "Another process is writing the vault; try again shortly.")
	case ExitCannotOpen:
		fmt.Fprintln(w, "Check the master password and key file, or restore the vault from a backup.")
	}
	return code
}

// ExitWithCode exits the program with the specified code and message
func ExitWithCode(code int, format string, args ...interface{}) {
	if format != "" {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	os.Exit(code)
}

// WrapError wraps an error with additional context
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
