// Package clipboard copies secrets to the system clipboard and clears them
// again after a timeout.
package clipboard

import (
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"

	"github.com/vault-cli/lockbox/internal/protect"
)

// Backend is the clipboard implementation.
type Backend interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemBackend struct{}

func (systemBackend) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (systemBackend) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Clipboard clears what it copied once the timeout expires, unless the user
// has copied something else in the meantime.
type Clipboard struct {
	mu      sync.Mutex
	backend Backend
	after   func(time.Duration) <-chan time.Time
}

// New uses the system clipboard.
func New() *Clipboard {
	return NewWithBackend(systemBackend{})
}

// NewWithBackend uses b instead of the system clipboard.
func NewWithBackend(b Backend) *Clipboard {
	return &Clipboard{backend: b, after: time.After}
}

// Copy writes secret to the clipboard. The returned channel is closed once
// the clipboard has been cleared; with a zero timeout it is never cleared and
// the channel is closed immediately.
func (c *Clipboard) Copy(secret *protect.Value, timeout time.Duration) (<-chan struct{}, error) {
	text := secret.RevealText()

	c.mu.Lock()
	err := c.backend.WriteAll(text)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to copy to clipboard: %w", err)
	}

	done := make(chan struct{})
	if timeout <= 0 {
		close(done)
		return done, nil
	}

	go func() {
		defer close(done)
		<-c.after(timeout)
		c.clearIf(text)
	}()
	return done, nil
}

func (c *Clipboard) clearIf(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, err := c.backend.ReadAll()
	if err == nil && current == text {
		_ = c.backend.WriteAll("")
	}
}

// Available reports whether the clipboard can be read.
func (c *Clipboard) Available() bool {
	_, err := c.backend.ReadAll()
	return err == nil
}

// Clear empties the clipboard.
func (c *Clipboard) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.WriteAll("")
}
