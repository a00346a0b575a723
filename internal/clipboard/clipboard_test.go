package clipboard

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-cli/lockbox/internal/protect"
)

type memBackend struct {
	mu   sync.Mutex
	text string
	err  error
}

func (m *memBackend) ReadAll() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, m.err
}

func (m *memBackend) WriteAll(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.text = text
	return nil
}

func (m *memBackend) get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

func newTestClipboard(b Backend) (*Clipboard, chan time.Time) {
	fire := make(chan time.Time)
	c := NewWithBackend(b)
	c.after = func(time.Duration) <-chan time.Time { return fire }
	return c, fire
}

func TestCopyClearsAfterTimeout(t *testing.T) {
	b := &memBackend{}
	c, fire := newTestClipboard(b)

	done, err := c.Copy(protect.FromString("s3cret"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", b.get())

	fire <- time.Now()
	<-done
	assert.Empty(t, b.get())
}

func TestCopyKeepsNewerContent(t *testing.T) {
	b := &memBackend{}
	c, fire := newTestClipboard(b)

	done, err := c.Copy(protect.FromString("s3cret"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, b.WriteAll("something else"))

	fire <- time.Now()
	<-done
	assert.Equal(t, "something else", b.get())
}

func TestCopyWithoutTimeout(t *testing.T) {
	b := &memBackend{}
	c := NewWithBackend(b)

	done, err := c.Copy(protect.FromString("keep"), 0)
	require.NoError(t, err)
	<-done
	assert.Equal(t, "keep", b.get())
}

func TestCopyBackendFailure(t *testing.T) {
	b := &memBackend{err: errors.New("no display")}
	c := NewWithBackend(b)

	_, err := c.Copy(protect.FromString("x"), time.Second)
	assert.Error(t, err)
	assert.False(t, c.Available())
}

func TestClear(t *testing.T) {
	b := &memBackend{text: "x"}
	c := NewWithBackend(b)
	require.NoError(t, c.Clear())
	assert.Empty(t, b.get())
	assert.True(t, c.Available())
}
