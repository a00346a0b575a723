// Package vault owns the single decrypted vault of a session: it creates and
// opens containers, routes entry changes to the repository and re-encrypts on
// save with the key derived at open time.
package vault

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vault-cli/lockbox/internal/container"
	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/entries"
	"github.com/vault-cli/lockbox/internal/keys"
)

var (
	// ErrNotOpen is returned by operations that need an open vault.
	ErrNotOpen = errors.New("vault is not open")
	// ErrSaveInProgress is returned when a save is requested while another runs.
	ErrSaveInProgress = errors.New("save already in progress")
	// ErrAlreadyOpen is returned by Create and Open while a vault is open or
	// being opened.
	ErrAlreadyOpen = errors.New("a vault is already open")
	// ErrCannotOpen covers wrong credentials and corrupted files alike.
	ErrCannotOpen = errors.New("cannot open vault: wrong password or corrupted file")
)

// State is the lifecycle state of a Manager.
type State int

const (
	StateClosed State = iota
	StateCreating
	StateUnlocking
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateCreating:
		return "creating"
	case StateUnlocking:
		return "unlocking"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Codec is the container format used by a Manager.
type Codec interface {
	Decode(data []byte, creds *keys.Credentials) (*container.Document, *keys.VaultKey, error)
	Encode(doc *container.Document, key *keys.VaultKey, opts container.Options) ([]byte, error)
}

// CreateOptions describes a new vault.
type CreateOptions struct {
	Name        string
	Source      string
	Credentials *keys.Credentials
	// Params selects cipher and KDF. The zero value means keys.DefaultParams.
	// A fresh salt is generated when none is set.
	Params   keys.Params
	Compress bool
}

// Manager is the vault lifecycle state machine. It is safe for concurrent
// use; every operation is serialized.
type Manager struct {
	mu     sync.Mutex
	state  State
	saving atomic.Bool
	open   *openVault

	codec  Codec
	logger *slog.Logger
	now    func() time.Time
}

type openVault struct {
	name      string
	source    string
	createdAt time.Time
	repo      *entries.Repository
	key       *keys.VaultKey
	opts      container.Options
}

// Option configures a Manager.
type Option func(*Manager)

// WithCodec replaces the container codec.
func WithCodec(c Codec) Option {
	return func(m *Manager) {
		m.codec = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager in the closed state.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		state:  StateClosed,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.codec == nil {
		m.codec = container.New(container.WithLogger(m.logger))
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// begin moves Closed to a transitional state. The mutex is released while the
// key is derived so State and Lock stay responsive.
func (m *Manager) begin(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateClosed {
		return fmt.Errorf("%w (state %s)", ErrAlreadyOpen, m.state)
	}
	m.state = next
	return nil
}

func (m *Manager) abort() {
	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()
}

func (m *Manager) finish(v *openVault) {
	m.mu.Lock()
	m.open = v
	m.state = StateOpen
	m.mu.Unlock()
}

// Create derives a key for a new, empty vault and opens it.
func (m *Manager) Create(opts CreateOptions) (Info, error) {
	if opts.Credentials == nil {
		return Info{}, fmt.Errorf("%w: credentials required", keys.ErrInvalidParams)
	}
	if err := m.begin(StateCreating); err != nil {
		return Info{}, err
	}

	params, err := createParams(opts.Params)
	if err != nil {
		m.abort()
		return Info{}, err
	}

	key, err := keys.Derive(opts.Credentials, params)
	if err != nil {
		m.abort()
		return Info{}, err
	}

	v := &openVault{
		name:      opts.Name,
		source:    opts.Source,
		createdAt: m.now().UTC(),
		repo:      entries.New(entries.WithClock(m.now)),
		key:       key,
		opts:      container.Options{Compress: opts.Compress},
	}
	m.finish(v)

	m.logger.Info("vault created",
		slog.String("name", v.name),
		slog.String("cipher", params.Cipher.String()),
		slog.String("kdf", params.KDF.Algorithm.String()))
	return m.Info()
}

func createParams(p keys.Params) (keys.Params, error) {
	if p.Cipher == 0 && p.KDF.Algorithm == 0 {
		return keys.DefaultParams()
	}
	if p.Scheme == 0 {
		p.Scheme = keys.SchemeCompositeV1
	}
	if len(p.KDF.Salt) == 0 {
		return p.WithFreshSalt()
	}
	return p.Clone(), nil
}

// Open decodes data with creds. Authentication, truncation, compression and
// format failures all surface as ErrCannotOpen. On any error the manager
// stays closed.
func (m *Manager) Open(data []byte, source string, creds *keys.Credentials) (Info, error) {
	if creds == nil {
		return Info{}, fmt.Errorf("%w: credentials required", keys.ErrInvalidParams)
	}
	if err := m.begin(StateUnlocking); err != nil {
		return Info{}, err
	}

	doc, key, err := m.codec.Decode(data, creds)
	if err != nil {
		m.abort()
		return Info{}, coarsen(err)
	}

	repo := entries.New(entries.WithClock(m.now))
	if err := repo.Load(doc.Entries); err != nil {
		key.Destroy()
		m.abort()
		return Info{}, ErrCannotOpen
	}

	m.finish(&openVault{
		name:      doc.Name,
		source:    source,
		createdAt: doc.CreatedAt,
		repo:      repo,
		key:       key,
		opts:      doc.Options,
	})

	m.logger.Info("vault opened", slog.String("name", doc.Name), slog.Int("entries", repo.Len()))
	return m.Info()
}

func coarsen(err error) error {
	switch {
	case errors.Is(err, container.ErrAuthenticationFailed),
		errors.Is(err, container.ErrTruncated),
		errors.Is(err, container.ErrCompression),
		errors.Is(err, container.ErrInvalidFormat):
		return ErrCannotOpen
	default:
		return err
	}
}

// Save encodes the open vault with the key held since create or open.
func (m *Manager) Save() ([]byte, error) {
	if !m.saving.CompareAndSwap(false, true) {
		return nil, ErrSaveInProgress
	}
	defer m.saving.Store(false)

	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.current()
	if err != nil {
		return nil, err
	}

	doc := &container.Document{
		Name:      v.name,
		CreatedAt: v.createdAt,
		Entries:   v.repo.List(),
	}
	data, err := m.codec.Encode(doc, v.key, v.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode vault: %w", err)
	}

	m.logger.Debug("vault encoded", slog.Int("entries", len(doc.Entries)), slog.Int("bytes", len(data)))
	return data, nil
}

// Lock destroys the key and drops every entry. Calling it on a closed
// manager does nothing. A create or open already in flight is not cancelled.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen {
		return
	}
	m.open.key.Destroy()
	m.open.repo.Clear()
	m.open = nil
	m.state = StateClosed
	m.logger.Info("vault locked")
}

// Rekey replaces the vault key with one derived from creds. A zero params
// keeps the current cipher and KDF; a fresh salt is always used. The old key
// is destroyed once the new one exists. Nothing is written until Save.
func (m *Manager) Rekey(creds *keys.Credentials, params keys.Params) error {
	if creds == nil {
		return fmt.Errorf("%w: credentials required", keys.ErrInvalidParams)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.current()
	if err != nil {
		return err
	}

	if params.Cipher == 0 && params.KDF.Algorithm == 0 {
		params = v.key.Params()
	}
	if params.Scheme == 0 {
		params.Scheme = keys.SchemeCompositeV1
	}
	params, err = params.WithFreshSalt()
	if err != nil {
		return err
	}

	key, err := keys.Derive(creds, params)
	if err != nil {
		return err
	}
	v.key.Destroy()
	v.key = key

	m.logger.Info("vault key rotated",
		slog.String("cipher", params.Cipher.String()),
		slog.String("kdf", params.KDF.Algorithm.String()))
	return nil
}

// SetCompression selects whether subsequent saves gzip the payload.
func (m *Manager) SetCompression(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.current()
	if err != nil {
		return err
	}
	v.opts.Compress = on
	return nil
}

// SetSource records where the host will write the next save.
func (m *Manager) SetSource(source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.current()
	if err != nil {
		return err
	}
	v.source = source
	return nil
}

// CreateEntry adds a new entry.
func (m *Manager) CreateEntry(draft domain.EntryDraft) (domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.current()
	if err != nil {
		return domain.Entry{}, err
	}
	return v.repo.Create(draft)
}

// UpdateEntry replaces the mutable fields of entry id.
func (m *Manager) UpdateEntry(id uuid.UUID, draft domain.EntryDraft) (domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.current()
	if err != nil {
		return domain.Entry{}, err
	}
	return v.repo.Update(id, draft)
}

// DeleteEntry removes entry id.
func (m *Manager) DeleteEntry(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.current()
	if err != nil {
		return err
	}
	return v.repo.Delete(id)
}

// FindEntry returns entry id, or entries.ErrNotFound.
func (m *Manager) FindEntry(id uuid.UUID) (domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.current()
	if err != nil {
		return domain.Entry{}, err
	}
	e, ok := v.repo.Find(id)
	if !ok {
		return domain.Entry{}, fmt.Errorf("%w: %s", entries.ErrNotFound, id)
	}
	return e, nil
}

// ListEntries returns every entry in insertion order.
func (m *Manager) ListEntries() ([]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.current()
	if err != nil {
		return nil, err
	}
	return v.repo.List(), nil
}

// SearchEntries returns the entries matching every token of query.
func (m *Manager) SearchEntries(query string) ([]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.current()
	if err != nil {
		return nil, err
	}
	return v.repo.Search(query), nil
}

// current must be called with mu held.
func (m *Manager) current() (*openVault, error) {
	if m.state != StateOpen || m.open == nil {
		return nil, ErrNotOpen
	}
	return m.open, nil
}
