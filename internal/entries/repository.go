// Package entries holds the decrypted entries of an open vault in memory.
//
// The repository hands out deep copies only; the single way to change an
// entry is Update.
package entries

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vault-cli/lockbox/internal/domain"
)

var (
	// ErrNotFound is returned when no entry has the requested id.
	ErrNotFound = errors.New("entry not found")
	// ErrInvalidDraft is returned when a draft fails validation.
	ErrInvalidDraft = domain.ErrInvalidDraft
)

// Repository is an ordered, in-memory collection of entries. It is not safe
// for concurrent use; the vault manager serializes access.
type Repository struct {
	entries []domain.Entry
	index   map[uuid.UUID]int
	now     func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// New creates an empty repository.
func New(opts ...Option) *Repository {
	r := &Repository{
		index: make(map[uuid.UUID]int),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the contents with entries decoded from a container. Ids must
// already be resolved and unique.
func (r *Repository) Load(entries []domain.Entry) error {
	index := make(map[uuid.UUID]int, len(entries))
	loaded := make([]domain.Entry, 0, len(entries))
	for i, e := range entries {
		if _, dup := index[e.ID]; dup {
			return fmt.Errorf("duplicate entry id %s", e.ID)
		}
		index[e.ID] = i
		loaded = append(loaded, e.Clone())
	}
	r.entries = loaded
	r.index = index
	return nil
}

// Create validates draft and appends a new entry with fresh ids.
func (r *Repository) Create(draft domain.EntryDraft) (domain.Entry, error) {
	if err := draft.Validate(); err != nil {
		return domain.Entry{}, err
	}

	id := r.newID()
	now := r.now().UTC()
	e := applyDraft(domain.Entry{ID: id, NativeID: uuid.New(), CreatedAt: now}, draft)
	e.UpdatedAt = now

	r.index[id] = len(r.entries)
	r.entries = append(r.entries, e)
	return e.Clone(), nil
}

// Update replaces every mutable field of the entry with the draft's content.
// Custom fields and attachments are replaced wholesale.
func (r *Repository) Update(id uuid.UUID, draft domain.EntryDraft) (domain.Entry, error) {
	i, ok := r.index[id]
	if !ok {
		return domain.Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := draft.Validate(); err != nil {
		return domain.Entry{}, err
	}

	e := applyDraft(r.entries[i], draft)
	e.UpdatedAt = r.now().UTC()
	r.entries[i] = e
	return e.Clone(), nil
}

// Delete removes the entry. A missing id leaves the collection unchanged.
func (r *Repository) Delete(id uuid.UUID) error {
	i, ok := r.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	delete(r.index, id)
	for j := i; j < len(r.entries); j++ {
		r.index[r.entries[j].ID] = j
	}
	return nil
}

// Find returns a copy of the entry with the given id.
func (r *Repository) Find(id uuid.UUID) (domain.Entry, bool) {
	i, ok := r.index[id]
	if !ok {
		return domain.Entry{}, false
	}
	return r.entries[i].Clone(), true
}

// List returns copies of all entries in insertion order.
func (r *Repository) List() []domain.Entry {
	out := make([]domain.Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Clone()
	}
	return out
}

// Search returns copies of the entries matching every token of query.
func (r *Repository) Search(query string) []domain.Entry {
	tokens := ParseSearchTokens(query)
	out := make([]domain.Entry, 0)
	for _, e := range r.entries {
		if MatchesSearchTokens(&e, tokens) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Len returns the number of entries.
func (r *Repository) Len() int {
	return len(r.entries)
}

// Clear drops every entry.
func (r *Repository) Clear() {
	r.entries = nil
	r.index = make(map[uuid.UUID]int)
}

func (r *Repository) newID() uuid.UUID {
	for {
		id := uuid.New()
		if _, taken := r.index[id]; !taken {
			return id
		}
	}
}

func applyDraft(e domain.Entry, d domain.EntryDraft) domain.Entry {
	d = cloneDraft(d)
	e.Title = d.Title
	e.Username = d.Username
	e.Password = d.Password
	e.URL = d.URL
	e.Notes = d.Notes
	e.Icon = d.Icon
	e.CustomFields = d.CustomFields
	e.Attachments = d.Attachments
	e.TOTP = nil
	if d.TOTP != nil {
		cfg := d.TOTP.Normalize()
		e.TOTP = &cfg
	}
	return e
}

func cloneDraft(d domain.EntryDraft) domain.EntryDraft {
	e := domain.Entry{CustomFields: d.CustomFields, Attachments: d.Attachments, TOTP: d.TOTP}.Clone()
	d.CustomFields = e.CustomFields
	d.Attachments = e.Attachments
	d.TOTP = e.TOTP
	return d
}
