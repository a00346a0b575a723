// Package domain defines the core data structures of the credential vault:
// entries, their fields and attachments, and the plaintext history of
// recently opened vaults.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/totp"
)

// Reserved field names in the container's entry tree. Custom fields may not
// use them.
const (
	FieldTitle    = "Title"
	FieldUserName = "UserName"
	FieldPassword = "Password"
	FieldURL      = "URL"
	FieldNotes    = "Notes"
	FieldIcon     = "Icon"
	FieldEntryID  = "EntryId"
	FieldOTP      = "otp"
)

var reservedFields = map[string]struct{}{
	FieldTitle:    {},
	FieldUserName: {},
	FieldPassword: {},
	FieldURL:      {},
	FieldNotes:    {},
	FieldIcon:     {},
	FieldEntryID:  {},
	FieldOTP:      {},
}

// IsReservedField reports whether name is one of the system field names.
func IsReservedField(name string) bool {
	_, ok := reservedFields[name]
	return ok
}

var (
	// ErrInvalidDraft is returned when an EntryDraft fails validation.
	ErrInvalidDraft = errors.New("invalid entry")
	// ErrNoTOTP is returned for TOTP operations on an entry without a TOTP config.
	ErrNoTOTP = errors.New("entry does not have TOTP configured")
)

// FieldValue is either a PlainValue or a ProtectedValue.
type FieldValue interface {
	// IsProtected reports whether the value is a secret.
	IsProtected() bool
	// Reveal returns the value as text. For protected values the caller is
	// responsible for not leaking the result.
	Reveal() string
	isFieldValue()
}

// PlainValue is a non-secret custom field value.
type PlainValue string

func (PlainValue) IsProtected() bool { return false }
func (v PlainValue) Reveal() string  { return string(v) }
func (v PlainValue) String() string  { return string(v) }
func (PlainValue) isFieldValue()     {}

// ProtectedValue is a secret custom field value.
type ProtectedValue struct {
	Value *protect.Value
}

// Protected wraps s as a ProtectedValue.
func Protected(s string) ProtectedValue {
	return ProtectedValue{Value: protect.FromString(s)}
}

func (ProtectedValue) IsProtected() bool { return true }
func (v ProtectedValue) Reveal() string  { return v.Value.RevealText() }
func (v ProtectedValue) String() string  { return v.Value.String() }
func (ProtectedValue) isFieldValue()     {}

// CustomField is a user defined key/value pair. Order is preserved.
type CustomField struct {
	Key   string
	Value FieldValue
}

// Attachment is a named binary blob stored with an entry.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// Clone returns a copy of a with its own data slice.
func (a Attachment) Clone() Attachment {
	a.Data = append([]byte(nil), a.Data...)
	return a
}

// Entry represents a credential in the vault
type Entry struct {
	ID uuid.UUID
	// NativeID is the identity used inside the container format. ID is
	// always stored alongside it in the EntryId field.
	NativeID     uuid.UUID
	Title        string
	Username     string
	Password     *protect.Value
	URL          string
	Notes        string
	Icon         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CustomFields []CustomField
	Attachments  []Attachment
	TOTP         *totp.Config
}

// Clone returns a deep copy of the entry. Protected values are immutable and
// shared.
func (e Entry) Clone() Entry {
	out := e
	if e.CustomFields != nil {
		out.CustomFields = append([]CustomField(nil), e.CustomFields...)
	}
	if e.Attachments != nil {
		out.Attachments = make([]Attachment, len(e.Attachments))
		for i, a := range e.Attachments {
			out.Attachments[i] = a.Clone()
		}
	}
	if e.TOTP != nil {
		cfg := *e.TOTP
		out.TOTP = &cfg
	}
	return out
}

// Field returns the custom field named key.
func (e Entry) Field(key string) (FieldValue, bool) {
	for _, f := range e.CustomFields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Attachment returns the attachment called name.
func (e Entry) Attachment(name string) (Attachment, bool) {
	for _, a := range e.Attachments {
		if a.Name == name {
			return a.Clone(), true
		}
	}
	return Attachment{}, false
}

// OTPAuthURI renders the entry's TOTP configuration as an otpauth URI, using
// the title as issuer and the username as account.
func (e Entry) OTPAuthURI() (string, error) {
	if e.TOTP == nil {
		return "", ErrNoTOTP
	}
	return totp.URI(*e.TOTP, e.Title, e.Username)
}

// Draft returns the mutable part of the entry, ready to be edited and passed
// back to an update.
func (e Entry) Draft() EntryDraft {
	c := e.Clone()
	return EntryDraft{
		Title:        c.Title,
		Username:     c.Username,
		Password:     c.Password,
		URL:          c.URL,
		Notes:        c.Notes,
		Icon:         c.Icon,
		CustomFields: c.CustomFields,
		Attachments:  c.Attachments,
		TOTP:         c.TOTP,
	}
}

// EntryDraft is the caller supplied content for creating or updating an
// entry.
type EntryDraft struct {
	Title        string
	Username     string
	Password     *protect.Value
	URL          string
	Notes        string
	Icon         string
	CustomFields []CustomField
	Attachments  []Attachment
	TOTP         *totp.Config
}

// Validate checks custom field keys, attachment names and the TOTP config.
func (d EntryDraft) Validate() error {
	seen := make(map[string]struct{}, len(d.CustomFields))
	for _, f := range d.CustomFields {
		if f.Key == "" {
			return fmt.Errorf("%w: custom field key cannot be empty", ErrInvalidDraft)
		}
		if IsReservedField(f.Key) {
			return fmt.Errorf("%w: custom field key %q is reserved", ErrInvalidDraft, f.Key)
		}
		if _, dup := seen[f.Key]; dup {
			return fmt.Errorf("%w: duplicate custom field key %q", ErrInvalidDraft, f.Key)
		}
		if f.Value == nil {
			return fmt.Errorf("%w: custom field %q has no value", ErrInvalidDraft, f.Key)
		}
		seen[f.Key] = struct{}{}
	}

	names := make(map[string]struct{}, len(d.Attachments))
	for _, a := range d.Attachments {
		if a.Name == "" {
			return fmt.Errorf("%w: attachment name cannot be empty", ErrInvalidDraft)
		}
		if _, dup := names[a.Name]; dup {
			return fmt.Errorf("%w: duplicate attachment %q", ErrInvalidDraft, a.Name)
		}
		names[a.Name] = struct{}{}
	}

	if d.TOTP != nil {
		if err := d.TOTP.Normalize().Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDraft, err)
		}
	}
	return nil
}

// HistoryRecord remembers a recently opened vault. It never holds secrets:
// KeyFile is a path reference only.
type HistoryRecord struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	LastOpenedAt time.Time `json:"last_opened_at"`
	KeyFile      string    `json:"key_file,omitempty"`
	HardwareKey  bool      `json:"hardware_key,omitempty"`
}
