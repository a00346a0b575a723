package container

import (
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/totp"
)

const innerKeySize = 32

// Entry tree as stored inside the encrypted payload.
type treeDocument struct {
	Name      string      `json:"name"`
	Generator string      `json:"generator"`
	CreatedAt time.Time   `json:"created_at"`
	InnerKey  []byte      `json:"inner_key"`
	Entries   []treeEntry `json:"entries"`
}

type treeEntry struct {
	UUID     []byte       `json:"uuid"`
	Fields   []treeField  `json:"fields"`
	Binaries []treeBinary `json:"binaries,omitempty"`
	Times    treeTimes    `json:"times"`
}

// treeField holds text for plain fields and base64 of the inner-stream
// ciphertext for protected ones.
type treeField struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected,omitempty"`
	Value     string `json:"value"`
}

type treeBinary struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data"`
}

type treeTimes struct {
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// innerStream masks protected field values. It is keyed from the document's
// inner key and consumed in document order, so encoder and decoder must
// visit protected fields in the same sequence.
type innerStream struct {
	c *chacha20.Cipher
}

func newInnerStream(innerKey []byte) (*innerStream, error) {
	if len(innerKey) != innerKeySize {
		return nil, fmt.Errorf("%w: inner key length %d", ErrInvalidFormat, len(innerKey))
	}
	sum := sha512.Sum512(innerKey)
	defer memguard.WipeBytes(sum[:])

	c, err := chacha20.NewUnauthenticatedCipher(sum[:chacha20.KeySize], sum[chacha20.KeySize:chacha20.KeySize+chacha20.NonceSize])
	if err != nil {
		return nil, fmt.Errorf("failed to create inner stream: %w", err)
	}
	return &innerStream{c: c}, nil
}

func (s *innerStream) mask(v *protect.Value) string {
	var out []byte
	_ = v.Use(func(plain []byte) error {
		out = make([]byte, len(plain))
		s.c.XORKeyStream(out, plain)
		return nil
	})
	return base64.StdEncoding.EncodeToString(out)
}

func (s *innerStream) unmask(encoded string) (*protect.Value, error) {
	masked, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: protected value: %v", ErrInvalidFormat, err)
	}
	s.c.XORKeyStream(masked, masked)
	return protect.Wrap(masked), nil
}

func encodeTree(doc *Document, innerKey []byte) ([]byte, error) {
	stream, err := newInnerStream(innerKey)
	if err != nil {
		return nil, err
	}

	generator := doc.Generator
	if generator == "" {
		generator = Generator
	}
	tree := treeDocument{
		Name:      doc.Name,
		Generator: generator,
		CreatedAt: doc.CreatedAt.UTC(),
		InnerKey:  innerKey,
		Entries:   make([]treeEntry, 0, len(doc.Entries)),
	}
	for _, e := range doc.Entries {
		node, err := encodeEntry(e, stream)
		if err != nil {
			return nil, err
		}
		tree.Entries = append(tree.Entries, node)
	}

	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry tree: %w", err)
	}
	return data, nil
}

func encodeEntry(e domain.Entry, stream *innerStream) (treeEntry, error) {
	native := e.NativeID
	if native == uuid.Nil {
		native = e.ID
	}

	plain := func(name, value string) treeField {
		return treeField{Name: name, Value: value}
	}
	secret := func(name string, v *protect.Value) treeField {
		return treeField{Name: name, Protected: true, Value: stream.mask(v)}
	}

	fields := []treeField{
		plain(domain.FieldTitle, e.Title),
		plain(domain.FieldUserName, e.Username),
		secret(domain.FieldPassword, e.Password),
		plain(domain.FieldURL, e.URL),
		plain(domain.FieldNotes, e.Notes),
	}
	if e.Icon != "" {
		fields = append(fields, plain(domain.FieldIcon, e.Icon))
	}
	fields = append(fields, plain(domain.FieldEntryID, e.ID.String()))
	if e.TOTP != nil {
		uri, err := totp.URI(*e.TOTP, e.Title, e.Username)
		if err != nil {
			return treeEntry{}, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		fields = append(fields, secret(domain.FieldOTP, protect.FromString(uri)))
	}
	for _, f := range e.CustomFields {
		switch v := f.Value.(type) {
		case domain.ProtectedValue:
			fields = append(fields, secret(f.Key, v.Value))
		case domain.PlainValue:
			fields = append(fields, plain(f.Key, string(v)))
		default:
			return treeEntry{}, fmt.Errorf("entry %s: field %q has no value", e.ID, f.Key)
		}
	}

	node := treeEntry{
		UUID:   native[:],
		Fields: fields,
		Times:  treeTimes{Created: e.CreatedAt.UTC(), Modified: e.UpdatedAt.UTC()},
	}
	for _, a := range e.Attachments {
		node.Binaries = append(node.Binaries, treeBinary{Name: a.Name, MimeType: a.MimeType, Data: a.Data})
	}
	return node, nil
}

func decodeTree(data []byte, logger *slog.Logger) (*Document, error) {
	var tree treeDocument
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("%w: entry tree: %v", ErrInvalidFormat, err)
	}
	defer memguard.WipeBytes(tree.InnerKey)

	stream, err := newInnerStream(tree.InnerKey)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Name:      tree.Name,
		Generator: tree.Generator,
		CreatedAt: tree.CreatedAt,
		Entries:   make([]domain.Entry, 0, len(tree.Entries)),
	}
	appIDs := make([]string, 0, len(tree.Entries))
	for i, node := range tree.Entries {
		e, appID, err := decodeEntry(node, stream, logger)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		doc.Entries = append(doc.Entries, e)
		appIDs = append(appIDs, appID)
	}
	resolveIdentities(doc.Entries, appIDs, logger)
	return doc, nil
}

func decodeEntry(node treeEntry, stream *innerStream, logger *slog.Logger) (domain.Entry, string, error) {
	native, err := uuid.FromBytes(node.UUID)
	if err != nil {
		return domain.Entry{}, "", fmt.Errorf("%w: entry uuid: %v", ErrInvalidFormat, err)
	}

	e := domain.Entry{
		NativeID:  native,
		CreatedAt: node.Times.Created,
		UpdatedAt: node.Times.Modified,
	}
	var appID string
	seen := make(map[string]struct{}, len(node.Fields))

	for _, f := range node.Fields {
		// Every protected field consumes key stream, even if it is dropped.
		var value *protect.Value
		if f.Protected {
			if value, err = stream.unmask(f.Value); err != nil {
				return domain.Entry{}, "", err
			}
		}
		text := func() string {
			if value != nil {
				return value.RevealText()
			}
			return f.Value
		}

		switch f.Name {
		case domain.FieldTitle:
			e.Title = text()
		case domain.FieldUserName:
			e.Username = text()
		case domain.FieldPassword:
			if value == nil {
				value = protect.FromString(f.Value)
			}
			e.Password = value
		case domain.FieldURL:
			e.URL = text()
		case domain.FieldNotes:
			e.Notes = text()
		case domain.FieldIcon:
			e.Icon = text()
		case domain.FieldEntryID:
			appID = text()
		case domain.FieldOTP:
			cfg, _, err := totp.ParseURI(text())
			if err != nil {
				logger.Warn("dropping invalid otp field", slog.String("entry", native.String()), slog.Any("error", err))
				continue
			}
			e.TOTP = &cfg
		default:
			if f.Name == "" {
				continue
			}
			if _, dup := seen[f.Name]; dup {
				logger.Warn("dropping duplicate custom field", slog.String("entry", native.String()), slog.String("field", f.Name))
				continue
			}
			seen[f.Name] = struct{}{}
			if value != nil {
				e.CustomFields = append(e.CustomFields, domain.CustomField{Key: f.Name, Value: domain.ProtectedValue{Value: value}})
			} else {
				e.CustomFields = append(e.CustomFields, domain.CustomField{Key: f.Name, Value: domain.PlainValue(f.Value)})
			}
		}
	}

	names := make(map[string]struct{}, len(node.Binaries))
	for _, b := range node.Binaries {
		if b.Name == "" {
			continue
		}
		if _, dup := names[b.Name]; dup {
			continue
		}
		names[b.Name] = struct{}{}
		e.Attachments = append(e.Attachments, domain.Attachment{Name: b.Name, MimeType: b.MimeType, Data: b.Data})
	}

	return e, appID, nil
}

// resolveIdentities assigns every entry its application id exactly once: the
// EntryId field when it parses and is not taken, else the native uuid when
// not taken, else a fresh uuid.
func resolveIdentities(entries []domain.Entry, appIDs []string, logger *slog.Logger) {
	used := make(map[uuid.UUID]struct{}, len(entries))
	for i := range entries {
		e := &entries[i]
		if id, err := uuid.Parse(appIDs[i]); appIDs[i] != "" && err == nil && id != uuid.Nil {
			if _, taken := used[id]; !taken {
				e.ID = id
				used[id] = struct{}{}
				continue
			}
		}
		if _, taken := used[e.NativeID]; !taken && e.NativeID != uuid.Nil {
			e.ID = e.NativeID
			used[e.ID] = struct{}{}
			continue
		}
		for {
			id := uuid.New()
			if _, taken := used[id]; !taken {
				logger.Warn("assigned new id to entry with conflicting identity", slog.String("native", e.NativeID.String()), slog.String("id", id.String()))
				e.ID = id
				used[id] = struct{}{}
				break
			}
		}
	}
}
