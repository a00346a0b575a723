package entries

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/totp"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestRepo() (*Repository, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	return New(WithClock(clock.Now)), clock
}

func TestCreateAndFind(t *testing.T) {
	repo, clock := newTestRepo()

	e, err := repo.Create(domain.EntryDraft{
		Title:    "Test",
		Username: "alice",
		Password: protect.FromString("p@ss"),
		CustomFields: []domain.CustomField{
			{Key: "pin", Value: domain.Protected("1234")},
			{Key: "team", Value: domain.PlainValue("blue")},
		},
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.NotEqual(t, uuid.Nil, e.NativeID)
	assert.NotEqual(t, e.ID, e.NativeID, "container identity is drawn separately")
	assert.Equal(t, clock.t, e.CreatedAt)
	assert.Equal(t, clock.t, e.UpdatedAt)

	found, ok := repo.Find(e.ID)
	require.True(t, ok)
	assert.Equal(t, "Test", found.Title)
	assert.Equal(t, "p@ss", found.Password.RevealText())
	require.Len(t, found.CustomFields, 2)
	assert.Equal(t, "pin", found.CustomFields[0].Key)
	assert.True(t, found.CustomFields[0].Value.IsProtected())
	assert.Equal(t, "team", found.CustomFields[1].Key)
	assert.Equal(t, 1, repo.Len())
}

func TestCreateRejectsInvalidDraft(t *testing.T) {
	repo, _ := newTestRepo()

	_, err := repo.Create(domain.EntryDraft{
		CustomFields: []domain.CustomField{{Key: "Title", Value: domain.PlainValue("x")}},
	})
	assert.ErrorIs(t, err, ErrInvalidDraft)
	assert.Equal(t, 0, repo.Len())
}

func TestUpdateReplacesWholesale(t *testing.T) {
	repo, clock := newTestRepo()

	e, err := repo.Create(domain.EntryDraft{
		Title:        "Old",
		CustomFields: []domain.CustomField{{Key: "a", Value: domain.PlainValue("1")}},
		Attachments:  []domain.Attachment{{Name: "a.txt", Data: []byte("a")}},
		TOTP:         &totp.Config{Secret: "JBSWY3DPEHPK3PXP"},
	})
	require.NoError(t, err)

	created := clock.t
	clock.t = clock.t.Add(time.Hour)

	updated, err := repo.Update(e.ID, domain.EntryDraft{
		Title:        "New",
		CustomFields: []domain.CustomField{{Key: "b", Value: domain.PlainValue("2")}},
	})
	require.NoError(t, err)

	assert.Equal(t, e.ID, updated.ID)
	assert.Equal(t, "New", updated.Title)
	assert.Equal(t, created, updated.CreatedAt)
	assert.Equal(t, clock.t, updated.UpdatedAt)
	assert.Equal(t, []domain.CustomField{{Key: "b", Value: domain.PlainValue("2")}}, updated.CustomFields)
	assert.Empty(t, updated.Attachments)
	assert.Nil(t, updated.TOTP)
}

func TestUpdateNormalizesTOTP(t *testing.T) {
	repo, _ := newTestRepo()
	e, err := repo.Create(domain.EntryDraft{TOTP: &totp.Config{Secret: "jbswy3dpehpk3pxp"}})
	require.NoError(t, err)

	require.NotNil(t, e.TOTP)
	assert.Equal(t, totp.Config{Secret: "JBSWY3DPEHPK3PXP", Algorithm: totp.SHA1, Digits: 6, Period: 30}, *e.TOTP)
}

func TestNotFound(t *testing.T) {
	repo, _ := newTestRepo()
	e, err := repo.Create(domain.EntryDraft{Title: "keep"})
	require.NoError(t, err)

	missing := uuid.New()

	_, err = repo.Update(missing, domain.EntryDraft{Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.Delete(missing)
	assert.ErrorIs(t, err, ErrNotFound)

	_, ok := repo.Find(missing)
	assert.False(t, ok)

	list := repo.List()
	require.Len(t, list, 1)
	assert.Equal(t, e.ID, list[0].ID)
}

func TestDeleteKeepsOrder(t *testing.T) {
	repo, _ := newTestRepo()
	var ids []uuid.UUID
	for _, title := range []string{"a", "b", "c", "d"} {
		e, err := repo.Create(domain.EntryDraft{Title: title})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	require.NoError(t, repo.Delete(ids[1]))
	assert.ErrorIs(t, repo.Delete(ids[1]), ErrNotFound)

	var titles []string
	for _, e := range repo.List() {
		titles = append(titles, e.Title)
	}
	assert.Equal(t, []string{"a", "c", "d"}, titles)

	// index must follow the shift
	found, ok := repo.Find(ids[3])
	require.True(t, ok)
	assert.Equal(t, "d", found.Title)
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	repo, _ := newTestRepo()
	e, err := repo.Create(domain.EntryDraft{
		Title:       "Test",
		Attachments: []domain.Attachment{{Name: "f", Data: []byte{1, 2}}},
	})
	require.NoError(t, err)

	e.Title = "mutated"
	e.Attachments[0].Data[0] = 9

	found, _ := repo.Find(e.ID)
	assert.Equal(t, "Test", found.Title)
	assert.Equal(t, []byte{1, 2}, found.Attachments[0].Data)
}

func TestDraftIsCopiedOnCreate(t *testing.T) {
	repo, _ := newTestRepo()
	data := []byte{1, 2, 3}
	e, err := repo.Create(domain.EntryDraft{Attachments: []domain.Attachment{{Name: "f", Data: data}}})
	require.NoError(t, err)

	data[0] = 9
	found, _ := repo.Find(e.ID)
	assert.Equal(t, []byte{1, 2, 3}, found.Attachments[0].Data)
}

func TestLoad(t *testing.T) {
	repo, _ := newTestRepo()
	a := domain.Entry{ID: uuid.New(), Title: "a"}
	b := domain.Entry{ID: uuid.New(), Title: "b"}

	require.NoError(t, repo.Load([]domain.Entry{a, b}))
	assert.Equal(t, 2, repo.Len())

	err := repo.Load([]domain.Entry{a, a})
	assert.Error(t, err)
	assert.Equal(t, 2, repo.Len(), "failed load must not change contents")

	repo.Clear()
	assert.Equal(t, 0, repo.Len())
	_, ok := repo.Find(a.ID)
	assert.False(t, ok)
}

func TestSearch(t *testing.T) {
	repo, _ := newTestRepo()
	drafts := []domain.EntryDraft{
		{Title: "GitHub", Username: "alice", URL: "https://github.com"},
		{Title: "GitLab", Username: "bob", URL: "https://gitlab.com"},
		{Title: "Bank", Username: "alice", CustomFields: []domain.CustomField{
			{Key: "branch", Value: domain.PlainValue("Downtown")},
			{Key: "pin", Value: domain.Protected("secretvalue")},
		}},
	}
	for _, d := range drafts {
		_, err := repo.Create(d)
		require.NoError(t, err)
	}

	titles := func(list []domain.Entry) []string {
		var out []string
		for _, e := range list {
			out = append(out, e.Title)
		}
		return out
	}

	assert.Equal(t, []string{"GitHub", "GitLab", "Bank"}, titles(repo.Search("")))
	assert.Equal(t, []string{"GitHub", "GitLab"}, titles(repo.Search("git")))
	assert.Equal(t, []string{"GitHub"}, titles(repo.Search("git+alice")))
	assert.Equal(t, []string{"Bank"}, titles(repo.Search("downtown")))
	assert.Empty(t, repo.Search("secretvalue"), "protected values are not searchable")
}

func TestParseSearchTokens(t *testing.T) {
	assert.Nil(t, ParseSearchTokens("   "))
	assert.Nil(t, ParseSearchTokens("+ +"))
	assert.Equal(t, []string{"foo", "bar", "baz"}, ParseSearchTokens(" Foo+BAR  baz "))
}
