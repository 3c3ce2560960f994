package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatkeep/internal/storage"
)

// tick installs a deterministic clock that advances one second per call.
func tick(s *Store) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	s.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(storage.NewMemory())
	require.NoError(t, err)
	tick(s)
	return s
}

func TestCreateIDsAreDistinct(t *testing.T) {
	s := newTestStore(t)

	seen := make(map[string]bool)
	for range 50 {
		id, err := s.Create("gpt-4o-mini", "", nil)
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate session id %s", id)
		seen[id] = true
	}
	require.Len(t, s.List(), 50)
}

func TestCreateDefaultsTitle(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Create("gpt-4o-mini", "", nil)
	require.NoError(t, err)

	sess, ok := s.Get(id)
	require.True(t, ok)
	require.Equal(t, DefaultTitle, sess.Title)
	require.Equal(t, "gpt-4o-mini", sess.Model)
	require.Equal(t, sess.CreatedAt, sess.UpdatedAt)
}

func TestUpdateReplacesMessages(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Create("gpt-4o-mini", "t", []Message{{Role: RoleUser, Content: "Hello"}})
	require.NoError(t, err)
	before, _ := s.Get(id)

	next := []Message{
		{ID: "m1", Role: RoleUser, Content: "Hello", CreatedAt: time.Now()},
		{ID: "m2", Role: RoleAssistant, Content: "Hi there", CreatedAt: time.Now()},
	}
	require.NoError(t, s.Update(id, next, ""))

	after, ok := s.Get(id)
	require.True(t, ok)
	require.Equal(t, next, after.Messages)
	require.Equal(t, "gpt-4o-mini", after.Model, "empty model keeps the old one")
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))
	require.Equal(t, before.CreatedAt, after.CreatedAt, "CreatedAt is immutable")

	require.NoError(t, s.Update(id, next, "claude-3-5-haiku"))
	after, _ = s.Get(id)
	require.Equal(t, "claude-3-5-haiku", after.Model)
}

func TestUpdateAbsentID(t *testing.T) {
	s := newTestStore(t)
	err := s.Update("nope", []Message{{Role: RoleUser, Content: "x"}}, "")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Create("gpt-4o-mini", "", nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))
	require.Empty(t, s.List())
	require.NoError(t, s.Delete(id), "second delete is a no-op")
	require.Empty(t, s.List())
	_, ok := s.Get(id)
	require.False(t, ok)
}

func TestAddMessageAppends(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Create("gpt-4o-mini", "t", []Message{
		{ID: "m1", Role: RoleUser, Content: "Hello"},
		{ID: "m2", Role: RoleAssistant, Content: "Hi there"},
	})
	require.NoError(t, err)
	before, _ := s.Get(id)

	msg := Message{ID: "m3", Role: RoleUser, Content: "And another thing", CreatedAt: time.Now()}
	require.NoError(t, s.AddMessage(id, msg))

	after, _ := s.Get(id)
	require.Len(t, after.Messages, 3)
	require.Equal(t, msg, after.Messages[2])
	require.Equal(t, before.Messages, after.Messages[:2], "prior messages unaltered")
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))

	require.ErrorIs(t, s.AddMessage("nope", msg), ErrSessionNotFound)
}

func TestUpdateTitle(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Create("gpt-4o-mini", "", nil)
	require.NoError(t, err)
	before, _ := s.Get(id)

	require.NoError(t, s.UpdateTitle(id, "Greeting"))
	after, _ := s.Get(id)
	require.Equal(t, "Greeting", after.Title)
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))

	require.ErrorIs(t, s.UpdateTitle("nope", "x"), ErrSessionNotFound)
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("gpt-4o-mini", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.ClearAll())
	require.Empty(t, s.List())
}

func TestListKeepsInsertionOrder(t *testing.T) {
	s := newTestStore(t)

	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		id, err := s.Create("gpt-4o-mini", title, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all := s.List()
	require.Len(t, all, 3)
	for i, sess := range all {
		require.Equal(t, ids[i], sess.ID)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	backend := storage.NewMemory()

	s, err := NewStore(backend)
	require.NoError(t, err)
	tick(s)

	id, err := s.Create("gpt-4o-mini", "Greeting", []Message{
		{Role: RoleUser, Content: "Hello"},
		{Role: RoleAssistant, Content: "Hi there"},
	})
	require.NoError(t, err)
	require.NoError(t, s.UpdateTitle(id, "Greeting!"))

	// A fresh store over the same backend sees the identical state.
	reloaded, err := NewStore(backend)
	require.NoError(t, err)
	require.Equal(t, s.List(), reloaded.List())
}

type failingBackend struct {
	storage.Backend
	fail bool
}

func (f *failingBackend) Save(key string, value []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Backend.Save(key, value)
}

func TestPersistFailureKeepsPreviousSnapshot(t *testing.T) {
	backend := &failingBackend{Backend: storage.NewMemory()}

	s, err := NewStore(backend)
	require.NoError(t, err)
	tick(s)

	id, err := s.Create("gpt-4o-mini", "kept", nil)
	require.NoError(t, err)

	backend.fail = true
	require.Error(t, s.UpdateTitle(id, "lost"))

	// In memory the mutation stands; durably the old snapshot survives.
	sess, _ := s.Get(id)
	require.Equal(t, "lost", sess.Title)

	reloaded, err := NewStore(backend.Backend)
	require.NoError(t, err)
	got, ok := reloaded.Get(id)
	require.True(t, ok)
	require.Equal(t, "kept", got.Title)
}
