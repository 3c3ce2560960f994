// Package session owns the durable list of chat sessions. Every mutation
// writes a full snapshot of the store to its namespace slot in the backend,
// so a reload between mutations never observes a half-applied state.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatkeep/internal/storage"
)

// SnapshotKey is the store's namespace in the persistence backend. Other
// persisted stores must use their own key.
const SnapshotKey = "chat.sessions.v1"

const snapshotVersion = 1

// DefaultTitle labels sessions created before a real title is derived.
const DefaultTitle = "New Chat"

// ErrSessionNotFound signals a mutation or lookup against an absent id.
// Delete is the one deliberate exception: deleting an absent id is a no-op.
var ErrSessionNotFound = errors.New("session not found")

type snapshot struct {
	Version  int       `json:"version"`
	Sessions []Session `json:"sessions"`
}

// Store holds all durable sessions in insertion order.
//
// Mutations take the lock for both the in-memory change and the snapshot
// write, so writes for the same session apply in the order callers issued
// them. On a failed snapshot write the in-memory state stands and the error
// is returned; the previous durable snapshot is left intact.
type Store struct {
	mu      sync.Mutex
	backend storage.Backend
	now     func() time.Time

	sessions []Session
}

// NewStore rehydrates a store from the backend's snapshot slot, starting
// empty when no snapshot exists yet.
func NewStore(backend storage.Backend) (*Store, error) {
	s := &Store{backend: backend, now: time.Now}

	raw, err := backend.Load(SnapshotKey)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rehydrate session store: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("session snapshot version %d not supported", snap.Version)
	}
	s.sessions = snap.Sessions
	return s, nil
}

// Create allocates a fresh session and returns its id. An empty title gets
// DefaultTitle. The returned id is valid even when the snapshot write fails;
// the error reports the failed write.
func (s *Store) Create(model, title string, messages []Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if title == "" {
		title = DefaultTitle
	}
	now := s.now()
	sess := Session{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     model,
		Messages:  s.fillMessages(messages, now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions = append(s.sessions, sess)
	return sess.ID, s.persist()
}

// Update replaces the session's message list, and its model when model is
// non-empty, refreshing UpdatedAt.
func (s *Store) Update(id string, messages []Message, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return ErrSessionNotFound
	}
	now := s.now()
	s.sessions[i].Messages = s.fillMessages(messages, now)
	if model != "" {
		s.sessions[i].Model = model
	}
	s.sessions[i].UpdatedAt = now
	return s.persist()
}

// Delete removes the session. Deleting an absent id is a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return nil
	}
	s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	return s.persist()
}

// Get returns a copy of the session, or false when the id is absent.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return Session{}, false
	}
	return copySession(s.sessions[i]), true
}

// List returns copies of all sessions in insertion order.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = copySession(sess)
	}
	return out
}

// AddMessage appends one message to the session, refreshing UpdatedAt.
func (s *Store) AddMessage(id string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return ErrSessionNotFound
	}
	now := s.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	s.sessions[i].Messages = append(s.sessions[i].Messages, msg)
	s.sessions[i].UpdatedAt = now
	return s.persist()
}

// UpdateTitle renames the session, refreshing UpdatedAt.
func (s *Store) UpdateTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return ErrSessionNotFound
	}
	s.sessions[i].Title = title
	s.sessions[i].UpdatedAt = s.now()
	return s.persist()
}

// ClearAll empties the store.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = nil
	return s.persist()
}

// persist writes the whole store as one snapshot. Callers hold the lock.
func (s *Store) persist() error {
	raw, err := json.Marshal(snapshot{Version: snapshotVersion, Sessions: s.sessions})
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}
	if err := s.backend.Save(SnapshotKey, raw); err != nil {
		return fmt.Errorf("persist session snapshot: %w", err)
	}
	return nil
}

func (s *Store) index(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// fillMessages copies the incoming slice, assigning ids and timestamps to
// messages that lack them. Order is preserved as given.
func (s *Store) fillMessages(messages []Message, now time.Time) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
		if out[i].CreatedAt.IsZero() {
			out[i].CreatedAt = now
		}
	}
	return out
}

func copySession(sess Session) Session {
	msgs := make([]Message, len(sess.Messages))
	copy(msgs, sess.Messages)
	sess.Messages = msgs
	return sess
}
