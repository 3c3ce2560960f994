// Package promotion converts the seed exchange of an active conversation
// into a durable session, exactly once per conversation.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"chatkeep/internal/logger"
	"chatkeep/internal/registry"
	"chatkeep/internal/session"
)

// Titler is the external title-derivation service.
type Titler interface {
	DeriveTitle(ctx context.Context, messages []session.Message) (string, error)
}

// Navigator moves the UI to a session's view.
type Navigator interface {
	NavigateToSession(id string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(id string)

func (f NavigatorFunc) NavigateToSession(id string) { f(id) }

// ErrIncompleteSeed is returned when the seed exchange is missing either
// side of the first turn.
var ErrIncompleteSeed = errors.New("promotion: incomplete seed exchange")

// Workflow performs the one-time promotion. The promoted latch is a hard
// invariant: re-running Promote for the same conversation returns the
// already-created session id instead of creating a duplicate. A titler
// failure leaves the latch unset so the conversation stays promotable.
type Workflow struct {
	store    *session.Store
	titler   Titler
	nav      Navigator
	registry *registry.Registry
	log      *slog.Logger

	mu        sync.Mutex
	promoted  bool
	sessionID string
}

// New wires a workflow for one active conversation.
func New(store *session.Store, titler Titler, nav Navigator, reg *registry.Registry) *Workflow {
	return &Workflow{
		store:    store,
		titler:   titler,
		nav:      nav,
		registry: reg,
		log:      logger.With("promotion"),
	}
}

// Promoted reports whether the conversation has already been promoted.
func (w *Workflow) Promoted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.promoted
}

// Reset clears the latch for a fresh conversation.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.promoted = false
	w.sessionID = ""
}

// Promote creates a durable session from the seed exchange. modelLabel is
// the human-readable selection; an unknown label stamps an empty provider
// onto the seed messages (a documented fallback, not an error) and keeps the
// label as the session model.
func (w *Workflow) Promote(ctx context.Context, modelLabel string, seedUser, seedAssistant session.Message) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.promoted {
		w.log.Debug("conversation already promoted", "session_id", w.sessionID)
		return w.sessionID, nil
	}
	if seedUser.Role != session.RoleUser || seedAssistant.Role != session.RoleAssistant ||
		seedUser.Content == "" || seedAssistant.Content == "" {
		return "", ErrIncompleteSeed
	}

	model := modelLabel
	provider := ""
	if m, ok := w.registry.Lookup(modelLabel); ok {
		model = m.ID
		provider = m.Provider
	} else {
		w.log.Warn("model label not in registry, stamping empty provider", "label", modelLabel)
	}
	seedUser.Model = modelLabel
	seedUser.Provider = provider
	seedAssistant.Model = modelLabel
	seedAssistant.Provider = provider

	title, err := w.titler.DeriveTitle(ctx, []session.Message{seedUser, seedAssistant})
	if err != nil {
		// No partial session, no navigation; the conversation stays
		// promotable so the user is not stuck with an unrecoverable stream.
		w.log.Warn("title derivation failed, promotion aborted", "error", err)
		return "", fmt.Errorf("promote: %w", err)
	}

	id, err := w.store.Create(model, title, []session.Message{seedUser, seedAssistant})
	w.promoted = true
	w.sessionID = id
	if err != nil {
		// The session exists in memory; only the snapshot write failed.
		// The latch still closes so a retry cannot create a duplicate.
		w.log.Warn("session created but snapshot write failed", "session_id", id, "error", err)
	}
	w.nav.NavigateToSession(id)
	w.log.Info("conversation promoted", "session_id", id, "title", title)
	if err != nil {
		return id, fmt.Errorf("promote: %w", err)
	}
	return id, nil
}
