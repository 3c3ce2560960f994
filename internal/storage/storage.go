// Package storage provides the durable key-value slots backing the session
// store. Each store owns a distinct namespace key and writes its full
// serialized state on every mutation; a write either replaces the previous
// snapshot entirely or leaves it untouched.
package storage

import "errors"

// ErrNotFound is returned by Load when no snapshot exists for the key.
var ErrNotFound = errors.New("storage: key not found")

// Backend is a durable key-value slot: one opaque snapshot per namespace key.
type Backend interface {
	// Load returns the last snapshot saved under key, or ErrNotFound.
	Load(key string) ([]byte, error)
	// Save atomically replaces the snapshot under key.
	Save(key string, value []byte) error
}

// Memory is an in-process Backend for tests and ephemeral runs.
type Memory struct {
	slots map[string][]byte
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string][]byte)}
}

func (m *Memory) Load(key string) ([]byte, error) {
	v, ok := m.slots[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Save(key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.slots[key] = v
	return nil
}
