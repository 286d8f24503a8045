// Package signature stores cached analysis summaries keyed by image content
// hash, and defines how a new observation merges into an existing entry.
package signature

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dyluth/glint/pkg/blackboard"
)

// ErrNotFound is returned by Get when no signature exists for the key.
var ErrNotFound = errors.New("signature not found")

// IsNotFound reports whether err means the signature is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the persistent signature cache. Set replaces the whole entry
// atomically; Get never returns a partially written signature.
type Store interface {
	Get(ctx context.Context, key string) (*blackboard.Signature, error)
	Set(ctx context.Context, sig *blackboard.Signature) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// MemoryStore is a process-local Store. Entries are cloned on the way in
// and out so callers cannot mutate stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*blackboard.Signature
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*blackboard.Signature)}
}

// Get returns a copy of the stored signature.
func (m *MemoryStore) Get(ctx context.Context, key string) (*blackboard.Signature, error) {
	m.mu.RLock()
	sig, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return sig.Clone(), nil
}

// Set validates and stores a copy of sig.
func (m *MemoryStore) Set(ctx context.Context, sig *blackboard.Signature) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	stored := sig.Clone()
	m.mu.Lock()
	m.entries[sig.Key] = stored
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored signatures.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Keys returns the stored keys in sorted order.
func (m *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
