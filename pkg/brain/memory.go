// Copyright 2024-2026 Aiku AI

package brain

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

// ErrMissingID is returned when upserting a user without an id.
var ErrMissingID = errors.New("brain: user id is required")

// MemoryStore keeps users in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[id].clone(), nil
}

func (m *MemoryStore) Upsert(_ context.Context, update *User) (*User, error) {
	if update == nil || update.ID == "" {
		return nil, ErrMissingID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := merge(m.users[update.ID], update)
	m.users[update.ID] = merged
	return merged.clone(), nil
}

func (m *MemoryStore) All(_ context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u.clone())
	}
	sortUsers(out)
	return out, nil
}

func sortUsers(users []*User) {
	slices.SortFunc(users, func(a, b *User) int {
		return strings.Compare(a.ID, b.ID)
	})
}
