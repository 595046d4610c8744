package userstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	byID    map[string]*User
	byEmail map[string]string
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (m *Memory) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := *m.byID[id]
	return &u, nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (m *Memory) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u.Email = NormalizeEmail(u.Email)
	if _, ok := m.byEmail[u.Email]; ok {
		return ErrConflict
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := m.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	stored := *u
	m.byID[u.ID] = &stored
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *Memory) Update(_ context.Context, id string, p Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	p.apply(u)
	u.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) SetSessionID(_ context.Context, id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.CurrentSessionID = sessionID
	u.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) CompareAndSwapSessionID(_ context.Context, id, expected, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if u.CurrentSessionID != expected {
		return false, nil
	}
	u.CurrentSessionID = next
	u.UpdatedAt = m.now().UTC()
	return true, nil
}
