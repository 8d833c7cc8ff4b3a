package identity

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository builds an in-memory user store for tests and development.
// It enforces the same uniqueness rules as the users table.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.ID]; exists {
		return ErrDuplicate
	}
	if r.conflicts(user) {
		return ErrDuplicate
	}
	r.users[user.ID] = user
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *memoryRepository) FindByProviderUID(_ context.Context, provider, uid string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Linked() && user.Provider == provider && user.UID == uid {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *memoryRepository) LinkIdentity(_ context.Context, id, provider, uid string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.Provider, user.UID, user.UpdatedAt = provider, uid, at
	if r.conflicts(user) {
		return ErrDuplicate
	}
	r.users[id] = user
	return nil
}

func (r *memoryRepository) SetShareTokenDigest(_ context.Context, id, digest string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.ShareTokenDigest, user.UpdatedAt = digest, at
	r.users[id] = user
	return nil
}

// conflicts must be called with mu held.
func (r *memoryRepository) conflicts(user User) bool {
	for id, other := range r.users {
		if id == user.ID {
			continue
		}
		if other.Email == user.Email {
			return true
		}
		if user.Linked() && other.Provider == user.Provider && other.UID == user.UID {
			return true
		}
	}
	return false
}
