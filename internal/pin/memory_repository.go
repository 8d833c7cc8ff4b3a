package pin

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	pins   map[int64]Pin
}

// NewMemoryRepository builds an in-memory pin store for tests and development.
func NewMemoryRepository() Repository {
	return &memoryRepository{pins: make(map[int64]Pin)}
}

func (r *memoryRepository) Create(_ context.Context, p Pin) (Pin, error) {
	if p.DeleteTokenDigest == "" {
		return Pin{}, errors.New("delete token digest is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	r.pins[p.ID] = p
	return p, nil
}

func (r *memoryRepository) FindByID(_ context.Context, id int64) (Pin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pins[id]
	if !ok {
		return Pin{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepository) Delete(_ context.Context, id int64, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pins[id]
	if !ok || p.DeleteTokenDigest != digest {
		return ErrNotFound
	}
	delete(r.pins, id)
	return nil
}

func (r *memoryRepository) ListRecent(_ context.Context, limit int) ([]Pin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pins := make([]Pin, 0, len(r.pins))
	for _, p := range r.pins {
		pins = append(pins, p)
	}
	sort.Slice(pins, func(i, j int) bool {
		if pins[i].CreatedAt.Equal(pins[j].CreatedAt) {
			return pins[i].ID > pins[j].ID
		}
		return pins[i].CreatedAt.After(pins[j].CreatedAt)
	})
	if limit > 0 && len(pins) > limit {
		pins = pins[:limit]
	}
	return pins, nil
}
