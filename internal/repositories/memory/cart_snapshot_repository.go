package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hanko-field/checkout/internal/domain"
)

// CartSnapshotRepository keeps cart snapshots in process memory. It backs local development and
// tests; snapshots do not survive a restart.
type CartSnapshotRepository struct {
	mu        sync.RWMutex
	snapshots map[string]domain.CartSnapshot
}

// NewCartSnapshotRepository constructs an empty in-memory snapshot store.
func NewCartSnapshotRepository() *CartSnapshotRepository {
	return &CartSnapshotRepository{snapshots: make(map[string]domain.CartSnapshot)}
}

// SaveSnapshot stores a copy of the snapshot under key, replacing any previous value.
func (r *CartSnapshotRepository) SaveSnapshot(ctx context.Context, key string, snapshot domain.CartSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("memory cart snapshots: key is required")
	}
	r.mu.Lock()
	r.snapshots[key] = snapshot.Clone()
	r.mu.Unlock()
	return nil
}

// LoadSnapshot returns the stored snapshot or a not-found repository error.
func (r *CartSnapshotRepository) LoadSnapshot(ctx context.Context, key string) (domain.CartSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.CartSnapshot{}, err
	}
	r.mu.RLock()
	snapshot, ok := r.snapshots[strings.TrimSpace(key)]
	r.mu.RUnlock()
	if !ok {
		return domain.CartSnapshot{}, &notFoundError{key: key}
	}
	return snapshot.Clone(), nil
}

// DeleteSnapshot removes the snapshot. Deleting a missing key is not an error.
func (r *CartSnapshotRepository) DeleteSnapshot(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.snapshots, strings.TrimSpace(key))
	r.mu.Unlock()
	return nil
}

type notFoundError struct {
	key string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("memory cart snapshots: %q not found", e.key)
}

func (e *notFoundError) IsNotFound() bool    { return true }
func (e *notFoundError) IsConflict() bool    { return false }
func (e *notFoundError) IsUnavailable() bool { return false }
