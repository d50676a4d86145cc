package repositories

import (
	"context"
	"errors"

	"github.com/hanko-field/checkout/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartSnapshotRepository is the durable key-value store holding the last cart snapshot
// returned by the commerce backend.
type CartSnapshotRepository interface {
	SaveSnapshot(ctx context.Context, key string, snapshot domain.CartSnapshot) error
	LoadSnapshot(ctx context.Context, key string) (domain.CartSnapshot, error)
	DeleteSnapshot(ctx context.Context, key string) error
}

// IsNotFound reports whether err is a repository error for a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsUnavailable reports whether err is a repository error for a transient outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
