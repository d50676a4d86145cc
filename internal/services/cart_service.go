package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// DefaultCartSnapshotKey is the base key cart snapshots are persisted under unless configured.
const DefaultCartSnapshotKey = "woo-next-cart"

// CartSnapshotKey scopes the snapshot key to one checkout session.
func CartSnapshotKey(base, sessionID string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultCartSnapshotKey
	}
	return base + ":" + sessionID
}

var (
	errCartSourceRequired    = errors.New("cart service: cart source is required")
	errCartSnapshotsRequired = errors.New("cart service: snapshot repository is required")
)

// CartServiceDeps wires the backend and snapshot store for cart operations.
type CartServiceDeps struct {
	Source      CartSource
	Snapshots   repositories.CartSnapshotRepository
	SnapshotKey string
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
}

type cartService struct {
	source    CartSource
	snapshots repositories.CartSnapshotRepository
	key       string
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)

	mu       sync.RWMutex
	current  domain.CartSnapshot
	hasCart  bool
	fetchSeq uint64
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Source == nil {
		return nil, errCartSourceRequired
	}
	if deps.Snapshots == nil {
		return nil, errCartSnapshotsRequired
	}
	key := strings.TrimSpace(deps.SnapshotKey)
	if key == "" {
		key = DefaultCartSnapshotKey
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		source:    deps.Source,
		snapshots: deps.Snapshots,
		key:       key,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *cartService) Snapshot() (domain.CartSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasCart {
		return domain.CartSnapshot{}, false
	}
	return s.current.Clone(), true
}

func (s *cartService) FetchCart(ctx context.Context) (domain.CartSnapshot, error) {
	return s.fetch(ctx, "cart.fetch")
}

func (s *cartService) RefreshCart(ctx context.Context) (domain.CartSnapshot, error) {
	return s.fetch(ctx, "cart.refresh")
}

// fetch loads the cart and installs it as current. A fetch that finishes after its context is
// done, or after a newer fetch started, leaves the current snapshot untouched.
func (s *cartService) fetch(ctx context.Context, event string) (domain.CartSnapshot, error) {
	s.mu.Lock()
	s.fetchSeq++
	seq := s.fetchSeq
	s.mu.Unlock()

	cart, err := s.source.GetCart(ctx)
	if err != nil {
		s.logger(ctx, event+".failed", map[string]any{"error": err.Error()})
		return domain.CartSnapshot{}, fmt.Errorf("cart service: fetch cart: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.CartSnapshot{}, err
	}
	if cart.FetchedAt.IsZero() {
		cart.FetchedAt = s.now()
	}

	s.mu.Lock()
	if seq < s.fetchSeq {
		s.mu.Unlock()
		return cart.Clone(), nil
	}
	s.current = cart.Clone()
	s.hasCart = true
	s.mu.Unlock()

	if err := s.snapshots.SaveSnapshot(ctx, s.key, cart); err != nil {
		s.logger(ctx, "cart.snapshot.save_failed", map[string]any{
			"key":   s.key,
			"error": err.Error(),
		})
	}
	s.logger(ctx, event, map[string]any{
		"cartId":    cart.ID,
		"itemCount": cart.ItemCount(),
	})
	return cart.Clone(), nil
}

func (s *cartService) Discard(ctx context.Context) error {
	s.mu.Lock()
	s.fetchSeq++
	s.current = domain.CartSnapshot{}
	s.hasCart = false
	s.mu.Unlock()

	if err := s.snapshots.DeleteSnapshot(ctx, s.key); err != nil {
		return fmt.Errorf("cart service: delete snapshot: %w", err)
	}
	return nil
}
