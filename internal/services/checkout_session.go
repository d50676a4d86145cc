package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

const defaultSessionIdleTTL = 30 * time.Minute

// SessionView is the read model a UI shell renders for one checkout session.
type SessionView struct {
	ID              string                    `json:"id"`
	CreatedAt       time.Time                 `json:"createdAt"`
	Input           domain.CheckoutInput      `json:"input"`
	BillingRegions  RegionState               `json:"billingRegions"`
	ShippingRegions RegionState               `json:"shippingRegions"`
	Status          domain.SubmissionStatus   `json:"status"`
	Processing      bool                      `json:"processing"`
	Attempt         *domain.SubmissionAttempt `json:"attempt,omitempty"`
	Cart            *domain.CartSnapshot      `json:"cart,omitempty"`
}

// CheckoutSession bundles the form, cart, region lookups and submission state of one shopper.
type CheckoutSession struct {
	id           string
	createdAt    time.Time
	form         *FormStore
	regions      *RegionService
	orchestrator *CheckoutOrchestrator
	cart         CartService

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

// ID returns the session identifier.
func (s *CheckoutSession) ID() string { return s.id }

// Form returns the session's form store.
func (s *CheckoutSession) Form() *FormStore { return s.form }

// Regions returns the session's region service.
func (s *CheckoutSession) Regions() *RegionService { return s.regions }

// Orchestrator returns the session's submission orchestrator.
func (s *CheckoutSession) Orchestrator() *CheckoutOrchestrator { return s.orchestrator }

// Cart returns the session's cart service.
func (s *CheckoutSession) Cart() CartService { return s.cart }

// View assembles the current read model.
func (s *CheckoutSession) View() SessionView {
	view := SessionView{
		ID:              s.id,
		CreatedAt:       s.createdAt,
		Input:           s.form.Snapshot(),
		BillingRegions:  s.regions.State(domain.SlotBilling),
		ShippingRegions: s.regions.State(domain.SlotShipping),
		Status:          s.orchestrator.Status(),
		Processing:      s.orchestrator.Processing(),
	}
	if attempt, ok := s.orchestrator.Attempt(); ok {
		view.Attempt = &attempt
	}
	if cart, ok := s.cart.Snapshot(); ok {
		view.Cart = &cart
	}
	return view
}

// Close cancels region lookups and any in-flight submission.
func (s *CheckoutSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.orchestrator.Close()
	s.regions.Close()
}

func (s *CheckoutSession) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *CheckoutSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SessionRegistryDeps wires the collaborators shared by every session. Each session gets its own
// cart service over CartSource, persisting under CartSnapshotKey(SnapshotKey, sessionID).
type SessionRegistryDeps struct {
	CartSource          CartSource
	Snapshots           repositories.CartSnapshotRepository
	SnapshotKey         string
	Checkout            CheckoutService
	Regions             RegionSource
	Countries           CountryCatalog
	Events              OrderEventPublisher
	Clock               func() time.Time
	IDGenerator         func() string
	Logger              func(ctx context.Context, event string, fields map[string]any)
	RegionTimeout       time.Duration
	SubmissionTimeout   time.Duration
	IdleTTL             time.Duration
	GenericErrorMessage string
}

// SessionRegistry tracks live checkout sessions by identifier.
type SessionRegistry struct {
	deps   SessionRegistryDeps
	now    func() time.Time
	newID  func() string
	logger func(ctx context.Context, event string, fields map[string]any)
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[string]*CheckoutSession
}

// NewSessionRegistry constructs a registry validating required dependencies.
func NewSessionRegistry(deps SessionRegistryDeps) (*SessionRegistry, error) {
	if deps.CartSource == nil {
		return nil, errors.New("session registry: cart source is required")
	}
	if deps.Snapshots == nil {
		return nil, errors.New("session registry: snapshot repository is required")
	}
	if deps.Checkout == nil {
		return nil, errors.New("session registry: checkout service is required")
	}
	if deps.Regions == nil {
		return nil, errors.New("session registry: region source is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.IdleTTL
	if ttl <= 0 {
		ttl = defaultSessionIdleTTL
	}

	return &SessionRegistry{
		deps: deps,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		logger:   logger,
		ttl:      ttl,
		sessions: make(map[string]*CheckoutSession),
	}, nil
}

// Create starts a session seeded with initial input and loads its cart. A cart failure is
// logged and left to the submission cart check.
func (r *SessionRegistry) Create(ctx context.Context, initial domain.CheckoutInput) (*CheckoutSession, error) {
	id := r.newID()
	cart, err := NewCartService(CartServiceDeps{
		Source:      r.deps.CartSource,
		Snapshots:   r.deps.Snapshots,
		SnapshotKey: CartSnapshotKey(r.deps.SnapshotKey, id),
		Clock:       r.deps.Clock,
		Logger:      r.deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	if _, err := cart.FetchCart(ctx); err != nil {
		r.logger(ctx, "checkout.cart.fetch_failed", map[string]any{
			"sessionId": id,
			"error":     err.Error(),
		})
	}

	regions, err := NewRegionService(RegionServiceDeps{
		Source:  r.deps.Regions,
		Timeout: r.deps.RegionTimeout,
		Logger:  r.deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	seeded := initial.Clone()
	billingCountry, shippingCountry := seeded.Billing.Country, seeded.Shipping.Country
	seeded.Billing.Errors, seeded.Shipping.Errors = nil, nil

	form, err := NewFormStore(FormStoreDeps{Regions: regions, Initial: seeded, Logger: r.deps.Logger})
	if err != nil {
		regions.Close()
		return nil, err
	}
	orchestrator, err := NewCheckoutOrchestrator(CheckoutOrchestratorDeps{
		Form:                form,
		Cart:                cart,
		Checkout:            r.deps.Checkout,
		Events:              r.deps.Events,
		Clock:               r.deps.Clock,
		IDGenerator:         r.deps.IDGenerator,
		Logger:              r.deps.Logger,
		Timeout:             r.deps.SubmissionTimeout,
		GenericErrorMessage: r.deps.GenericErrorMessage,
	})
	if err != nil {
		regions.Close()
		return nil, err
	}

	now := r.now()
	session := &CheckoutSession{
		id:           id,
		createdAt:    now,
		form:         form,
		regions:      regions,
		orchestrator: orchestrator,
		cart:         cart,
		lastSeen:     now,
	}
	if strings.TrimSpace(shippingCountry) != "" {
		form.SetCountry(ctx, domain.SlotShipping, shippingCountry)
	}
	if strings.TrimSpace(billingCountry) != "" {
		form.SetCountry(ctx, domain.SlotBilling, billingCountry)
	}

	r.mu.Lock()
	r.sessions[session.id] = session
	r.mu.Unlock()

	r.logger(ctx, "checkout.session.created", map[string]any{"sessionId": session.id})
	return session, nil
}

// discard tears the session down and drops its persisted cart snapshot.
func (r *SessionRegistry) discard(ctx context.Context, session *CheckoutSession) {
	session.Close()
	if err := session.cart.Discard(ctx); err != nil {
		r.logger(ctx, "checkout.cart.discard_failed", map[string]any{
			"sessionId": session.id,
			"error":     err.Error(),
		})
	}
}

// Get returns the live session and marks it as used.
func (r *SessionRegistry) Get(id string) (*CheckoutSession, error) {
	r.mu.RLock()
	session, ok := r.sessions[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	session.touch(r.now())
	return session, nil
}

// Close tears the session down and forgets it.
func (r *SessionRegistry) Close(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	r.discard(ctx, session)
	r.logger(ctx, "checkout.session.closed", map[string]any{"sessionId": id})
	return nil
}

// CloseAll tears down every session. Used on shutdown.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*CheckoutSession)
	r.mu.Unlock()
	for _, session := range sessions {
		session.Close()
	}
}

// Sweep closes sessions idle for longer than the TTL and returns how many were closed.
// Sessions with a submission in flight are kept.
func (r *SessionRegistry) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-r.ttl)
	var expired []*CheckoutSession

	r.mu.Lock()
	for id, session := range r.sessions {
		if session.idleSince().After(cutoff) || session.orchestrator.Status().InFlight() {
			continue
		}
		expired = append(expired, session)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, session := range expired {
		r.discard(ctx, session)
	}
	if len(expired) > 0 {
		r.logger(ctx, "checkout.session.swept", map[string]any{"count": len(expired)})
	}
	return len(expired)
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Countries lists the countries offered in both address forms.
func (r *SessionRegistry) Countries(ctx context.Context) ([]domain.Country, error) {
	if r.deps.Countries == nil {
		return nil, nil
	}
	return r.deps.Countries.Countries(ctx)
}
