package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
	"github.com/hanko-field/checkout/internal/repositories/memory"
)

type stubCountryCatalog struct {
	countries []domain.Country
}

func (c stubCountryCatalog) Countries(context.Context) ([]domain.Country, error) {
	return c.countries, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type registryFixture struct {
	registry  *SessionRegistry
	regions   *stubRegionSource
	checkout  *stubCheckoutService
	source    *stubCartSource
	snapshots *memory.CartSnapshotRepository
	clock     *testClock
}

func newRegistryFixture(t *testing.T, carts ...domain.CartSnapshot) *registryFixture {
	t.Helper()
	if len(carts) == 0 {
		carts = []domain.CartSnapshot{testCart(testCartItem), testCart()}
	}
	f := &registryFixture{
		regions:   newStubRegionSource(),
		checkout:  &stubCheckoutService{},
		source:    &stubCartSource{carts: carts},
		snapshots: memory.NewCartSnapshotRepository(),
		clock:     &testClock{now: testFixedNow},
	}

	registry, err := NewSessionRegistry(SessionRegistryDeps{
		CartSource: f.source,
		Snapshots:  f.snapshots,
		Checkout:   f.checkout,
		Regions:    f.regions,
		Countries:  stubCountryCatalog{countries: []domain.Country{{Code: "IN", Name: "India"}}},
		Clock:      f.clock.Now,
		IdleTTL:    10 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(registry.CloseAll)
	f.registry = registry
	return f
}

func TestNewSessionRegistryRequiresDeps(t *testing.T) {
	_, err := NewSessionRegistry(SessionRegistryDeps{})
	require.Error(t, err)
}

func TestSessionRegistryCreateSeedsSession(t *testing.T) {
	f := newRegistryFixture(t)
	initial := domain.CheckoutInput{Shipping: indiaAddress()}
	initial.Shipping.Errors = map[string]string{domain.FieldCity: "stale"}

	session, err := f.registry.Create(context.Background(), initial)
	require.NoError(t, err)
	session.Regions().Wait()

	view := session.View()
	require.Equal(t, session.ID(), view.ID)
	require.Nil(t, view.Input.Shipping.Errors)
	require.True(t, view.ShippingRegions.Set.Contains("MH"))
	require.False(t, view.ShippingRegions.Fetching)
	require.Zero(t, view.BillingRegions.Seq)
	require.Equal(t, domain.SubmissionIdle, view.Status)
	require.Nil(t, view.Attempt)
	require.NotNil(t, view.Cart)
	require.Equal(t, 2, view.Cart.ItemCount())
	require.Equal(t, 1, f.registry.Len())
}

func TestSessionSubmitRefreshesSessionCart(t *testing.T) {
	f := newRegistryFixture(t)
	session, err := f.registry.Create(context.Background(), domain.CheckoutInput{Shipping: indiaAddress()})
	require.NoError(t, err)

	attempt, err := session.Orchestrator().Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.SubmissionSucceeded, attempt.Status)

	view := session.View()
	require.NotNil(t, view.Attempt)
	require.Equal(t, "ord_1", view.Attempt.Confirmation.OrderID)
	require.True(t, view.Cart.Empty())
	require.Equal(t, 2, f.source.callCount())

	stored, err := f.snapshots.LoadSnapshot(context.Background(), CartSnapshotKey(DefaultCartSnapshotKey, session.ID()))
	require.NoError(t, err)
	require.True(t, stored.Empty())
}

func TestSessionCartsAreIsolated(t *testing.T) {
	f := newRegistryFixture(t, testCart(testCartItem), testCart(testCartItem), testCart())
	first, err := f.registry.Create(context.Background(), domain.CheckoutInput{Shipping: indiaAddress()})
	require.NoError(t, err)
	second, err := f.registry.Create(context.Background(), domain.CheckoutInput{Shipping: indiaAddress()})
	require.NoError(t, err)
	require.NotSame(t, first.Cart(), second.Cart())

	_, err = first.Orchestrator().Submit(context.Background())
	require.NoError(t, err)
	require.True(t, first.View().Cart.Empty())

	secondView := second.View()
	require.NotNil(t, secondView.Cart)
	require.Equal(t, 2, secondView.Cart.ItemCount())
	stored, err := f.snapshots.LoadSnapshot(context.Background(), CartSnapshotKey(DefaultCartSnapshotKey, second.ID()))
	require.NoError(t, err)
	require.Equal(t, 2, stored.ItemCount())

	attempt, err := second.Orchestrator().Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.SubmissionSucceeded, attempt.Status)
	calls := f.checkout.calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].LineItems, 1)
}

func TestSessionRegistryCloseDiscardsCartSnapshot(t *testing.T) {
	f := newRegistryFixture(t)
	session, err := f.registry.Create(context.Background(), domain.CheckoutInput{})
	require.NoError(t, err)
	key := CartSnapshotKey(DefaultCartSnapshotKey, session.ID())

	_, err = f.snapshots.LoadSnapshot(context.Background(), key)
	require.NoError(t, err)

	require.NoError(t, f.registry.Close(context.Background(), session.ID()))

	_, err = f.snapshots.LoadSnapshot(context.Background(), key)
	require.True(t, repositories.IsNotFound(err))
	_, ok := session.Cart().Snapshot()
	require.False(t, ok)
}

func TestSessionRegistryGetAndClose(t *testing.T) {
	f := newRegistryFixture(t)
	session, err := f.registry.Create(context.Background(), domain.CheckoutInput{})
	require.NoError(t, err)

	got, err := f.registry.Get(session.ID())
	require.NoError(t, err)
	require.Same(t, session, got)

	_, err = f.registry.Get("missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, f.registry.Close(context.Background(), session.ID()))
	require.ErrorIs(t, f.registry.Close(context.Background(), session.ID()), ErrSessionNotFound)
	_, err = f.registry.Get(session.ID())
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = session.Orchestrator().Submit(context.Background())
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = session.Regions().Resolve(context.Background(), domain.SlotBilling, "IN", nil)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionRegistrySweepsIdleSessions(t *testing.T) {
	f := newRegistryFixture(t)
	stale, err := f.registry.Create(context.Background(), domain.CheckoutInput{})
	require.NoError(t, err)

	f.clock.Advance(8 * time.Minute)
	fresh, err := f.registry.Create(context.Background(), domain.CheckoutInput{})
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	closed := f.registry.Sweep(context.Background(), f.clock.Now())

	require.Equal(t, 1, closed)
	_, err = f.registry.Get(stale.ID())
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.registry.Get(fresh.ID())
	require.NoError(t, err)
}

func TestSessionRegistryCountries(t *testing.T) {
	f := newRegistryFixture(t)

	countries, err := f.registry.Countries(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.Country{{Code: "IN", Name: "India"}}, countries)
}
