package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanko-field/checkout/internal/domain"
)

type stubRegionSource struct {
	mu           sync.Mutex
	regions      map[string][]domain.Region
	errs         map[string]error
	gates        map[string]chan struct{}
	ignoreCancel bool
	calls        []string
}

func newStubRegionSource() *stubRegionSource {
	return &stubRegionSource{
		regions: map[string][]domain.Region{
			"IN": {{Code: "MH", Name: "Maharashtra"}, {Code: "KA", Name: "Karnataka"}},
			"US": {{Code: "CA", Name: "California"}, {Code: "NY", Name: "New York"}},
			"NZ": nil,
		},
		errs:  map[string]error{},
		gates: map[string]chan struct{}{},
	}
}

func (s *stubRegionSource) gate(country string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[country] = ch
	return ch
}

func (s *stubRegionSource) RegionsForCountry(ctx context.Context, country string) ([]domain.Region, error) {
	s.mu.Lock()
	s.calls = append(s.calls, country)
	gate := s.gates[country]
	regions := s.regions[country]
	err := s.errs[country]
	ignoreCancel := s.ignoreCancel
	s.mu.Unlock()

	if gate != nil {
		if ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return append([]domain.Region(nil), regions...), nil
}

func (s *stubRegionSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestRegionService(t *testing.T, source RegionSource, timeout time.Duration) *RegionService {
	t.Helper()
	svc, err := NewRegionService(RegionServiceDeps{Source: source, Timeout: timeout})
	require.NoError(t, err)
	t.Cleanup(func() {
		svc.Close()
		svc.Wait()
	})
	return svc
}

func collectResults() (func(RegionResult), <-chan RegionResult) {
	ch := make(chan RegionResult, 8)
	return func(result RegionResult) { ch <- result }, ch
}

func TestNewRegionServiceRequiresSource(t *testing.T) {
	_, err := NewRegionService(RegionServiceDeps{})
	require.Error(t, err)
}

func TestRegionServiceResolvesSlot(t *testing.T) {
	svc := newTestRegionService(t, newStubRegionSource(), time.Second)
	onSettled, results := collectResults()

	seq, err := svc.Resolve(context.Background(), domain.SlotShipping, " in ", onSettled)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
	svc.Wait()

	result := <-results
	require.NoError(t, result.Err)
	require.Equal(t, "IN", result.Country)
	require.True(t, result.Set.Contains("MH"))

	state := svc.State(domain.SlotShipping)
	require.False(t, state.Fetching)
	require.Equal(t, "IN", state.Set.Country)
	require.Len(t, state.Set.Regions, 2)
	require.Equal(t, uint64(1), state.Seq)
}

func TestRegionServiceDropsSupersededResult(t *testing.T) {
	source := newStubRegionSource()
	source.ignoreCancel = true
	releaseUS := source.gate("US")
	releaseIN := source.gate("IN")
	svc := newTestRegionService(t, source, time.Second)
	onSettled, results := collectResults()

	first, err := svc.Resolve(context.Background(), domain.SlotShipping, "US", onSettled)
	require.NoError(t, err)
	second, err := svc.Resolve(context.Background(), domain.SlotShipping, "IN", onSettled)
	require.NoError(t, err)
	require.Greater(t, second, first)
	require.True(t, svc.State(domain.SlotShipping).Fetching)

	close(releaseIN)
	result := <-results
	require.Equal(t, second, result.Seq)
	require.True(t, result.Set.Contains("Maharashtra"))

	close(releaseUS)
	svc.Wait()

	require.Empty(t, results)
	state := svc.State(domain.SlotShipping)
	require.Equal(t, "IN", state.Set.Country)
	require.False(t, state.Set.Contains("CA"))
	require.False(t, state.Fetching)
}

func TestRegionServiceSlotsAreIndependent(t *testing.T) {
	source := newStubRegionSource()
	releaseUS := source.gate("US")
	svc := newTestRegionService(t, source, time.Second)
	onSettled, results := collectResults()

	_, err := svc.Resolve(context.Background(), domain.SlotBilling, "US", onSettled)
	require.NoError(t, err)
	_, err = svc.Resolve(context.Background(), domain.SlotShipping, "IN", onSettled)
	require.NoError(t, err)

	shipping := <-results
	require.Equal(t, domain.SlotShipping, shipping.Slot)
	require.True(t, svc.State(domain.SlotBilling).Fetching)

	close(releaseUS)
	billing := <-results
	svc.Wait()

	require.Equal(t, domain.SlotBilling, billing.Slot)
	require.True(t, svc.State(domain.SlotBilling).Set.Contains("CA"))
	require.True(t, svc.State(domain.SlotShipping).Set.Contains("MH"))
}

func TestRegionServiceFailureYieldsEmptySet(t *testing.T) {
	source := newStubRegionSource()
	source.errs["US"] = errors.New("backend down")
	svc := newTestRegionService(t, source, time.Second)
	onSettled, results := collectResults()

	_, err := svc.Resolve(context.Background(), domain.SlotBilling, "US", onSettled)
	require.NoError(t, err)
	svc.Wait()

	result := <-results
	var lookupErr *RegionLookupError
	require.ErrorAs(t, result.Err, &lookupErr)
	require.Equal(t, "US", lookupErr.Country)
	require.True(t, result.Set.Empty())
	require.Equal(t, "US", result.Set.Country)

	state := svc.State(domain.SlotBilling)
	require.False(t, state.Fetching)
	require.True(t, state.Set.Empty())
	require.Equal(t, 1, source.callCount())
}

func TestRegionServiceTimeout(t *testing.T) {
	source := newStubRegionSource()
	source.gate("US")
	svc := newTestRegionService(t, source, 20*time.Millisecond)
	onSettled, results := collectResults()

	_, err := svc.Resolve(context.Background(), domain.SlotShipping, "US", onSettled)
	require.NoError(t, err)
	svc.Wait()

	result := <-results
	require.ErrorIs(t, result.Err, context.DeadlineExceeded)
	require.True(t, result.Set.Empty())
}

func TestRegionServiceEmptyCountrySettlesImmediately(t *testing.T) {
	source := newStubRegionSource()
	svc := newTestRegionService(t, source, time.Second)

	var settled []RegionResult
	seq, err := svc.Resolve(context.Background(), domain.SlotBilling, "  ", func(result RegionResult) {
		settled = append(settled, result)
	})
	require.NoError(t, err)
	require.Len(t, settled, 1)
	require.Equal(t, seq, settled[0].Seq)
	require.True(t, settled[0].Set.Empty())
	require.Zero(t, source.callCount())
}

func TestRegionServiceCallerCancellationDoesNotAbortLookup(t *testing.T) {
	source := newStubRegionSource()
	release := source.gate("IN")
	svc := newTestRegionService(t, source, time.Second)
	onSettled, results := collectResults()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.Resolve(ctx, domain.SlotShipping, "IN", onSettled)
	require.NoError(t, err)
	cancel()
	close(release)
	svc.Wait()

	result := <-results
	require.NoError(t, result.Err)
	require.True(t, result.Set.Contains("MH"))
}

func TestRegionServiceCloseCancelsLookups(t *testing.T) {
	source := newStubRegionSource()
	source.gate("IN")
	svc := newTestRegionService(t, source, time.Second)
	onSettled, results := collectResults()

	_, err := svc.Resolve(context.Background(), domain.SlotShipping, "IN", onSettled)
	require.NoError(t, err)

	svc.Close()
	svc.Wait()

	require.Empty(t, results)
	require.False(t, svc.State(domain.SlotShipping).Fetching)

	_, err = svc.Resolve(context.Background(), domain.SlotShipping, "US", onSettled)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestRegionServiceRejectsUnknownSlot(t *testing.T) {
	svc := newTestRegionService(t, newStubRegionSource(), time.Second)

	_, err := svc.Resolve(context.Background(), domain.Slot("pickup"), "IN", nil)
	require.ErrorIs(t, err, ErrCheckoutInvalidInput)
}
