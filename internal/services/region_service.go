package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/checkout/internal/domain"
)

const (
	instrumentationName        = "github.com/hanko-field/checkout/internal/services"
	defaultRegionLookupTimeout = 5 * time.Second

	regionOutcomeResolved   = "resolved"
	regionOutcomeFailed     = "failed"
	regionOutcomeSuperseded = "superseded"
	regionOutcomeCancelled  = "cancelled"
)

// RegionServiceDeps wires the dependencies required by the region service.
type RegionServiceDeps struct {
	Source  RegionSource
	Timeout time.Duration
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// RegionResult is delivered to the caller of Resolve once the newest lookup for a slot settles.
type RegionResult struct {
	Slot    domain.Slot
	Seq     uint64
	Country string
	Set     domain.RegionSet
	Err     error
}

// RegionState is the current region view of one slot.
type RegionState struct {
	Country  string           `json:"country"`
	Set      domain.RegionSet `json:"set"`
	Fetching bool             `json:"fetching"`
	Seq      uint64           `json:"seq"`
}

type regionSlot struct {
	seq      uint64
	country  string
	set      domain.RegionSet
	fetching bool
	cancel   context.CancelFunc
}

// RegionService resolves the region list of each address slot. Every Resolve call takes the
// next sequence number for its slot and only the holder of the latest number may write the
// slot's region set and fetching flag. Older lookups are cancelled and their results dropped.
type RegionService struct {
	source  RegionSource
	timeout time.Duration
	logger  func(ctx context.Context, event string, fields map[string]any)
	tracer  trace.Tracer
	lookups metric.Int64Counter

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	slots  map[domain.Slot]*regionSlot
	closed bool
}

// NewRegionService constructs a RegionService validating required dependencies.
func NewRegionService(deps RegionServiceDeps) (*RegionService, error) {
	if deps.Source == nil {
		return nil, errors.New("region service: region source is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultRegionLookupTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	lookups, err := otel.GetMeterProvider().Meter(instrumentationName).Int64Counter(
		"checkout.regions.lookups",
		metric.WithDescription("Region lookups by outcome"),
	)
	if err != nil {
		return nil, err
	}

	base, stop := context.WithCancel(context.Background())
	return &RegionService{
		source:  deps.Source,
		timeout: timeout,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		lookups: lookups,
		base:    base,
		stop:    stop,
		slots: map[domain.Slot]*regionSlot{
			domain.SlotBilling:  {},
			domain.SlotShipping: {},
		},
	}, nil
}

// Resolve starts a lookup of the regions of country for the slot and returns the sequence number
// it was issued. onSettled runs once, outside any lock, when this lookup is still the newest for
// the slot at the time it settles; superseded lookups never call it. An empty country settles
// immediately with an empty set.
func (s *RegionService) Resolve(ctx context.Context, slot domain.Slot, country string, onSettled func(RegionResult)) (uint64, error) {
	if !slot.Valid() {
		return 0, ErrCheckoutInvalidInput
	}
	country = strings.ToUpper(strings.TrimSpace(country))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	state := s.slots[slot]
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
	state.seq++
	seq := state.seq
	state.country = country

	if country == "" {
		state.set = domain.RegionSet{}
		state.fetching = false
		s.mu.Unlock()

		if onSettled != nil {
			onSettled(RegionResult{Slot: slot, Seq: seq})
		}
		return seq, nil
	}

	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	stopAfter := context.AfterFunc(s.base, cancel)
	state.fetching = true
	state.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer stopAfter()
		defer cancel()
		s.lookup(lookupCtx, slot, country, seq, onSettled)
	}()
	return seq, nil
}

func (s *RegionService) lookup(ctx context.Context, slot domain.Slot, country string, seq uint64, onSettled func(RegionResult)) {
	ctx, span := s.tracer.Start(ctx, "regions.lookup", trace.WithAttributes(
		attribute.String("checkout.slot", string(slot)),
		attribute.String("checkout.country", country),
		attribute.Int64("checkout.region_seq", int64(seq)),
	))
	defer span.End()

	regions, err := s.source.RegionsForCountry(ctx, country)

	s.mu.Lock()
	state := s.slots[slot]
	if s.closed || state.seq != seq {
		outcome := regionOutcomeSuperseded
		if s.closed {
			outcome = regionOutcomeCancelled
		}
		s.mu.Unlock()
		span.SetAttributes(attribute.String("checkout.region_outcome", outcome))
		s.record(ctx, slot, outcome)
		return
	}

	result := RegionResult{Slot: slot, Seq: seq, Country: country}
	outcome := regionOutcomeResolved
	if err != nil {
		outcome = regionOutcomeFailed
		result.Err = &RegionLookupError{Slot: string(slot), Country: country, Err: err}
		result.Set = domain.RegionSet{Country: country}
	} else {
		result.Set = domain.RegionSet{Country: country, Regions: regions}.Clone()
	}
	state.set = result.Set
	state.fetching = false
	state.cancel = nil
	s.mu.Unlock()

	span.SetAttributes(
		attribute.String("checkout.region_outcome", outcome),
		attribute.Int("checkout.region_count", len(result.Set.Regions)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "region lookup failed")
		s.logger(ctx, "regions.lookup.failed", map[string]any{
			"slot":    string(slot),
			"country": country,
			"error":   err.Error(),
		})
	}
	s.record(ctx, slot, outcome)

	if onSettled != nil {
		onSettled(result)
	}
}

func (s *RegionService) record(ctx context.Context, slot domain.Slot, outcome string) {
	s.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("slot", string(slot)),
		attribute.String("outcome", outcome),
	))
}

// State returns a copy of the slot's current region view.
func (s *RegionService) State(slot domain.Slot) RegionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.slots[slot]
	if !ok {
		return RegionState{}
	}
	return RegionState{
		Country:  state.country,
		Set:      state.set.Clone(),
		Fetching: state.fetching,
		Seq:      state.seq,
	}
}

// Wait blocks until every started lookup has returned.
func (s *RegionService) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight lookups. Results arriving afterwards are dropped and later Resolve
// calls fail with ErrSessionClosed.
func (s *RegionService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, state := range s.slots {
		state.fetching = false
		state.cancel = nil
	}
	s.mu.Unlock()
	s.stop()
}
