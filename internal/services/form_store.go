package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/textutil"
)

// regionResolver is the part of RegionService the form store drives.
type regionResolver interface {
	Resolve(ctx context.Context, slot domain.Slot, country string, onSettled func(RegionResult)) (uint64, error)
}

// FormStoreDeps wires the dependencies required by the form store.
type FormStoreDeps struct {
	Regions regionResolver
	Initial domain.CheckoutInput
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// FormStore owns the checkout input of one session. Every operation is total and returns an
// immutable snapshot; callers never hold a reference into the store's state.
type FormStore struct {
	regions regionResolver
	logger  func(ctx context.Context, event string, fields map[string]any)

	mu    sync.Mutex
	input domain.CheckoutInput

	// Order a slot's country write with its region lookup.
	billingCountryMu  sync.Mutex
	shippingCountryMu sync.Mutex
}

// NewFormStore constructs a FormStore validating required dependencies.
func NewFormStore(deps FormStoreDeps) (*FormStore, error) {
	if deps.Regions == nil {
		return nil, errors.New("form store: region resolver is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &FormStore{
		regions: deps.Regions,
		logger:  logger,
		input:   deps.Initial.Clone(),
	}, nil
}

// Snapshot returns a copy of the current input.
func (s *FormStore) Snapshot() domain.CheckoutInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input.Clone()
}

// SetField replaces one address field and clears that field's error only. Country changes are
// routed through SetCountry. Unknown slots or fields leave the input unchanged.
func (s *FormStore) SetField(ctx context.Context, slot domain.Slot, field, value string) domain.CheckoutInput {
	if !slot.Valid() {
		return s.Snapshot()
	}
	if field == domain.FieldCountry {
		return s.SetCountry(ctx, slot, value)
	}
	return s.update(func(input *domain.CheckoutInput) {
		record, ok := input.Address(slot).WithField(field, value)
		if !ok {
			return
		}
		*input = input.WithAddress(slot, record.WithoutError(field))
	})
}

// SetCountry records the country for the slot and starts a region lookup for it. The state
// value is kept until the lookup settles; it is cleared then only when the new country
// enumerates regions and the value is not one of them. Concurrent calls for one slot leave the
// record and the region lookup agreeing on the last country written.
func (s *FormStore) SetCountry(ctx context.Context, slot domain.Slot, country string) domain.CheckoutInput {
	if !slot.Valid() {
		return s.Snapshot()
	}
	country = strings.ToUpper(strings.TrimSpace(country))

	countryMu := &s.shippingCountryMu
	if slot == domain.SlotBilling {
		countryMu = &s.billingCountryMu
	}
	countryMu.Lock()
	defer countryMu.Unlock()
	s.update(func(input *domain.CheckoutInput) {
		record := input.Address(slot)
		record.Country = country
		*input = input.WithAddress(slot, record.WithoutError(domain.FieldCountry))
	})

	if _, err := s.regions.Resolve(ctx, slot, country, s.reconcileState); err != nil {
		s.logger(ctx, "form.regions.resolve_failed", map[string]any{
			"slot":    string(slot),
			"country": country,
			"error":   err.Error(),
		})
	}
	return s.Snapshot()
}

// SetCreateAccount toggles account creation.
func (s *FormStore) SetCreateAccount(value bool) domain.CheckoutInput {
	return s.update(func(input *domain.CheckoutInput) {
		input.CreateAccount = value
	})
}

// SetBillingDifferentThanShipping toggles the distinct billing record. Turning it on resolves
// the billing regions when a billing country is already present.
func (s *FormStore) SetBillingDifferentThanShipping(ctx context.Context, value bool) domain.CheckoutInput {
	var country string
	snapshot := s.update(func(input *domain.CheckoutInput) {
		if value && !input.BillingDifferentThanShipping {
			country = input.Billing.Country
		}
		input.BillingDifferentThanShipping = value
	})
	if country == "" {
		return snapshot
	}
	return s.SetCountry(ctx, domain.SlotBilling, country)
}

// SetOrderNotes replaces the customer note.
func (s *FormStore) SetOrderNotes(value string) domain.CheckoutInput {
	return s.update(func(input *domain.CheckoutInput) {
		input.OrderNotes = value
	})
}

// SetPaymentMethod records the chosen payment method identifier.
func (s *FormStore) SetPaymentMethod(value string) domain.CheckoutInput {
	return s.update(func(input *domain.CheckoutInput) {
		input.PaymentMethod = strings.TrimSpace(value)
	})
}

// ApplyValidationErrors replaces the error maps of both records. Nil or empty maps mark the
// record valid.
func (s *FormStore) ApplyValidationErrors(billing, shipping map[string]string) domain.CheckoutInput {
	return s.update(func(input *domain.CheckoutInput) {
		input.Billing.Errors = textutil.NormalizeErrorMap(billing)
		input.Shipping.Errors = textutil.NormalizeErrorMap(shipping)
	})
}

func (s *FormStore) update(fn func(input *domain.CheckoutInput)) domain.CheckoutInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.input.Clone()
	fn(&next)
	s.input = next
	return next.Clone()
}

func (s *FormStore) reconcileState(result RegionResult) {
	s.update(func(input *domain.CheckoutInput) {
		record := input.Address(result.Slot)
		if record.Country != result.Country || result.Set.Empty() || record.State == "" {
			return
		}
		if result.Set.Contains(record.State) {
			return
		}
		record.State = ""
		*input = input.WithAddress(result.Slot, record)
	})
}
