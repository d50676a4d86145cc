package domain

import (
	"strings"
	"time"
)

// CheckoutInput aggregates everything the shopper edits on the checkout form.
type CheckoutInput struct {
	Billing                      AddressRecord `json:"billing"`
	Shipping                     AddressRecord `json:"shipping"`
	CreateAccount                bool          `json:"createAccount"`
	OrderNotes                   string        `json:"orderNotes"`
	BillingDifferentThanShipping bool          `json:"billingDifferentThanShipping"`
	PaymentMethod                string        `json:"paymentMethod"`
}

// Clone returns a deep copy of the input.
func (in CheckoutInput) Clone() CheckoutInput {
	out := in
	out.Billing = in.Billing.Clone()
	out.Shipping = in.Shipping.Clone()
	return out
}

// Address returns the record held by the given slot.
func (in CheckoutInput) Address(slot Slot) AddressRecord {
	if slot == SlotBilling {
		return in.Billing.Clone()
	}
	return in.Shipping.Clone()
}

// WithAddress returns a copy of the input with the slot's record replaced.
func (in CheckoutInput) WithAddress(slot Slot, record AddressRecord) CheckoutInput {
	out := in.Clone()
	if slot == SlotBilling {
		out.Billing = record.Clone()
	} else {
		out.Shipping = record.Clone()
	}
	return out
}

// EffectiveBilling resolves the billing record used at submission time: the distinct billing
// record when the shopper asked for one, otherwise a copy of shipping.
func (in CheckoutInput) EffectiveBilling() AddressRecord {
	if in.BillingDifferentThanShipping {
		return in.Billing.Clone()
	}
	return in.Shipping.Clone()
}

// Region is one subdivision (state, province, prefecture) of a country.
type Region struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// Country is an entry in the selectable country catalogue.
type Country struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// RegionSet is the ordered list of regions for one country. An empty Regions slice means
// the country has no enumerated subdivisions and the state field is free text.
type RegionSet struct {
	Country string   `json:"country"`
	Regions []Region `json:"regions"`
}

// Clone returns a copy that does not share the backing array.
func (s RegionSet) Clone() RegionSet {
	out := RegionSet{Country: s.Country}
	if len(s.Regions) > 0 {
		out.Regions = append([]Region(nil), s.Regions...)
	}
	return out
}

// Empty reports whether the set enumerates no regions.
func (s RegionSet) Empty() bool {
	return len(s.Regions) == 0
}

// Contains reports whether the value matches a region code or name, ignoring case.
func (s RegionSet) Contains(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	for _, region := range s.Regions {
		if strings.EqualFold(region.Code, value) || strings.EqualFold(region.Name, value) {
			return true
		}
	}
	return false
}

// SubmissionStatus tracks the lifecycle of a checkout submission attempt.
type SubmissionStatus string

const (
	// SubmissionIdle means no attempt is running.
	SubmissionIdle SubmissionStatus = "idle"
	// SubmissionValidating means the address records are being validated.
	SubmissionValidating SubmissionStatus = "validating"
	// SubmissionBuildingPayload means the order payload is being assembled.
	SubmissionBuildingPayload SubmissionStatus = "building_payload"
	// SubmissionSubmitting means the order is in flight to the commerce backend.
	SubmissionSubmitting SubmissionStatus = "submitting"
	// SubmissionSucceeded means the backend accepted the order.
	SubmissionSucceeded SubmissionStatus = "succeeded"
	// SubmissionFailed means the attempt ended with an error message.
	SubmissionFailed SubmissionStatus = "failed"
)

// InFlight reports whether the status belongs to an attempt that has not settled.
func (s SubmissionStatus) InFlight() bool {
	switch s {
	case SubmissionValidating, SubmissionBuildingPayload, SubmissionSubmitting:
		return true
	default:
		return false
	}
}

// Settled reports whether the attempt reached a terminal status.
func (s SubmissionStatus) Settled() bool {
	return s == SubmissionSucceeded || s == SubmissionFailed
}

// SubmissionAttempt is one validate, submit, resolve cycle.
type SubmissionAttempt struct {
	ID           string             `json:"id"`
	Status       SubmissionStatus   `json:"status"`
	Payload      *OrderPayload      `json:"payload,omitempty"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	Confirmation *OrderConfirmation `json:"confirmation,omitempty"`
	StartedAt    time.Time          `json:"startedAt"`
	SettledAt    time.Time          `json:"settledAt"`
}

// Clone returns a deep copy of the attempt.
func (a SubmissionAttempt) Clone() SubmissionAttempt {
	out := a
	if a.Payload != nil {
		payload := a.Payload.Clone()
		out.Payload = &payload
	}
	if a.Confirmation != nil {
		confirmation := *a.Confirmation
		out.Confirmation = &confirmation
	}
	return out
}
