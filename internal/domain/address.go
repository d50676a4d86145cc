package domain

import "maps"

// Slot identifies one of the two independent address records held by a checkout.
type Slot string

const (
	// SlotBilling is the billing address record.
	SlotBilling Slot = "billing"
	// SlotShipping is the shipping address record.
	SlotShipping Slot = "shipping"
)

// Valid reports whether the slot is one of the known address slots.
func (s Slot) Valid() bool {
	return s == SlotBilling || s == SlotShipping
}

// Address field names as exchanged with the UI shell and used as error keys.
const (
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
	FieldAddress1  = "address1"
	FieldAddress2  = "address2"
	FieldCity      = "city"
	FieldCountry   = "country"
	FieldState     = "state"
	FieldPostcode  = "postcode"
	FieldEmail     = "email"
	FieldPhone     = "phone"
	FieldCompany   = "company"
)

// AddressFields lists every editable address field in display order.
var AddressFields = []string{
	FieldFirstName,
	FieldLastName,
	FieldCompany,
	FieldCountry,
	FieldAddress1,
	FieldAddress2,
	FieldCity,
	FieldState,
	FieldPostcode,
	FieldPhone,
	FieldEmail,
}

// AddressRecord is the raw, user-edited address form for one slot. Errors is nil when the
// record has not failed validation.
type AddressRecord struct {
	FirstName string            `json:"firstName"`
	LastName  string            `json:"lastName"`
	Address1  string            `json:"address1"`
	Address2  string            `json:"address2"`
	City      string            `json:"city"`
	Country   string            `json:"country"`
	State     string            `json:"state"`
	Postcode  string            `json:"postcode"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone"`
	Company   string            `json:"company"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Clone returns a deep copy so callers can never mutate a shared error map.
func (r AddressRecord) Clone() AddressRecord {
	out := r
	if len(r.Errors) > 0 {
		out.Errors = maps.Clone(r.Errors)
	} else {
		out.Errors = nil
	}
	return out
}

// HasErrors reports whether the record carries any field errors.
func (r AddressRecord) HasErrors() bool {
	return len(r.Errors) > 0
}

// Field returns the value of the named field.
func (r AddressRecord) Field(name string) (string, bool) {
	ptr := r.fieldPtr(name)
	if ptr == nil {
		return "", false
	}
	return *ptr, true
}

// WithField returns a copy of the record with the named field replaced. The second return
// value is false when the field name is unknown, in which case the record is returned unchanged.
func (r AddressRecord) WithField(name, value string) (AddressRecord, bool) {
	out := r.Clone()
	ptr := out.fieldPtr(name)
	if ptr == nil {
		return r.Clone(), false
	}
	*ptr = value
	return out, true
}

// WithoutError returns a copy of the record with the error entry for one field removed.
func (r AddressRecord) WithoutError(name string) AddressRecord {
	out := r.Clone()
	if out.Errors == nil {
		return out
	}
	delete(out.Errors, name)
	if len(out.Errors) == 0 {
		out.Errors = nil
	}
	return out
}

// OrderAddress converts the record into its wire form, dropping validation state.
func (r AddressRecord) OrderAddress() OrderAddress {
	return OrderAddress{
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Address1:  r.Address1,
		Address2:  r.Address2,
		City:      r.City,
		Country:   r.Country,
		State:     r.State,
		Postcode:  r.Postcode,
		Email:     r.Email,
		Phone:     r.Phone,
		Company:   r.Company,
	}
}

func (r *AddressRecord) fieldPtr(name string) *string {
	switch name {
	case FieldFirstName:
		return &r.FirstName
	case FieldLastName:
		return &r.LastName
	case FieldAddress1:
		return &r.Address1
	case FieldAddress2:
		return &r.Address2
	case FieldCity:
		return &r.City
	case FieldCountry:
		return &r.Country
	case FieldState:
		return &r.State
	case FieldPostcode:
		return &r.Postcode
	case FieldEmail:
		return &r.Email
	case FieldPhone:
		return &r.Phone
	case FieldCompany:
		return &r.Company
	default:
		return nil
	}
}
