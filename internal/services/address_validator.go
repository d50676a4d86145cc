package services

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/hanko-field/checkout/internal/domain"
)

var (
	markupPolicy = bluemonday.StrictPolicy()

	// markupStripper drops the characters markup and entities are built from.
	markupStripper = strings.NewReplacer("<", "", ">", "", "&", "")

	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
	postcodePattern = regexp.MustCompile(`^[0-9A-Za-z]+(?:[ -][0-9A-Za-z]+)*$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9()\-.\s]+$`)
	countryPattern  = regexp.MustCompile(`^[A-Za-z]{2}$`)
)

// fieldRule describes the checks applied to one address field after sanitisation.
type fieldRule struct {
	field    string
	label    string
	required bool
	min, max int
	check    func(string) string
}

var addressRules = []fieldRule{
	{field: domain.FieldFirstName, label: "First name", required: true, min: 2, max: 35},
	{field: domain.FieldLastName, label: "Last name", required: true, min: 2, max: 35},
	{field: domain.FieldCompany, label: "Company name", max: 35},
	{field: domain.FieldCountry, label: "Country", required: true, check: checkCountry},
	{field: domain.FieldAddress1, label: "Street address", required: true, max: 100},
	{field: domain.FieldAddress2, label: "Apartment, suite, unit", max: 254},
	{field: domain.FieldCity, label: "Town / City", required: true, min: 3, max: 25},
	{field: domain.FieldState, label: "State / County", max: 254},
	{field: domain.FieldPostcode, label: "Postcode", required: true, min: 2, max: 10, check: checkPostcode},
	{field: domain.FieldPhone, label: "Phone", required: true, check: checkPhone},
	{field: domain.FieldEmail, label: "Email", required: true, max: 254, check: checkEmail},
}

// AddressValidationResult is the outcome of validating one address record.
type AddressValidationResult struct {
	Valid     bool
	Sanitized domain.AddressRecord
	Errors    map[string]string
}

// ValidateAddress sanitises every field of the record and checks it against the address rules.
// It is pure: the same record always yields the same result.
func ValidateAddress(record domain.AddressRecord) AddressValidationResult {
	sanitized := domain.AddressRecord{}
	errs := make(map[string]string)

	for _, rule := range addressRules {
		raw, _ := record.Field(rule.field)
		value := SanitizeText(raw)
		if rule.field == domain.FieldCountry {
			value = strings.ToUpper(value)
		}
		sanitized, _ = sanitized.WithField(rule.field, value)

		if msg := rule.validate(value); msg != "" {
			errs[rule.field] = msg
		}
	}

	if len(errs) == 0 {
		return AddressValidationResult{Valid: true, Sanitized: sanitized}
	}
	sanitized.Errors = errs
	return AddressValidationResult{Valid: false, Sanitized: sanitized.Clone(), Errors: errs}
}

func (r fieldRule) validate(value string) string {
	if value == "" {
		if r.required {
			return r.label + " field is required"
		}
		return ""
	}
	length := utf8.RuneCountInString(value)
	switch {
	case r.min > 0 && r.max > 0 && (length < r.min || length > r.max):
		return r.label + " must be between " + strconv.Itoa(r.min) + " and " + strconv.Itoa(r.max) + " characters"
	case r.max > 0 && length > r.max:
		return r.label + " must be at most " + strconv.Itoa(r.max) + " characters"
	}
	if r.check != nil {
		return r.check(value)
	}
	return ""
}

func checkEmail(value string) string {
	if !emailPattern.MatchString(value) {
		return "Email is not valid"
	}
	return ""
}

func checkPostcode(value string) string {
	if !postcodePattern.MatchString(value) {
		return "Postcode may only contain letters, digits, spaces and hyphens"
	}
	return ""
}

func checkPhone(value string) string {
	if !phonePattern.MatchString(value) {
		return "Phone may only contain digits and + ( ) - . separators"
	}
	digits := 0
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 10 || digits > 15 {
		return "Phone must contain between 10 and 15 digits"
	}
	return ""
}

func checkCountry(value string) string {
	if !countryPattern.MatchString(value) {
		return "Country must be a two letter country code"
	}
	region, err := language.ParseRegion(value)
	if err != nil || !region.IsCountry() {
		return "Country is not recognised"
	}
	return ""
}

// SanitizeText strips markup and control characters from user input, normalises it to NFC,
// and collapses runs of whitespace. Entity-encoded markup is decoded and stripped at every
// nesting depth; the result is a fixed point, so sanitising it again returns it unchanged.
func SanitizeText(value string) string {
	for i := 0; i <= len(value)+1; i++ {
		next := sanitizePass(value)
		if next == value {
			return value
		}
		value = next
	}
	return sanitizePass(markupStripper.Replace(value))
}

func sanitizePass(value string) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value)
	value = html.UnescapeString(markupPolicy.Sanitize(value))
	value = norm.NFC.String(value)
	return strings.Join(strings.Fields(value), " ")
}
