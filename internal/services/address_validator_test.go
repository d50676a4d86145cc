package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanko-field/checkout/internal/domain"
)

func indiaAddress() domain.AddressRecord {
	return domain.AddressRecord{
		FirstName: "Priya",
		LastName:  "Sharma",
		Address1:  "123 Abc farm",
		City:      "Mumbai",
		Country:   "IN",
		State:     "MH",
		Postcode:  "221029",
		Email:     "priya@example.com",
		Phone:     "9883778278",
	}
}

func TestValidateAddressAcceptsCompleteRecord(t *testing.T) {
	result := ValidateAddress(indiaAddress())

	require.True(t, result.Valid)
	require.Empty(t, result.Errors)
	require.Equal(t, "123 Abc farm", result.Sanitized.Address1)
	require.Equal(t, "IN", result.Sanitized.Country)
	require.Nil(t, result.Sanitized.Errors)
}

func TestValidateAddressRequiredFields(t *testing.T) {
	result := ValidateAddress(domain.AddressRecord{Company: "Acme"})

	require.False(t, result.Valid)
	for _, field := range []string{
		domain.FieldFirstName,
		domain.FieldLastName,
		domain.FieldAddress1,
		domain.FieldCity,
		domain.FieldCountry,
		domain.FieldPostcode,
		domain.FieldEmail,
		domain.FieldPhone,
	} {
		require.Contains(t, result.Errors, field)
	}
	require.NotContains(t, result.Errors, domain.FieldAddress2)
	require.NotContains(t, result.Errors, domain.FieldCompany)
	require.NotContains(t, result.Errors, domain.FieldState)
	require.Equal(t, "First name field is required", result.Errors[domain.FieldFirstName])
	require.Equal(t, result.Errors, result.Sanitized.Errors)
}

func TestValidateAddressFieldRules(t *testing.T) {
	cases := []struct {
		name  string
		field string
		value string
		valid bool
	}{
		{name: "email without domain", field: domain.FieldEmail, value: "priya@", valid: false},
		{name: "email with short tld", field: domain.FieldEmail, value: "priya@example.c", valid: false},
		{name: "email with spaces", field: domain.FieldEmail, value: "pri ya@example.com", valid: false},
		{name: "postcode with symbols", field: domain.FieldPostcode, value: "22#029", valid: false},
		{name: "postcode with space", field: domain.FieldPostcode, value: "SW1A 1AA", valid: true},
		{name: "postcode with hyphen", field: domain.FieldPostcode, value: "100-0001", valid: true},
		{name: "postcode too long", field: domain.FieldPostcode, value: "12345678901", valid: false},
		{name: "phone with letters", field: domain.FieldPhone, value: "98837abc78", valid: false},
		{name: "phone with separators", field: domain.FieldPhone, value: "+91 (988) 377-8278", valid: true},
		{name: "phone too short", field: domain.FieldPhone, value: "98837", valid: false},
		{name: "phone too long", field: domain.FieldPhone, value: "9883778278988377", valid: false},
		{name: "first name too short", field: domain.FieldFirstName, value: "P", valid: false},
		{name: "first name too long", field: domain.FieldFirstName, value: strings.Repeat("a", 36), valid: false},
		{name: "city too short", field: domain.FieldCity, value: "Ab", valid: false},
		{name: "company too long", field: domain.FieldCompany, value: strings.Repeat("c", 36), valid: false},
		{name: "country lower case", field: domain.FieldCountry, value: "in", valid: true},
		{name: "country three letters", field: domain.FieldCountry, value: "IND", valid: false},
		{name: "country unknown", field: domain.FieldCountry, value: "ZZ", valid: false},
		{name: "multibyte name counted in runes", field: domain.FieldLastName, value: "山田", valid: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			record, ok := indiaAddress().WithField(tc.field, tc.value)
			require.True(t, ok)

			result := ValidateAddress(record)
			if tc.valid {
				require.True(t, result.Valid, "unexpected errors: %v", result.Errors)
				return
			}
			require.False(t, result.Valid)
			require.Contains(t, result.Errors, tc.field)
			require.Len(t, result.Errors, 1)
		})
	}
}

func TestValidateAddressSanitizes(t *testing.T) {
	record := indiaAddress()
	record.FirstName = "  <b>Pri</b>ya\t"
	record.Address1 = "123\nAbc   farm"
	record.Company = "Tom & Jerry"
	record.City = "<script>alert(1)</script>Mumbai"
	record.Country = " in "

	result := ValidateAddress(record)

	require.True(t, result.Valid, "unexpected errors: %v", result.Errors)
	require.Equal(t, "Priya", result.Sanitized.FirstName)
	require.Equal(t, "123 Abc farm", result.Sanitized.Address1)
	require.Equal(t, "Tom & Jerry", result.Sanitized.Company)
	require.Equal(t, "Mumbai", result.Sanitized.City)
	require.Equal(t, "IN", result.Sanitized.Country)
}

func TestValidateAddressIsDeterministic(t *testing.T) {
	record := indiaAddress()
	record.Email = "not-an-email"

	first := ValidateAddress(record)
	second := ValidateAddress(record)

	require.Equal(t, first, second)
	require.Empty(t, record.Errors)
}

func TestSanitizeTextStripsEncodedMarkup(t *testing.T) {
	require.Equal(t, "hello", SanitizeText("&lt;i&gt;hello&lt;/i&gt;"))
	require.Equal(t, "O'Brien", SanitizeText("O'Brien"))
	require.Equal(t, "", SanitizeText(" \x00\x07 "))
}

func TestSanitizeTextStripsDeeplyEncodedMarkup(t *testing.T) {
	nested := "&amp;amp;lt;b&amp;amp;gt;Jo&amp;amp;lt;/b&amp;amp;gt;"
	require.Equal(t, "Jo", SanitizeText(nested))

	record := indiaAddress()
	record.FirstName = nested
	record.City = "&amp;amp;amp;lt;script&amp;amp;amp;gt;alert(1)&amp;amp;amp;lt;/script&amp;amp;amp;gt;Mumbai"
	result := ValidateAddress(record)
	require.True(t, result.Valid, "unexpected errors: %v", result.Errors)
	require.Equal(t, "Jo", result.Sanitized.FirstName)
	require.Equal(t, "Mumbai", result.Sanitized.City)
}

func TestSanitizeTextIsIdempotent(t *testing.T) {
	inputs := []string{
		"&amp;amp;lt;b&amp;amp;gt;Jo&amp;amp;lt;/b&amp;amp;gt;",
		"&lt;i&gt;hello&lt;/i&gt;",
		"Tom &amp;amp; Jerry",
		"e&#x301;cole &#7; rue",
		"a < b > c",
		"  <b>Pri</b>ya\t",
	}
	for _, input := range inputs {
		once := SanitizeText(input)
		require.Equal(t, once, SanitizeText(once), "input %q", input)
		require.NotContains(t, once, "<b>", "input %q", input)
		require.NotContains(t, once, "<i>", "input %q", input)
	}
}
