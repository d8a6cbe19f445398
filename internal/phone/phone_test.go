package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "formatted short number keeps country digits", raw: "+55 9 1234-567", want: "5591234567"},
		{name: "international form strips country code", raw: "+55 (11) 98765-4321", want: "11987654321"},
		{name: "trunk zero is dropped", raw: "011 98765 4321", want: "11987654321"},
		{name: "international 00 prefix", raw: "0055 11 98765 4321", want: "11987654321"},
		{name: "whatsapp jid user part", raw: "5511987654321", want: "11987654321"},
		{name: "letters and symbols ignored", raw: "tel: 11-9876-54321 ext", want: "11987654321"},
		{name: "empty", raw: "", want: ""},
		{name: "only zeros", raw: "000", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"+55 9 1234-567",
		"+55 55 55 98765-4321",
		"005555119876543",
		"+1 (415) 555-0100",
		"0 0 0 12",
		"5555555555555555",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "normalize(normalize(%q))", in)
	}
}

func TestNormalizeCountry_OtherCountry(t *testing.T) {
	assert.Equal(t, "9123456789", NormalizeCountry("+351 912 345 678 9", "351"))
	assert.Equal(t, "3519123456789", NormalizeCountry("+351 912 345 678 9", ""))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("+55 (11) 98765-4321", "011 98765-4321"))
	assert.True(t, Equal("+55 9 1234-567", "5591234567"))
	assert.False(t, Equal("11987654321", "11987654320"))
	assert.False(t, Equal("", ""))
}
