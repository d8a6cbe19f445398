package phone

import "strings"

// DefaultCountryCode is stripped from numbers written in full international form.
const DefaultCountryCode = "55"

// localMaxDigits is the longest national number (area code + subscriber).
const localMaxDigits = 11

// Normalize reduces a phone number to its canonical digits using DefaultCountryCode.
func Normalize(raw string) string {
	return NormalizeCountry(raw, DefaultCountryCode)
}

// NormalizeCountry keeps digits only, drops trunk/international leading zeros and
// strips countryCode when the number is longer than a national number.
// The result is a fixed point: normalizing it again returns it unchanged.
func NormalizeCountry(raw, countryCode string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	for {
		next := strings.TrimLeft(digits, "0")
		if countryCode != "" && len(next) > localMaxDigits && strings.HasPrefix(next, countryCode) {
			next = next[len(countryCode):]
		}
		if next == digits {
			return digits
		}
		digits = next
	}
}

// Equal reports whether two differently formatted numbers belong to the same person.
func Equal(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}
