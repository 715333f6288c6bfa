// Package normalize canonicalises the fields read out of payment messages.
// Extraction, matching and scoring all compare values through it.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DefaultCountryCode is prepended to numbers written in local form.
const DefaultCountryCode = "250"

// DefaultUTCOffsetHours is the zone of timestamps printed in messages (CAT).
const DefaultUTCOffsetHours = 2

// MaxNameWords caps the number of words kept in a sender name.
const MaxNameWords = 3

// nameStopwords are honorifics and connectives that precede names in messages.
var nameStopwords = map[string]struct{}{
	"from": {}, "to": {}, "mr": {}, "mrs": {}, "miss": {}, "ms": {}, "dr": {},
	"de": {}, "par": {}, "kuva": {}, "kwa": {}, "ku": {}, "na": {},
}

// TimestampLayouts are tried in order; the first that consumes the whole
// input wins.
var TimestampLayouts = []string{
	"2/1/2006 15:04",
	"2/1/2006 15:04:05",
	"2-1-2006 15:04",
	"2006-1-2 15:04",
	"2006-1-2 15:04:05",
}

// Amount parses a printed amount such as "15,000.00".
// It reports false for anything that is not a positive number.
func Amount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Phone returns the canonical +<digits> form using DefaultCountryCode.
func Phone(s string) string {
	return PhoneWithCountry(s, DefaultCountryCode)
}

// PhoneWithCountry canonicalises a phone number. Local numbers starting with
// 0 get the country code, bare country-code numbers get a plus. The result is
// stable under repeated application and empty when s has no digits.
func PhoneWithCountry(s, countryCode string) string {
	var b strings.Builder
	hasDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			hasDigit = true
		case r == '+':
			b.WriteRune(r)
		}
	}
	if !hasDigit {
		return ""
	}
	p := b.String()

	switch {
	case strings.HasPrefix(p, "+"):
		return p
	case strings.HasPrefix(p, "0"):
		return "+" + countryCode + p[1:]
	default:
		// Covers both "250..." and foreign numbers without a plus.
		return "+" + p
	}
}

// Name trims, drops honorifics, title-cases and keeps at most MaxNameWords
// words. Single-letter tokens are dropped.
func Name(s string) string {
	words := strings.Fields(s)
	kept := make([]string, 0, MaxNameWords)
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && r != '\'' && r != '-'
		})
		lower := strings.ToLower(w)
		if _, stop := nameStopwords[lower]; stop {
			continue
		}
		if len([]rune(lower)) <= 1 {
			continue
		}
		kept = append(kept, title(lower))
		if len(kept) == MaxNameWords {
			break
		}
	}
	return strings.Join(kept, " ")
}

// TxID trims and upper-cases a transaction id.
func TxID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Zone returns the fixed zone messages are printed in.
func Zone(offsetHours int) *time.Location {
	name := fmt.Sprintf("UTC%+d", offsetHours)
	if offsetHours == DefaultUTCOffsetHours {
		name = "CAT"
	}
	return time.FixedZone(name, offsetHours*3600)
}

// Timestamp parses a message timestamp in loc.
func Timestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range TimestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// PhoneShaped reports whether a token looks like a phone number rather
// than an identifier.
func PhoneShaped(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if len(s) < 9 || len(s) > 15 {
		return false
	}
	if !IsDigits(s) {
		return false
	}
	return strings.HasPrefix(s, "0") || strings.HasPrefix(s, DefaultCountryCode) || len(s) >= 10
}

// IsDigits reports whether s is non-empty and all ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func title(w string) string {
	r := []rune(w)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
