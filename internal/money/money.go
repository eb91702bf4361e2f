// Package money handles decimal currency amounts with 2 fractional digits.
//
// Amounts travel as strings (e.g. "40.00") and are parsed to integer
// cents for arithmetic. The database stores NUMERIC(12,2); this package
// is the only place amount strings are parsed or formatted.
package money

import (
	"errors"
	"strings"
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseCents converts a decimal string like "40.00" or "40" to cents.
// Rejects negative signs, extra decimal points, and non-digit characters.
func ParseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}

	// Pad or reject fractional part beyond 2 digits
	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		return 0, ErrInvalidAmount
	}

	var cents int64
	for _, c := range whole + frac {
		if c < '0' || c > '9' {
			return 0, ErrInvalidAmount
		}
		if cents > (1<<62)/10 {
			return 0, ErrInvalidAmount
		}
		cents = cents*10 + int64(c-'0')
	}
	return cents, nil
}

// ParseSignedCents is ParseCents with an optional leading minus sign,
// for ledger entry amounts which may be debits.
func ParseSignedCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if rest, neg := strings.CutPrefix(s, "-"); neg {
		cents, err := ParseCents(rest)
		if err != nil {
			return 0, err
		}
		return -cents, nil
	}
	return ParseCents(s)
}

// FormatCents renders cents as a decimal string with 2 fractional digits.
// Negative values keep their sign: -4000 -> "-40.00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := cents / 100
	frac := cents % 100
	return sign + itoa(whole) + "." + pad2(frac)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func pad2(n int64) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}
