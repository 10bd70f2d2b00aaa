package mpesa

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPhone is returned when a phone number cannot be
	// canonicalized into the 254XXXXXXXXX wire format.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrInvalidAmount is returned when an amount is outside the range the
	// gateway accepts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Daraja rejects push amounts outside this range.
const (
	MinAmount = 1
	MaxAmount = 999999
)

// NormalizePhone canonicalizes a Kenyan mobile number into the wire format
// the gateway expects: 254 followed by nine digits. Accepted input forms
// are local (07XXXXXXXX / 01XXXXXXXX), international with a leading plus
// (+2547XXXXXXXX), and bare international (2547XXXXXXXX).
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasPrefix(s, "0") && len(s) == 10:
		s = "254" + s[1:]
	}

	if len(s) != 12 || !strings.HasPrefix(s, "254") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
	}

	return s, nil
}

// ValidateAmount checks the gateway's amount bounds and returns the whole
// shilling value to submit. Fractional amounts are rounded half-up, since
// the gateway only accepts integers.
func ValidateAmount(amount decimal.Decimal) (int64, error) {
	rounded := amount.Round(0)

	if rounded.LessThan(decimal.NewFromInt(MinAmount)) || rounded.GreaterThan(decimal.NewFromInt(MaxAmount)) {
		return 0, fmt.Errorf("%w: %s is outside [%d, %d]", ErrInvalidAmount, amount, MinAmount, MaxAmount)
	}

	return rounded.IntPart(), nil
}
