package escrow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// maxAmountDigits is the decimal width of the largest uint256.
const maxAmountDigits = 78

// ParseAmount parses an unsigned integer amount. Besides plain decimal digits
// it accepts underscores as separators and scientific shorthand such as
// "1e18" or "2.5e18", provided the result is integral.
func ParseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expValue, err := strconv.ParseInt(strings.TrimSpace(trimmed[idx+1:]), 10, 32)
		if err != nil || expValue < 0 {
			return nil, fmt.Errorf("invalid scientific notation in amount %q", value)
		}
		exponent = int(expValue)
	}
	base = strings.TrimPrefix(base, "+")
	if strings.HasPrefix(base, "-") {
		return nil, fmt.Errorf("amount must not be negative")
	}
	parts := strings.Split(base, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format %q", value)
	}
	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = strings.TrimRight(parts[1], "0")
	}
	digits := integerPart + fractionalPart
	if digits == "" || !isDigits(digits) {
		return nil, fmt.Errorf("invalid amount format %q", value)
	}
	if len(fractionalPart) > exponent {
		return nil, fmt.Errorf("amount %q is not an integer", value)
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	if len(digits)+exponent-len(fractionalPart) > maxAmountDigits {
		return nil, fmt.Errorf("amount %q out of range", value)
	}
	digits += strings.Repeat("0", exponent-len(fractionalPart))
	amount, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("amount %q out of range: %w", value, err)
	}
	return amount, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// FormatAmount renders v in decimal; nil renders as "0".
func FormatAmount(v *uint256.Int) string { return amountString(v) }
