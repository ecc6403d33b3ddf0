// Package units converts between decimal token amounts and integer base
// units.
package units

import (
	"fmt"
	"math/big"
	"strings"
)

// EtherDecimals is the number of decimals of the native token.
const EtherDecimals = 18

// ParseUnits converts a decimal string such as "0.25" into base units.
// Amounts with more fractional digits than decimals are rejected.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}
	negative := strings.HasPrefix(amount, "-")
	if negative {
		amount = amount[1:]
	}
	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if negative {
		value.Neg(value)
	}
	return value, nil
}

// FormatUnits renders base units as a decimal string without trailing
// fractional zeros.
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	negative := value.Sign() < 0
	digits := new(big.Int).Abs(value).String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if negative {
		out = "-" + out
	}
	return out
}

// FormatEther renders wei in ether units.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
