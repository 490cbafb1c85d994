package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// NativeDecimals is the shift between the base unit and the display unit of
// the native token.
const NativeDecimals = 18

// ParseAmount converts a decimal display-unit string such as "1.5" into base
// units. Fractional digits beyond the decimal width are refused rather than
// truncated.
func ParseAmount(value string, decimals uint8) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("escrow: amount required")
	}
	negative := strings.HasPrefix(trimmed, "-")
	if negative {
		return nil, fmt.Errorf("escrow: amount must not be negative")
	}
	whole := trimmed
	frac := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole, frac = trimmed[:idx], trimmed[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("escrow: amount %q exceeds %d decimal places", value, decimals)
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	amount, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("escrow: invalid amount %q", value)
	}
	return amount, nil
}

// FormatAmount renders a base-unit amount as a decimal display-unit string,
// trimming trailing fractional zeros.
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	negative := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))
	out := whole.String()
	if frac.Sign() > 0 {
		padded := fmt.Sprintf("%0*s", int(decimals), frac.String())
		padded = strings.TrimRight(padded, "0")
		out += "." + padded
	}
	if negative {
		out = "-" + out
	}
	return out
}
