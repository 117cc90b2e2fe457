package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
	"github.com/ggonzalez94/bridgectl/internal/route"
)

var decimalAmountPattern = regexp.MustCompile(`^([0-9]+)(?:\.([0-9]+))?$`)

// NormalizeAmount resolves the --amount / --amount-decimal pair into a
// decimal base-unit string and its human readable form.
func NormalizeAmount(baseUnits, decimal string, decimals int) (string, string, error) {
	amount, err := ParseAmount(baseUnits, decimal, decimals)
	if err != nil {
		return "", "", err
	}
	return amount.String(), FormatUnits(amount, decimals), nil
}

// ParseAmount accepts exactly one of baseUnits (decimal or 0x hex) and a
// decimal token amount scaled by decimals.
func ParseAmount(baseUnits, decimal string, decimals int) (*big.Int, error) {
	baseUnits = strings.TrimSpace(baseUnits)
	decimal = strings.TrimSpace(decimal)
	switch {
	case baseUnits != "" && decimal != "":
		return nil, clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	case baseUnits == "" && decimal == "":
		return nil, clierr.New(clierr.CodeUsage, "amount is required")
	case decimals < 0:
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		if strings.HasPrefix(baseUnits, "-") {
			return nil, clierr.New(clierr.CodeUsage, "--amount must be non-negative")
		}
		amount, err := route.ParseBaseUnits(baseUnits)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "--amount must be an integer in decimal or 0x hex form", err)
		}
		return amount, nil
	}
	return scaleDecimal(decimal, decimals)
}

func scaleDecimal(decimal string, decimals int) (*big.Int, error) {
	m := decimalAmountPattern.FindStringSubmatch(decimal)
	if m == nil {
		return nil, clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	whole, frac := m[1], m[2]
	if len(frac) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	amount, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return amount, nil
}

// FormatDecimalCompat renders a provider base-unit string. Unparseable input
// renders as "0".
func FormatDecimalCompat(baseUnits string, decimals int) string {
	amount, err := route.ParseBaseUnits(baseUnits)
	if err != nil {
		return "0"
	}
	return FormatUnits(amount, decimals)
}

// FormatUnits renders a base-unit amount with the given decimals, trimming
// trailing fractional zeros.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	if decimals <= 0 {
		return amount.String()
	}
	sign := ""
	abs := new(big.Int).Set(amount)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, rem := new(big.Int).QuoRem(abs, scale, new(big.Int))
	if rem.Sign() == 0 {
		return sign + whole.String()
	}
	frac := rem.String()
	frac = strings.Repeat("0", decimals-len(frac)) + frac
	return sign + whole.String() + "." + strings.TrimRight(frac, "0")
}
