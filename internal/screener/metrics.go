package screener

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"marketscan/internal/field"
	"marketscan/internal/yahoo"
)

// Breakeven is the rise the underlying needs for a call bought at last
// with the given strike to break even at expiration: (last+strike)/price - 1.
func Breakeven(last, strike, price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("breakeven: price must be positive, got %v", price)
	}
	p := decimal.NewFromFloat(price)
	cost := decimal.NewFromFloat(last).Add(decimal.NewFromFloat(strike))
	return cost.Div(p).Sub(decimal.NewFromInt(1)).InexactFloat64(), nil
}

// Upside is target/price - 1, absent when either side is missing.
func Upside(target field.Opt[float64], price float64) field.Opt[float64] {
	t, ok := target.Get()
	if !ok || price <= 0 {
		return field.None[float64]()
	}
	return field.Some(decimal.NewFromFloat(t).Div(decimal.NewFromFloat(price)).Sub(decimal.NewFromInt(1)).InexactFloat64())
}

// Attractive reports whether both the 52-week-high upside and the analyst
// target upside exceed the breakeven rise. A missing upside is never
// attractive.
func Attractive(highUpside, targetUpside field.Opt[float64], breakeven float64) bool {
	h, t, ok := field.Both(highUpside, targetUpside)
	return ok && h > breakeven && t > breakeven
}

// ClosestCall returns the call whose strike is nearest price. Ties go to the
// lower strike.
func ClosestCall(calls []yahoo.Contract, price float64) (yahoo.Contract, bool) {
	var (
		best     yahoo.Contract
		bestDiff = math.Inf(1)
		found    bool
	)
	for _, c := range calls {
		diff := math.Abs(c.Strike - price)
		if diff < bestDiff || (diff == bestDiff && c.Strike < best.Strike) {
			best, bestDiff, found = c, diff, true
		}
	}
	return best, found
}

// StrikeBand returns the inclusive strike range [lower*price, upper*price].
func StrikeBand(price, lower, upper float64) (decimal.Decimal, decimal.Decimal) {
	p := decimal.NewFromFloat(price)
	return p.Mul(decimal.NewFromFloat(lower)), p.Mul(decimal.NewFromFloat(upper))
}

// InBand reports whether strike lies within [lo, hi].
func InBand(strike float64, lo, hi decimal.Decimal) bool {
	s := decimal.NewFromFloat(strike)
	return s.GreaterThanOrEqual(lo) && s.LessThanOrEqual(hi)
}

// FormatMarketCap renders a capitalization as "x.x B", "x.x M" or a
// digit-grouped integer.
func FormatMarketCap(v float64) string {
	switch {
	case v >= 1_000_000_000:
		return fmt.Sprintf("%.1f B", v/1_000_000_000)
	case v >= 1_000_000:
		return fmt.Sprintf("%.1f M", v/1_000_000)
	default:
		return groupDigits(int64(math.Round(v)))
	}
}

func groupDigits(n int64) string {
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	s := fmt.Sprintf("%d", n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return sign + s
}

// Percent renders a fraction as a percentage with prec decimals, or "N/A".
func Percent(o field.Opt[float64], prec int) field.Opt[string] {
	return field.Map(o, func(v float64) string {
		return fmt.Sprintf("%.*f%%", prec, v*100)
	})
}
