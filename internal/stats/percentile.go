package stats

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Percentile computes the linear-interpolated p-th percentile of values,
// with p in [0,100]. The input slice is not modified.
//
// ok is false when values is empty, meaning no percentile can be derived
// and callers must treat the result as "no constraint".
func Percentile(values []decimal.Decimal, p float64) (decimal.Decimal, bool) {
	if len(values) == 0 {
		return decimal.Decimal{}, false
	}

	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})

	k := float64(len(sorted)-1) * (p / 100.0)
	floor := int(math.Floor(k))
	ceil := int(math.Ceil(k))
	if floor == ceil {
		return sorted[floor], true
	}

	frac := decimal.NewFromFloat(k - float64(floor))
	lower := sorted[floor]
	upper := sorted[ceil]
	return lower.Add(upper.Sub(lower).Mul(frac)), true
}
