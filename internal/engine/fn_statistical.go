package engine

import (
	"math"
	"slices"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerStatistical(r registrar) {
	r.add(CategoryStatistical,
		def("VAR", "VAR(value, ...)", 1, -1, variance(true, false)).aggregation(),
		def("VAR.S", "VAR.S(value, ...)", 1, -1, variance(true, false)).aggregation(),
		def("VAR.P", "VAR.P(value, ...)", 1, -1, variance(false, false)).aggregation(),
		def("VARP", "VARP(value, ...)", 1, -1, variance(false, false)).aggregation(),
		def("STDEV", "STDEV(value, ...)", 1, -1, variance(true, true)).aggregation(),
		def("STDEV.S", "STDEV.S(value, ...)", 1, -1, variance(true, true)).aggregation(),
		def("STDEV.P", "STDEV.P(value, ...)", 1, -1, variance(false, true)).aggregation(),
		def("STDEVP", "STDEVP(value, ...)", 1, -1, variance(false, true)).aggregation(),
		def("PERCENTILE", "PERCENTILE(array, k)", 2, 2, fnPercentile).aggregation(),
		def("QUARTILE", "QUARTILE(array, quart)", 2, 2, fnQuartile).aggregation(),
		def("CORREL", "CORREL(array1, array2)", 2, 2, fnCorrel).aggregation(),
	)
}

// variance computes the sample (n-1) or population (n) variance, or its
// square root.
func variance(sample, sqrt bool) Handler {
	return func(c *Call) (formula.Value, error) {
		xs, err := c.WholeNumbers(0)
		if err != nil {
			return formula.Null, err
		}
		need, denom := 1, float64(len(xs))
		if sample {
			need, denom = 2, float64(len(xs)-1)
		}
		if len(xs) < need {
			return formula.Null, c.errorf(formula.ErrorCodeDiv0, "requires at least %d values", need)
		}
		m := mean(xs)
		ss := 0.0
		for _, x := range xs {
			ss += (x - m) * (x - m)
		}
		v := ss / denom
		if sqrt {
			v = math.Sqrt(v)
		}
		return formula.Number(v), nil
	}
}

// interpolate returns the k-th (0..1) percentile of sorted by linear
// interpolation between closest ranks.
func interpolate(sorted []float64, k float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := k * float64(len(sorted)-1)
	lower, upper := int(math.Floor(pos)), int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func fnPercentile(c *Call) (formula.Value, error) {
	xs, err := c.ArrayNumbers(0)
	if err != nil {
		return formula.Null, err
	}
	if len(xs) == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "empty set")
	}
	k, err := c.Number(1)
	if err != nil {
		return formula.Null, err
	}
	if k < 0 || k > 1 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "k must be between 0 and 1")
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	return formula.Number(interpolate(sorted, k)), nil
}

func fnQuartile(c *Call) (formula.Value, error) {
	xs, err := c.ArrayNumbers(0)
	if err != nil {
		return formula.Null, err
	}
	if len(xs) == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "empty set")
	}
	q, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	if q < 0 || q > 4 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "quart must be 0, 1, 2, 3, or 4")
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	return formula.Number(interpolate(sorted, float64(q)/4)), nil
}

func fnCorrel(c *Call) (formula.Value, error) {
	xs, err := c.ArrayNumbers(0)
	if err != nil {
		return formula.Null, err
	}
	ys, err := c.ArrayNumbers(1)
	if err != nil {
		return formula.Null, err
	}
	if len(xs) != len(ys) || len(xs) < 2 {
		return formula.Null, c.errorf(formula.ErrorCodeNA, "requires two arrays of equal length >= 2")
	}
	mx, my := mean(xs), mean(ys)
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeDiv0, "zero variance")
	}
	return formula.Number(cov / (math.Sqrt(vx) * math.Sqrt(vy))), nil
}
