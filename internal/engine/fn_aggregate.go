package engine

import (
	"math"
	"slices"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerAggregation(r registrar) {
	r.add(CategoryAggregation,
		def("SUM", "SUM(value, ...)", 1, -1, fnSum).aggregation(),
		def("AVERAGE", "AVERAGE(value, ...)", 1, -1, fnAverage).aggregation(),
		def("AVG", "AVG(value, ...)", 1, -1, fnAverage).aggregation(),
		def("MIN", "MIN(value, ...)", 1, -1, fnMin).aggregation(),
		def("MAX", "MAX(value, ...)", 1, -1, fnMax).aggregation(),
		def("COUNT", "COUNT(value, ...)", 1, -1, fnCount).aggregation(),
		def("MEDIAN", "MEDIAN(value, ...)", 1, -1, fnMedian).aggregation(),
		def("COUNTA", "COUNTA(value, ...)", 1, -1, fnCountA),
		def("COUNTUNIQUE", "COUNTUNIQUE(array)", 1, 1, fnCountUnique),
		def("PRODUCT", "PRODUCT(value, ...)", 1, -1, fnProduct),
		def("LARGE", "LARGE(array, k)", 2, 2, kth(true)),
		def("SMALL", "SMALL(array, k)", 2, 2, kth(false)),
		def("RANK.EQ", "RANK.EQ(number, array, [order])", 2, 3, fnRank),
		def("RANK", "RANK(number, array, [order])", 2, 3, fnRank),
	)
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func mean(xs []float64) float64 {
	return sum(xs) / float64(len(xs))
}

func fnSum(c *Call) (formula.Value, error) {
	xs, err := c.WholeNumbers(0)
	if err != nil {
		return formula.Null, err
	}
	return formula.Number(sum(xs)), nil
}

func fnAverage(c *Call) (formula.Value, error) {
	xs, err := c.WholeNumbers(0)
	if err != nil {
		return formula.Null, err
	}
	if len(xs) == 0 {
		return formula.Null, formula.NewFormulaError(formula.ErrorCodeDiv0, "AVERAGE of empty set")
	}
	return formula.Number(mean(xs)), nil
}

func fnMin(c *Call) (formula.Value, error) {
	xs, err := c.WholeNumbers(0)
	if err != nil {
		return formula.Null, err
	}
	if len(xs) == 0 {
		return formula.Null, formula.NewFormulaError(formula.ErrorCodeNum, "MIN of empty set")
	}
	return formula.Number(slices.Min(xs)), nil
}

func fnMax(c *Call) (formula.Value, error) {
	xs, err := c.WholeNumbers(0)
	if err != nil {
		return formula.Null, err
	}
	if len(xs) == 0 {
		return formula.Null, formula.NewFormulaError(formula.ErrorCodeNum, "MAX of empty set")
	}
	return formula.Number(slices.Max(xs)), nil
}

// fnCount counts numbers: array elements that coerce, scalars that are
// numbers.
func fnCount(c *Call) (formula.Value, error) {
	count := 0
	for i := range c.Args {
		v, err := c.EvalWhole(i)
		if err != nil {
			return formula.Null, err
		}
		switch v.Kind() {
		case formula.KindArray:
			for _, e := range v.Elements() {
				if _, ok := e.AsNumber(); ok {
					count++
				}
			}
		case formula.KindNumber:
			count++
		}
	}
	return formula.Number(float64(count)), nil
}

func fnCountA(c *Call) (formula.Value, error) {
	count := 0
	for i := range c.Args {
		v, err := c.EvalWhole(i)
		if err != nil {
			return formula.Null, err
		}
		for _, e := range elementsOf(v) {
			if !e.IsNull() {
				count++
			}
		}
	}
	return formula.Number(float64(count)), nil
}

func fnCountUnique(c *Call) (formula.Value, error) {
	values, err := c.WholeValues(0)
	if err != nil {
		return formula.Null, err
	}
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v.AsText()] = struct{}{}
	}
	return formula.Number(float64(len(seen))), nil
}

// fnProduct multiplies in the caller's context, so it also works per row.
func fnProduct(c *Call) (formula.Value, error) {
	xs, err := c.Numbers(0)
	if err != nil {
		return formula.Null, err
	}
	if len(xs) == 0 {
		return formula.Number(0), nil
	}
	p := 1.0
	for _, x := range xs {
		p *= x
	}
	return formula.Number(p), nil
}

func median(xs []float64) float64 {
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func fnMedian(c *Call) (formula.Value, error) {
	xs, err := c.WholeNumbers(0)
	if err != nil {
		return formula.Null, err
	}
	if len(xs) == 0 {
		return formula.Null, formula.NewFormulaError(formula.ErrorCodeNum, "MEDIAN of empty set")
	}
	return formula.Number(median(xs)), nil
}

func kth(largest bool) Handler {
	return func(c *Call) (formula.Value, error) {
		xs, err := c.ArrayNumbers(0)
		if err != nil {
			return formula.Null, err
		}
		k, err := c.Int(1)
		if err != nil {
			return formula.Null, err
		}
		if k < 1 || k > len(xs) {
			return formula.Null, c.errorf(formula.ErrorCodeNum, "k must be between 1 and %d, got %d", len(xs), k)
		}
		sorted := slices.Clone(xs)
		slices.Sort(sorted)
		if largest {
			return formula.Number(sorted[len(sorted)-k]), nil
		}
		return formula.Number(sorted[k-1]), nil
	}
}

// fnRank ranks descending by default; a nonzero order ranks ascending.
// Ties share the best rank.
func fnRank(c *Call) (formula.Value, error) {
	x, err := c.Number(0)
	if err != nil {
		return formula.Null, err
	}
	xs, err := c.ArrayNumbers(1)
	if err != nil {
		return formula.Null, err
	}
	order, err := c.NumberOr(2, 0)
	if err != nil {
		return formula.Null, err
	}

	found := false
	rank := 1
	for _, v := range xs {
		if math.Abs(v-x) < 1e-10 {
			found = true
			continue
		}
		if (order == 0 && v > x) || (order != 0 && v < x) {
			rank++
		}
	}
	if !found {
		return formula.Null, c.errorf(formula.ErrorCodeNA, "%s not found in array", formula.FormatNumber(x))
	}
	return formula.Number(float64(rank)), nil
}
