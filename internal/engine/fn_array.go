package engine

import (
	"math"
	"slices"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerArray(r registrar) {
	r.add(CategoryArray,
		def("UNIQUE", "UNIQUE(array)", 1, 1, fnUnique),
		def("FILTER", "FILTER(array, include)", 2, 2, fnFilter),
		def("SORT", "SORT(array, [sort_order])", 1, 2, fnSort),
		def("SEQUENCE", "SEQUENCE(rows, [columns], [start], [step])", 1, 4, fnSequence),
		def("RANDARRAY", "RANDARRAY([rows], [columns], [min], [max], [whole_number])", 0, 5, fnRandArray).volatile(),
	)
}

// fnUnique keeps the first occurrence of each value, compared by text.
func fnUnique(c *Call) (formula.Value, error) {
	values, err := c.WholeValues(0)
	if err != nil {
		return formula.Null, err
	}
	seen := make(map[string]bool, len(values))
	var out []formula.Value
	for _, v := range values {
		key := v.AsText()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return formula.Array(out), nil
}

func fnFilter(c *Call) (formula.Value, error) {
	data, err := c.WholeValues(0)
	if err != nil {
		return formula.Null, err
	}
	include, err := c.WholeValues(1)
	if err != nil {
		return formula.Null, err
	}
	if len(data) != len(include) {
		return formula.Null, c.errorf(formula.ErrorCodeValue,
			"array (%d) and include (%d) must have same length", len(data), len(include))
	}
	out := []formula.Value{}
	for i, v := range data {
		if include[i].IsTruthy() {
			out = append(out, v)
		}
	}
	return formula.Array(out), nil
}

// fnSort sorts the numbers of its first argument, descending when
// sort_order is negative.
func fnSort(c *Call) (formula.Value, error) {
	xs, err := c.ArrayNumbers(0)
	if err != nil {
		return formula.Null, err
	}
	order, err := c.NumberOr(1, 1)
	if err != nil {
		return formula.Null, err
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	if order < 0 {
		slices.Reverse(sorted)
	}
	return formula.Numbers(sorted...), nil
}

// maxGenerated bounds SEQUENCE and RANDARRAY output.
const maxGenerated = 1 << 20

func (c *Call) dimensions(rowsArg, colsArg int) (int, error) {
	rows, err := c.IntOr(rowsArg, 1)
	if err != nil {
		return 0, err
	}
	cols, err := c.IntOr(colsArg, 1)
	if err != nil {
		return 0, err
	}
	if rows < 0 || cols < 0 {
		return 0, c.errorf(formula.ErrorCodeValue, "rows and columns must not be negative")
	}
	if rows > 0 && cols > maxGenerated/rows {
		return 0, c.errorf(formula.ErrorCodeNum, "at most %d values can be generated", maxGenerated)
	}
	return rows * cols, nil
}

func fnSequence(c *Call) (formula.Value, error) {
	total, err := c.dimensions(0, 1)
	if err != nil {
		return formula.Null, err
	}
	start, err := c.NumberOr(2, 1)
	if err != nil {
		return formula.Null, err
	}
	step, err := c.NumberOr(3, 1)
	if err != nil {
		return formula.Null, err
	}
	out := make([]float64, total)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return formula.Numbers(out...), nil
}

func fnRandArray(c *Call) (formula.Value, error) {
	total, err := c.dimensions(0, 1)
	if err != nil {
		return formula.Null, err
	}
	lo, err := c.NumberOr(2, 0)
	if err != nil {
		return formula.Null, err
	}
	hi, err := c.NumberOr(3, 1)
	if err != nil {
		return formula.Null, err
	}
	whole, err := c.BoolOr(4, false)
	if err != nil {
		return formula.Null, err
	}
	if hi < lo {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "max must be greater than or equal to min")
	}
	rng := c.RNG()
	out := make([]float64, total)
	for i := range out {
		if whole {
			lo, hi := math.Floor(lo), math.Floor(hi)
			out[i] = lo + math.Floor(rng.Float64()*(hi-lo+1))
			continue
		}
		out[i] = lo + rng.Float64()*(hi-lo)
	}
	return formula.Numbers(out...), nil
}
