package engine

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerConditional(r registrar) {
	r.add(CategoryConditional,
		def("SUMIF", "SUMIF(range, criteria, [sum_range])", 2, 3, fnSumIf).aggregation(),
		def("COUNTIF", "COUNTIF(range, criteria)", 2, 2, fnCountIf).aggregation(),
		def("AVERAGEIF", "AVERAGEIF(range, criteria, [average_range])", 2, 3, fnAverageIf).aggregation(),
		def("SUMIFS", "SUMIFS(sum_range, criteria_range1, criteria1, ...)", 3, -1, multiCriteria(reduceSum)).aggregation(),
		def("AVERAGEIFS", "AVERAGEIFS(average_range, criteria_range1, criteria1, ...)", 3, -1, multiCriteria(reduceAverage)).aggregation(),
		def("MAXIFS", "MAXIFS(max_range, criteria_range1, criteria1, ...)", 3, -1, multiCriteria(reduceMax)).aggregation(),
		def("MINIFS", "MINIFS(min_range, criteria_range1, criteria1, ...)", 3, -1, multiCriteria(reduceMin)).aggregation(),
		def("COUNTIFS", "COUNTIFS(criteria_range1, criteria1, ...)", 2, -1, fnCountIfs).aggregation(),
	)
}

// criterion is a parsed criteria string such as ">=100" or "<>north".
type criterion struct {
	op      string
	operand string
	value   formula.Value
}

func parseCriterion(v formula.Value) criterion {
	text := v.AsText()
	for _, op := range []string{">=", "<=", "<>", "!=", ">", "<", "="} {
		if rest, ok := strings.CutPrefix(text, op); ok {
			if op == "!=" {
				op = "<>"
			}
			return criterion{op: op, operand: strings.TrimSpace(rest), value: v}
		}
	}
	return criterion{value: v}
}

func (cr criterion) matches(v formula.Value) bool {
	if cr.op == "" {
		a, aok := v.AsNumber()
		b, bok := cr.value.AsNumber()
		if aok && bok && !v.IsArray() {
			return math.Abs(a-b) < 1e-10
		}
		return strings.EqualFold(v.AsText(), cr.value.AsText())
	}

	c, err := strconv.ParseFloat(cr.operand, 64)
	n, nok := v.AsNumber()
	numeric := err == nil && nok
	switch cr.op {
	case ">=":
		return numeric && n >= c
	case "<=":
		return numeric && n <= c
	case ">":
		return numeric && n > c
	case "<":
		return numeric && n < c
	case "<>":
		if numeric {
			return math.Abs(n-c) > 1e-10
		}
		return !strings.EqualFold(v.AsText(), cr.operand)
	}
	// "="
	if numeric {
		return math.Abs(n-c) < 1e-10
	}
	return strings.EqualFold(v.AsText(), cr.operand)
}

func fnSumIf(c *Call) (formula.Value, error) {
	picked, err := singleCriterion(c)
	if err != nil {
		return formula.Null, err
	}
	return formula.Number(sum(picked)), nil
}

func fnAverageIf(c *Call) (formula.Value, error) {
	picked, err := singleCriterion(c)
	if err != nil {
		return formula.Null, err
	}
	if len(picked) == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeDiv0, "no matching values")
	}
	return formula.Number(mean(picked)), nil
}

// singleCriterion returns the numbers of the target range (or the range
// itself) at positions where the range matches the criteria.
func singleCriterion(c *Call) ([]float64, error) {
	rng, err := c.WholeValues(0)
	if err != nil {
		return nil, err
	}
	crit, err := c.Eval(1)
	if err != nil {
		return nil, err
	}
	target := rng
	if c.Has(2) {
		if target, err = c.WholeValues(2); err != nil {
			return nil, err
		}
	}
	cr := parseCriterion(crit)
	var picked []float64
	for i, v := range rng {
		if i >= len(target) || !cr.matches(v) {
			continue
		}
		if n, ok := target[i].AsNumber(); ok {
			picked = append(picked, n)
		}
	}
	return picked, nil
}

func fnCountIf(c *Call) (formula.Value, error) {
	rng, err := c.WholeValues(0)
	if err != nil {
		return formula.Null, err
	}
	crit, err := c.Eval(1)
	if err != nil {
		return formula.Null, err
	}
	cr := parseCriterion(crit)
	count := 0
	for _, v := range rng {
		if cr.matches(v) {
			count++
		}
	}
	return formula.Number(float64(count)), nil
}

// applyCriteria narrows mask using (range, criteria) argument pairs
// starting at argument from.
func applyCriteria(c *Call, from int, mask []bool) error {
	for i := from; i+1 < len(c.Args); i += 2 {
		rng, err := c.WholeValues(i)
		if err != nil {
			return err
		}
		crit, err := c.Eval(i + 1)
		if err != nil {
			return err
		}
		cr := parseCriterion(crit)
		for j, v := range rng {
			if j < len(mask) && !cr.matches(v) {
				mask[j] = false
			}
		}
	}
	return nil
}

func fnCountIfs(c *Call) (formula.Value, error) {
	if len(c.Args)%2 != 0 {
		return formula.Null, c.errorf(formula.ErrorCodeArity, "requires criteria_range1, criteria1, ...")
	}
	first, err := c.WholeValues(0)
	if err != nil {
		return formula.Null, err
	}
	mask := make([]bool, len(first))
	for i := range mask {
		mask[i] = true
	}
	if err := applyCriteria(c, 0, mask); err != nil {
		return formula.Null, err
	}
	count := 0
	for _, m := range mask {
		if m {
			count++
		}
	}
	return formula.Number(float64(count)), nil
}

type reducer func(c *Call, xs []float64) (formula.Value, error)

func reduceSum(_ *Call, xs []float64) (formula.Value, error) {
	return formula.Number(sum(xs)), nil
}

func reduceAverage(c *Call, xs []float64) (formula.Value, error) {
	if len(xs) == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeDiv0, "no matching values")
	}
	return formula.Number(mean(xs)), nil
}

func reduceMax(_ *Call, xs []float64) (formula.Value, error) {
	if len(xs) == 0 {
		return formula.Number(0), nil
	}
	return formula.Number(slices.Max(xs)), nil
}

func reduceMin(_ *Call, xs []float64) (formula.Value, error) {
	if len(xs) == 0 {
		return formula.Number(0), nil
	}
	return formula.Number(slices.Min(xs)), nil
}

// multiCriteria handles the *IFS family whose first argument is the
// target range.
func multiCriteria(reduce reducer) Handler {
	return func(c *Call) (formula.Value, error) {
		if len(c.Args)%2 == 0 {
			return formula.Null, c.errorf(formula.ErrorCodeArity, "requires target_range, criteria_range1, criteria1, ...")
		}
		target, err := c.WholeValues(0)
		if err != nil {
			return formula.Null, err
		}
		mask := make([]bool, len(target))
		for i := range mask {
			mask[i] = true
		}
		if err := applyCriteria(c, 1, mask); err != nil {
			return formula.Null, err
		}
		var picked []float64
		for i, v := range target {
			if !mask[i] {
				continue
			}
			if n, ok := v.AsNumber(); ok {
				picked = append(picked, n)
			}
		}
		return reduce(c, picked)
	}
}
