package engine

import (
	"testing"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func TestInfoFunctions(t *testing.T) {
	cases := []struct {
		formula string
		want    any
	}{
		{`=ISBLANK("")`, true},
		{"=ISBLANK(0)", false},
		{"=ISNUMBER(1)", true},
		{`=ISNUMBER("1")`, false},
		{`=ISTEXT("a")`, true},
		{"=ISLOGICAL(TRUE)", true},
		{"=ISLOGICAL(1)", false},
		{"=ISERROR(1 / 0)", true},
		{"=ISERROR(1)", false},
		{"=ISNA(NA())", true},
		{"=ISNA(1 / 0)", false},
		{"=ISEVEN(4)", true},
		{"=ISEVEN(-3)", false},
		{"=ISODD(3)", true},
		{"=ISODD(2.5)", false},
		{"=ISREF(1)", false},
		{"=ISFORMULA(1)", false},
		{"=TYPE(1)", 1},
		{`=TYPE("a")`, 2},
		{"=TYPE(TRUE)", 4},
		{"=TYPE(1 / 0)", 16},
		{"=TYPE(SEQUENCE(3))", 64},
		{"=N(TRUE)", 1},
		{`=N("a")`, 0},
		{"=N(5)", 5},
	}
	for _, tc := range cases {
		scalar(t, tc.formula, tc.want)
	}

	NewModelTestCase(t, "ISREF on references").
		SetScalar("a", 1).
		AddColumn("t", "v", 1, 2).
		SetFormula("scalar_ref", "=ISREF(a)").
		SetFormula("column_ref", "=ISREF(t.v)").
		SetFormula("bad_index", "=ISREF(t.v[5])").
		Run().
		AssertScalarEq("scalar_ref", true).
		AssertScalarEq("column_ref", true).
		AssertScalarEq("bad_index", false).
		End()

	scalarErr(t, "=NA()", formula.ErrorCodeNA)
}

func TestArrayFunctions(t *testing.T) {
	NewModelTestCase(t, "Shaping arrays").
		AddColumn("t", "v", 3, 1, 2, 2).
		SetFormula("unique", "=SUM(UNIQUE(t.v))").
		SetFormula("unique_count", "=COUNT(UNIQUE(t.v))").
		SetFormula("filtered", "=SUM(FILTER(t.v, t.v > 1))").
		SetFormula("sorted_first", "=INDEX(SORT(t.v), 1)").
		SetFormula("sorted_desc", "=INDEX(SORT(t.v, -1), 1)").
		Run().
		AssertScalarEq("unique", 6).
		AssertScalarEq("unique_count", 3).
		AssertScalarEq("filtered", 7).
		AssertScalarEq("sorted_first", 1).
		AssertScalarEq("sorted_desc", 3).
		End()

	cases := []struct {
		formula string
		want    float64
	}{
		{"=SUM(SEQUENCE(4))", 10},
		{"=INDEX(SEQUENCE(3, 1, 10, 5), 3)", 20},
		{"=COUNT(SEQUENCE(2, 3))", 6},
		{"=SUM(RANDARRAY(3))", 1.5},
		{"=SUM(RANDARRAY(2, 1, 1, 10, TRUE))", 9},
	}
	for _, tc := range cases {
		scalar(t, tc.formula, tc.want)
	}

	t.Run("Errors", func(t *testing.T) {
		NewModelTestCase(t, "FILTER with a short mask").
			AddColumn("a", "v", 1, 2, 3).
			AddColumn("b", "keep", 1, 0).
			SetFormula("x", "=FILTER(a.v, b.keep)").
			Run().
			AssertErrCode(formula.ErrorCodeValue).
			End()
		scalarErr(t, "=SEQUENCE(-1)", formula.ErrorCodeValue)
		scalarErr(t, "=SEQUENCE(2000000)", formula.ErrorCodeNum)
		scalarErr(t, "=RANDARRAY(1, 1, 5, 1)", formula.ErrorCodeValue)
	})
}

func TestAdvancedFunctions(t *testing.T) {
	cases := []struct {
		formula string
		want    float64
	}{
		{"=LET(x, 2, y, x * 3, x + y)", 8},
		{"=LAMBDA(x, y, x * y)(3, 4)", 12},
		{"=LET(f, LAMBDA(n, n * 2), f)(5)", 10},
	}
	for _, tc := range cases {
		scalar(t, tc.formula, tc.want)
	}

	NewModelTestCase(t, "LET names shadow model scalars").
		SetScalar("price", 5).
		SetFormula("x", "=LET(price, 2, price * 10)").
		SetFormula("y", "=price * 10").
		Run().
		AssertScalarEq("x", 20).
		AssertScalarEq("y", 50).
		End()

	NewModelTestCase(t, "LET per row").
		AddColumn("t", "v", 1, 2, 3).
		AddRowFormula("t", "w", "=LET(d, v * 2, d + 1)").
		Run().
		AssertColumnEq("t", "w", 3, 5, 7).
		End()

	t.Run("Errors", func(t *testing.T) {
		scalarErr(t, "=LET(1, 2, 3)", formula.ErrorCodeValue)
		scalarErr(t, "=LET(x, 1, y, 2)", formula.ErrorCodeArity)
		scalarErr(t, "=LAMBDA(x, x)(1, 2)", formula.ErrorCodeArity)
		scalarErr(t, "=LAMBDA(1, 2)(3)", formula.ErrorCodeValue)
	})
}

func TestForgeFunctions(t *testing.T) {
	cases := []struct {
		formula string
		want    float64
	}{
		{"=VARIANCE(120, 100)", 20},
		{"=VARIANCE_PCT(120, 100)", 0.2},
		{"=VARIANCE_STATUS(120, 100)", 1},
		{"=VARIANCE_STATUS(100.5, 100)", 0},
		{"=VARIANCE_STATUS(80, 100)", -1},
		{`=VARIANCE_STATUS(120, 100, "cost")`, -1},
		{`=VARIANCE_STATUS(80, 100, "Cost")`, 1},
		{"=VARIANCE_STATUS(105, 100, 0.1)", 0},
		{"=VARIANCE_STATUS(5, 0)", 1},
		{"=BREAKEVEN_UNITS(50000, 50, 30)", 2500},
		{"=BREAKEVEN_REVENUE(50000, 0.4)", 125000},
	}
	for _, tc := range cases {
		scalar(t, tc.formula, tc.want)
	}

	NewModelTestCase(t, "Variance per row").
		AddColumn("pl", "actual", 110, 90).
		AddColumn("pl", "budget", 100, 100).
		AddRowFormula("pl", "status", "=VARIANCE_STATUS(actual, budget)").
		AddRowFormula("pl", "pct", "=VARIANCE_PCT(actual, budget)").
		Run().
		AssertColumnEq("pl", "status", 1, -1).
		AssertColumnEq("pl", "pct", 0.1, -0.1).
		End()

	t.Run("Errors", func(t *testing.T) {
		scalarErr(t, "=VARIANCE_PCT(1, 0)", formula.ErrorCodeDiv0)
		scalarErr(t, "=BREAKEVEN_UNITS(1, 10, 10)", formula.ErrorCodeNum)
		scalarErr(t, "=BREAKEVEN_REVENUE(1, 1.5)", formula.ErrorCodeNum)
		scalarErr(t, "=BREAKEVEN_REVENUE(1, 0)", formula.ErrorCodeNum)
	})
}
