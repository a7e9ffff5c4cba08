package engine

import (
	"math"
	"testing"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func TestMathFunctions(t *testing.T) {
	cases := []struct {
		formula string
		want    float64
	}{
		{"=ABS(-4.5)", 4.5},
		{"=SQRT(16)", 4},
		{"=ROUND(3.14159, 2)", 3.14},
		{"=ROUND(2.5)", 3},
		{"=ROUND(-2.5)", -3},
		{"=ROUND(1234, -2)", 1200},
		{"=ROUNDUP(3.141, 2)", 3.15},
		{"=ROUNDUP(-3.141, 1)", -3.2},
		{"=ROUNDDOWN(3.149, 2)", 3.14},
		{"=TRUNC(-7.9)", -7},
		{"=FLOOR(7, 3)", 6},
		{"=CEILING(7, 3)", 9},
		{"=CEILING(2.1)", 3},
		{"=INT(-2.5)", -3},
		{"=SIGN(-12)", -1},
		{"=SIGN(0)", 0},
		{"=MOD(10, 3)", 1},
		{"=MOD(-5, 3)", 1},
		{"=MOD(5, -3)", -1},
		{"=POWER(2, 10)", 1024},
		{"=POW(9, 0.5)", 3},
		{"=EXP(0)", 1},
		{"=LN(E())", 1},
		{"=LOG10(1000)", 3},
		{"=LOG(8, 2)", 3},
		{"=LOG(100)", 2},
		{"=PI()", math.Pi},
		{"=DEGREES(PI())", 180},
		{"=RADIANS(180)", math.Pi},
		{"=2 ^ 3 ^ 2", 512},
		{"=-2 ^ 2", -4},
		{"=10 - 4 - 3", 3},
		{"=2 + 3 * 4", 14},
	}
	for _, tc := range cases {
		scalar(t, tc.formula, tc.want)
	}

	t.Run("Errors", func(t *testing.T) {
		scalarErr(t, "=SQRT(-1)", formula.ErrorCodeNum)
		scalarErr(t, "=LN(0)", formula.ErrorCodeNum)
		scalarErr(t, "=LOG(10, 1)", formula.ErrorCodeNum)
		scalarErr(t, "=MOD(1, 0)", formula.ErrorCodeDiv0)
		scalarErr(t, "=POWER(-8, 0.5)", formula.ErrorCodeNum)
		scalarErr(t, "=1 / 0", formula.ErrorCodeDiv0)
		scalarErr(t, `=ABS("abc")`, formula.ErrorCodeValue)
		scalarErr(t, "=ABS(1, 2)", formula.ErrorCodeArity)
	})

	t.Run("Arity message", func(t *testing.T) {
		NewModelTestCase(t, "ROUND arity").
			SetFormula("x", "=ROUND(1, 2, 3)").
			Run().
			AssertErrContains("ROUND requires 1-2 arguments, got 3").
			End()
	})

	t.Run("Elementwise", func(t *testing.T) {
		NewModelTestCase(t, "ABS of a column").
			AddColumn("t", "v", -1, 2, -3).
			SetFormula("total", "=SUM(ABS(t.v))").
			Run().
			AssertScalarEq("total", 6).
			End()

		NewModelTestCase(t, "Array arithmetic").
			AddColumn("t", "a", 1, 2, 3).
			AddColumn("t", "b", 10, 20, 30).
			SetFormula("dot", "=SUM(t.a * t.b)").
			SetFormula("scaled", "=SUM(t.a * 2)").
			Run().
			AssertScalarEq("dot", 140).
			AssertScalarEq("scaled", 12).
			End()
	})

	t.Run("Random", func(t *testing.T) {
		NewModelTestCase(t, "RAND and RANDBETWEEN use the injected source").
			SetFormula("a", "=RAND()").
			SetFormula("b", "=RANDBETWEEN(1, 4)").
			Run().
			AssertScalarFn("a", func(v formula.Value, t *testing.T) {
				if v.Float() < 0 || v.Float() >= 1 {
					t.Errorf("RAND() = %v out of range", v.Float())
				}
			}).
			AssertScalarFn("b", func(v formula.Value, t *testing.T) {
				if n := v.Float(); n < 1 || n > 4 || n != math.Trunc(n) {
					t.Errorf("RANDBETWEEN(1, 4) = %v", n)
				}
			}).
			End()
		scalarErr(t, "=RANDBETWEEN(5, 1)", formula.ErrorCodeNum)
	})
}

func TestTrigFunctions(t *testing.T) {
	cases := []struct {
		formula string
		want    float64
	}{
		{"=SIN(0)", 0},
		{"=COS(0)", 1},
		{"=TAN(0)", 0},
		{"=ASIN(1)", math.Pi / 2},
		{"=ACOS(1)", 0},
		{"=ATAN(1)", math.Pi / 4},
		{"=SINH(0)", 0},
		{"=COSH(0)", 1},
		{"=TANH(0)", 0},
	}
	for _, tc := range cases {
		scalar(t, tc.formula, tc.want)
	}
	scalarErr(t, "=ASIN(2)", formula.ErrorCodeNum)
	scalarErr(t, "=ACOS(-1.5)", formula.ErrorCodeNum)
}
