package engine

import (
	"testing"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func salesTable(tc *ModelTestCase) *ModelTestCase {
	return tc.
		AddValues("sales", "region",
			formula.Text("north"), formula.Text("south"), formula.Text("north"), formula.Text("east"), formula.Text("North")).
		AddColumn("sales", "amount", 100, 250, 50, 300, 120).
		AddColumn("sales", "units", 1, 5, 2, 6, 3)
}

func TestAggregationFunctions(t *testing.T) {
	NewModelTestCase(t, "Basic aggregations").
		AddColumn("t", "v", 1, 2, 3, 4).
		SetFormula("sum", "=SUM(t.v)").
		SetFormula("sum_args", "=SUM(1, 2, 3)").
		SetFormula("sum_mixed", "=SUM(t.v, 10)").
		SetFormula("avg", "=AVERAGE(t.v)").
		SetFormula("avg_alias", "=AVG(t.v)").
		SetFormula("min", "=MIN(t.v)").
		SetFormula("max", "=MAX(t.v, 7)").
		SetFormula("count", "=COUNT(t.v)").
		SetFormula("median", "=MEDIAN(t.v)").
		SetFormula("median_odd", "=MEDIAN(1, 3, 2)").
		SetFormula("product", "=PRODUCT(2, 3, 4)").
		SetFormula("large", "=LARGE(t.v, 1)").
		SetFormula("small", "=SMALL(t.v, 2)").
		SetFormula("rank", "=RANK(3, t.v)").
		SetFormula("rank_asc", "=RANK.EQ(3, t.v, 1)").
		Run().
		AssertScalarEq("sum", 10).
		AssertScalarEq("sum_args", 6).
		AssertScalarEq("sum_mixed", 20).
		AssertScalarEq("avg", 2.5).
		AssertScalarEq("avg_alias", 2.5).
		AssertScalarEq("min", 1).
		AssertScalarEq("max", 7).
		AssertScalarEq("count", 4).
		AssertScalarEq("median", 2.5).
		AssertScalarEq("median_odd", 2).
		AssertScalarEq("product", 24).
		AssertScalarEq("large", 4).
		AssertScalarEq("small", 2).
		AssertScalarEq("rank", 2).
		AssertScalarEq("rank_asc", 3).
		End()

	NewModelTestCase(t, "Counting text").
		AddValues("t", "name", formula.Text("a"), formula.Text("b"), formula.Text("a"), formula.Null).
		SetFormula("counta", "=COUNTA(t.name)").
		SetFormula("count", "=COUNT(t.name)").
		SetFormula("unique", "=COUNTUNIQUE(t.name)").
		Run().
		AssertScalarEq("counta", 3).
		AssertScalarEq("count", 0).
		AssertScalarEq("unique", 3).
		End()

	NewModelTestCase(t, "PRODUCT works per row").
		AddColumn("t", "a", 1, 2, 3).
		AddColumn("t", "b", 4, 5, 6).
		AddRowFormula("t", "p", "=PRODUCT(a, b)").
		Run().
		AssertColumnEq("t", "p", 4, 10, 18).
		End()

	t.Run("Errors", func(t *testing.T) {
		NewModelTestCase(t, "AVERAGE of no numbers").
			AddValues("t", "name", formula.Text("a")).
			SetFormula("x", "=AVERAGE(t.name)").
			Run().
			AssertErrCode(formula.ErrorCodeDiv0).
			End()
		NewModelTestCase(t, "RANK of a missing value").
			AddColumn("t", "v", 1, 2).
			SetFormula("x", "=RANK(9, t.v)").
			Run().
			AssertErrCode(formula.ErrorCodeNA).
			End()
		NewModelTestCase(t, "LARGE k out of range").
			AddColumn("t", "v", 1, 2).
			SetFormula("x", "=LARGE(t.v, 3)").
			Run().
			AssertErrCode(formula.ErrorCodeNum).
			AssertErrContains("LARGE: k must be between 1 and 2, got 3").
			End()
	})
}

func TestStatisticalFunctions(t *testing.T) {
	NewModelTestCase(t, "Dispersion").
		AddColumn("t", "v", 2, 4, 4, 4, 5, 5, 7, 9).
		SetFormula("var_s", "=VAR.S(t.v)").
		SetFormula("var", "=VAR(t.v)").
		SetFormula("var_p", "=VAR.P(t.v)").
		SetFormula("varp", "=VARP(t.v)").
		SetFormula("stdev_p", "=STDEV.P(t.v)").
		SetFormula("stdevp", "=STDEVP(t.v)").
		SetFormula("stdev_s", "=STDEV.S(t.v) ^ 2").
		Run().
		AssertScalarEq("var_s", 32.0/7).
		AssertScalarEq("var", 32.0/7).
		AssertScalarEq("var_p", 4).
		AssertScalarEq("varp", 4).
		AssertScalarEq("stdev_p", 2).
		AssertScalarEq("stdevp", 2).
		AssertScalarNear("stdev_s", 32.0/7, 1e-9).
		End()

	NewModelTestCase(t, "Percentiles and correlation").
		AddColumn("t", "v", 4, 1, 3, 2).
		AddColumn("t", "w", 8, 2, 6, 4).
		AddColumn("t", "z", -4, -1, -3, -2).
		SetFormula("p50", "=PERCENTILE(t.v, 0.5)").
		SetFormula("p0", "=PERCENTILE(t.v, 0)").
		SetFormula("q1", "=QUARTILE(t.v, 1)").
		SetFormula("q4", "=QUARTILE(t.v, 4)").
		SetFormula("r", "=CORREL(t.v, t.w)").
		SetFormula("r_neg", "=CORREL(t.v, t.z)").
		Run().
		AssertScalarEq("p50", 2.5).
		AssertScalarEq("p0", 1).
		AssertScalarEq("q1", 1.75).
		AssertScalarEq("q4", 4).
		AssertScalarEq("r", 1).
		AssertScalarEq("r_neg", -1).
		End()

	t.Run("Errors", func(t *testing.T) {
		scalarErr(t, "=VAR.S(1)", formula.ErrorCodeDiv0)
		scalarErr(t, "=PERCENTILE(1, 1.5)", formula.ErrorCodeNum)
		scalarErr(t, "=QUARTILE(1, 5)", formula.ErrorCodeNum)
		NewModelTestCase(t, "CORREL of unequal arrays").
			AddColumn("a", "v", 1, 2, 3).
			AddColumn("b", "v", 1, 2).
			SetFormula("x", "=CORREL(a.v, b.v)").
			Run().
			AssertErrCode(formula.ErrorCodeNA).
			End()
		NewModelTestCase(t, "STDEV in a row formula").
			AddColumn("t", "v", 1, 2).
			AddRowFormula("t", "s", "=STDEV(v)").
			Run().
			AssertErrContains("aggregation function STDEV").
			End()
	})
}

func TestConditionalAggregations(t *testing.T) {
	salesTable(NewModelTestCase(t, "Single criterion")).
		SetFormula("north", `=SUMIF(sales.region, "north", sales.amount)`).
		SetFormula("big", `=SUMIF(sales.amount, ">100")`).
		SetFormula("count_big", `=COUNTIF(sales.amount, ">=120")`).
		SetFormula("count_not_north", `=COUNTIF(sales.region, "<>north")`).
		SetFormula("count_exact", `=COUNTIF(sales.amount, 50)`).
		SetFormula("avg_north", `=AVERAGEIF(sales.region, "north", sales.amount)`).
		Run().
		AssertScalarEq("north", 270).
		AssertScalarEq("big", 670).
		AssertScalarEq("count_big", 3).
		AssertScalarEq("count_not_north", 2).
		AssertScalarEq("count_exact", 1).
		AssertScalarEq("avg_north", 90).
		End()

	salesTable(NewModelTestCase(t, "Multiple criteria")).
		SetScalar("threshold", 100).
		SetFormula("sumifs", `=SUMIFS(sales.amount, sales.region, "north", sales.amount, ">=100")`).
		SetFormula("countifs", `=COUNTIFS(sales.region, "north", sales.units, ">1")`).
		SetFormula("averageifs", `=AVERAGEIFS(sales.units, sales.amount, ">" & threshold)`).
		SetFormula("maxifs", `=MAXIFS(sales.amount, sales.region, "north")`).
		SetFormula("minifs", `=MINIFS(sales.amount, sales.units, "<=3")`).
		SetFormula("maxifs_none", `=MAXIFS(sales.amount, sales.region, "west")`).
		Run().
		AssertScalarEq("sumifs", 220).
		AssertScalarEq("countifs", 2).
		AssertScalarEq("averageifs", 14.0/3).
		AssertScalarEq("maxifs", 120).
		AssertScalarEq("minifs", 50).
		AssertScalarEq("maxifs_none", 0).
		End()

	t.Run("Errors", func(t *testing.T) {
		salesTable(NewModelTestCase(t, "AVERAGEIF without matches")).
			SetFormula("x", `=AVERAGEIF(sales.region, "west", sales.amount)`).
			Run().
			AssertErrCode(formula.ErrorCodeDiv0).
			End()
		salesTable(NewModelTestCase(t, "SUMIFS with a dangling range")).
			SetFormula("x", `=SUMIFS(sales.amount, sales.region, "north", sales.units)`).
			Run().
			AssertErrCode(formula.ErrorCodeArity).
			End()
	})
}
