package engine

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mollendorff-ai/forge/internal/ctxlog"
	"github.com/mollendorff-ai/forge/internal/formula"
	"github.com/mollendorff-ai/forge/internal/model"
)

func TestScalarChains(t *testing.T) {
	NewModelTestCase(t, "Forward references").
		SetFormula("profit", "=revenue - costs").
		SetFormula("revenue", "=price * units").
		SetScalar("price", 25).
		SetScalar("units", 400).
		SetScalar("costs", 6000).
		Run().
		AssertScalarEq("revenue", 10000).
		AssertScalarEq("profit", 4000).
		End()

	NewModelTestCase(t, "Formula replaces static value").
		SetScalar("base", 2).
		SetFormula("doubled", "=base * 2").
		Run().
		AssertScalarEq("doubled", 4).
		End()

	NewModelTestCase(t, "Formula without equals sign").
		SetFormula("x", "1 + 2").
		Run().
		AssertScalarEq("x", 3).
		End()

	NewModelTestCase(t, "Section scalars").
		SetScalar("thresholds.min", 5).
		SetFormula("check", "=thresholds.min * 2").
		Run().
		AssertScalarEq("check", 10).
		End()
}

func TestRowFormulas(t *testing.T) {
	NewModelTestCase(t, "Row formula over two columns").
		AddColumn("pl", "revenue", 100, 200, 300).
		AddColumn("pl", "costs", 60, 120, 150).
		AddRowFormula("pl", "profit", "=revenue - costs").
		AddRowFormula("pl", "margin", "=profit / revenue").
		Run().
		AssertColumnEq("pl", "profit", 40, 80, 150).
		AssertColumnEq("pl", "margin", 0.4, 0.4, 0.5).
		End()

	NewModelTestCase(t, "Row formula mixes scalar and qualified column").
		SetScalar("tax_rate", 0.25).
		AddColumn("pl", "income", 100, 200).
		AddRowFormula("pl", "tax", "=pl.income * tax_rate").
		Run().
		AssertColumnEq("pl", "tax", 25, 50).
		End()

	NewModelTestCase(t, "Cross table row reference").
		AddColumn("prices", "unit", 2, 3, 4).
		AddColumn("sales", "units", 10, 20, 30).
		AddRowFormula("sales", "revenue", "=units * prices.unit").
		Run().
		AssertColumnEq("sales", "revenue", 20, 60, 120).
		End()

	NewModelTestCase(t, "Scalar aggregates a computed column").
		AddColumn("pl", "revenue", 100, 200, 300).
		AddRowFormula("pl", "doubled", "=revenue * 2").
		SetFormula("total", "=SUM(pl.doubled)").
		Run().
		AssertScalarEq("total", 1200).
		End()

	NewModelTestCase(t, "Indexed reference").
		AddColumn("pl", "revenue", 100, 200, 300).
		SetFormula("last", "=pl.revenue[2]").
		SetFormula("first", "=pl.revenue[0]").
		Run().
		AssertScalarEq("last", 300).
		AssertScalarEq("first", 100).
		End()

	NewModelTestCase(t, "Text row formula").
		AddValues("people", "name", formula.Text("ada"), formula.Text("alan")).
		AddRowFormula("people", "upper", "=UPPER(name)").
		Run().
		AssertColumnEq("people", "upper", "ADA", "ALAN").
		End()

	NewModelTestCase(t, "Boolean row formula").
		AddColumn("t", "v", 1, 5, 10).
		AddRowFormula("t", "big", "=v > 4").
		Run().
		AssertColumnEq("t", "big", false, true, true).
		End()

	NewModelTestCase(t, "Mixed kinds in a computed column").
		AddColumn("t", "v", 1, 5).
		AddRowFormula("t", "mixed", `=IF(v > 2, "big", v)`).
		Run().
		AssertErrContains("t.mixed").
		AssertErrContains("row 1 is Text but column is Number").
		End()

	NewModelTestCase(t, "Row out of bounds").
		AddColumn("t", "v", 1, 2).
		SetFormula("x", "=t.v[5]").
		Run().
		AssertErrCode(formula.ErrorCodeRef).
		End()
}

func TestResolutionErrors(t *testing.T) {
	NewModelTestCase(t, "Self reference").
		SetFormula("a", "=a + 1").
		Run().
		AssertErrCode(formula.ErrorCodeCircular).
		AssertErrContains("a → a").
		End()

	NewModelTestCase(t, "Two node cycle").
		SetFormula("a", "=b + 1").
		SetFormula("b", "=a + 1").
		Run().
		AssertErrCode(formula.ErrorCodeCircular).
		AssertErrContains("Circular dependency detected: a → b → a").
		End()

	NewModelTestCase(t, "Row formula cycle").
		AddColumn("t", "v", 1, 2).
		AddRowFormula("t", "x", "=y + v").
		AddRowFormula("t", "y", "=x + v").
		Run().
		AssertErrCode(formula.ErrorCodeCircular).
		AssertErrContains("t.x → t.y → t.x").
		End()

	NewModelTestCase(t, "Unknown table").
		SetScalar("x", 1).
		SetFormula("bad", "=nonexistent_table.column + x").
		Run().
		AssertErrCode(formula.ErrorCodeRef).
		AssertErrContains("Unknown table: nonexistent_table").
		End()

	NewModelTestCase(t, "Unknown column").
		AddColumn("t", "v", 1).
		SetFormula("bad", "=SUM(t.missing)").
		Run().
		AssertErrContains("Unknown column: t.missing").
		End()

	NewModelTestCase(t, "Unknown scalar").
		SetFormula("bad", "=ghost * 2").
		Run().
		AssertErrContains("bad: Unknown variable: ghost").
		End()

	NewModelTestCase(t, "Aggregation in a row formula").
		AddColumn("t", "v", 1, 2, 3).
		AddRowFormula("t", "total", "=SUM(v)").
		Run().
		AssertErrContains("aggregation function SUM cannot be used in a row formula").
		End()

	NewModelTestCase(t, "Parse error names the formula").
		SetFormula("broken", "=(1 + 2").
		Run().
		AssertErrCode(formula.ErrorCodeParse).
		AssertErrContains("broken:").
		End()

	NewModelTestCase(t, "Unknown function").
		SetFormula("x", "=NOPE(1)").
		Run().
		AssertErrCode(formula.ErrorCodeName).
		End()

	NewModelTestCase(t, "Unequal column lengths").
		AddColumn("t", "a", 1, 2, 3).
		AddColumn("t", "b", 1, 2).
		Run().
		ExpectAppError(formula.FailedPrecondition).
		End()
}

func TestEvaluationAbortsOnFirstError(t *testing.T) {
	NewModelTestCase(t, "Error in one row aborts the pass").
		AddColumn("t", "d", 1, 0, 2).
		AddRowFormula("t", "q", "=10 / d").
		SetFormula("after", "=1").
		Run().
		AssertErrCode(formula.ErrorCodeDiv0).
		AssertErrContains("t.q row 1").
		End()

	NewModelTestCase(t, "IFERROR recovers locally").
		AddColumn("t", "d", 1, 0, 2).
		AddRowFormula("t", "q", "=IFERROR(10 / d, -1)").
		Run().
		AssertColumnEq("t", "q", 10, -1, 5).
		End()
}

func TestScenariosAndOverrides(t *testing.T) {
	build := func(name string) *ModelTestCase {
		return NewModelTestCase(t, name).
			SetScalar("growth_rate", 0.05).
			SetScalar("base", 100).
			SetFormula("projected", "=base * (1 + growth_rate)").
			AddScenario("optimistic", model.Scenario{"growth_rate": 0.2})
	}

	build("Baseline").
		Run().
		AssertScalarEq("projected", 105).
		End()

	build("Scenario applied").
		With(WithScenario("optimistic")).
		Run().
		AssertScalarEq("growth_rate", 0.2).
		AssertScalarNear("projected", 120, 1e-9).
		End()

	build("Override beats scenario").
		With(WithScenario("optimistic"), WithOverrides(map[string]float64{"growth_rate": 0.1})).
		Run().
		AssertScalarNear("projected", 110, 1e-9).
		End()

	build("Override replaces a formula").
		With(WithOverrides(map[string]float64{"projected": 1})).
		Run().
		AssertScalarEq("projected", 1).
		End()

	build("Unknown scenario").
		With(WithScenario("pessimistic")).
		Run().
		ExpectAppError(formula.NotFound).
		End()

	build("Override of unknown scalar").
		With(WithOverrides(map[string]float64{"nope": 1})).
		Run().
		ExpectAppError(formula.NotFound).
		End()

	build("SCENARIO function").
		SetFormula("opt", `=SCENARIO("optimistic", "growth_rate")`).
		Run().
		AssertScalarEq("opt", 0.2).
		End()

	build("SCENARIO missing scenario").
		SetFormula("opt", `=SCENARIO("pessimistic", "growth_rate")`).
		Run().
		AssertErrContains("not found").
		End()

	build("SCENARIO missing variable").
		SetFormula("opt", `=SCENARIO("optimistic", "churn")`).
		Run().
		AssertErrContains("not found").
		End()
}

func TestCalculateAllLeavesInputUntouched(t *testing.T) {
	tc := NewModelTestCase(t, "Input untouched").
		SetScalar("a", 1).
		SetFormula("b", "=a + 1").
		AddColumn("t", "v", 1, 2).
		AddRowFormula("t", "w", "=v * 10").
		With(WithOverrides(map[string]float64{"a": 5})).
		Run().
		AssertScalarEq("b", 6)

	m := tc.Model()
	if got := m.Scalars["a"].Value; !formula.Equal(got, formula.Number(1)) {
		t.Errorf("input scalar a changed to %s", got.AsText())
	}
	if m.Scalars["b"].Formula != "=a + 1" || !m.Scalars["b"].Value.IsNull() {
		t.Errorf("input scalar b changed: %+v", m.Scalars["b"])
	}
	if _, ok := m.Tables["t"].Columns["w"]; ok {
		t.Errorf("computed column leaked into the input model")
	}
	tc.End()
}

func TestIncludes(t *testing.T) {
	base := NewModelTestCase(t, "base").
		SetScalar("rate", 0.1).
		SetFormula("doubled", "=rate * 2").
		Model()

	NewModelTestCase(t, "Include reference").
		AddInclude("base", base).
		SetFormula("x", "=@base.doubled * 100").
		Run().
		AssertScalarEq("x", 20).
		End()

	NewModelTestCase(t, "Unknown include scalar").
		AddInclude("base", base).
		SetFormula("x", "=@base.missing").
		Run().
		AssertErrContains("Unknown include reference: @base.missing").
		End()

	a := model.NewParsedModel()
	b := model.NewParsedModel()
	a.AddScalar(model.NewVariable("x", formula.Number(1), ""))
	b.AddScalar(model.NewVariable("y", formula.Number(2), ""))
	a.Includes["b"] = b
	b.Includes["a"] = a
	if _, err := NewCalculator(a).CalculateAll(context.Background()); err == nil {
		t.Errorf("include cycle: expected error")
	} else if !strings.Contains(err.Error(), "include cycle") {
		t.Errorf("include cycle: got %v", err)
	}
}

func TestBudget(t *testing.T) {
	NewModelTestCase(t, "Step budget").
		SetFormula("x", "=1+2+3+4+5+6+7+8").
		With(WithMaxSteps(5)).
		Run().
		ExpectAppError(formula.ResourceExhausted).
		End()

	NewModelTestCase(t, "Generous step budget").
		SetFormula("x", "=1+2+3+4+5+6+7+8").
		With(WithMaxSteps(1000)).
		Run().
		AssertScalarEq("x", 36).
		End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewModelTestCase(t, "Cancelled context").
		SetFormula("x", "=1").
		RunContext(ctx).
		ExpectAppError(formula.DeadlineExceeded).
		End()
}

func TestBudgetCoversFunctionLoops(t *testing.T) {
	loops := []string{
		`=WORKDAY("2024-01-01", 1E8)`,
		`=WORKDAY("2024-01-01", -1E8)`,
		`=NETWORKDAYS("2000-01-01", "2100-01-01")`,
		`=IFERROR(WORKDAY("2024-01-01", 1E8), 0)`,
		"=DDB(100, 10, 1E9, 1E9)",
		"=DB(100, 10, 1E9, 1E9)",
	}
	for _, text := range loops {
		NewModelTestCase(t, text).
			SetFormula("x", text).
			With(WithMaxSteps(1000)).
			Run().
			ExpectAppError(formula.ResourceExhausted).
			End()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	NewModelTestCase(t, "Deadline inside WORKDAY").
		SetFormula("x", `=WORKDAY("2024-01-01", 2E9)`).
		RunContext(ctx).
		ExpectAppError(formula.DeadlineExceeded).
		End()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("calculation ran %v past a 50ms deadline", elapsed)
	}
}

func TestCalculateAllLogsRun(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	m := model.NewParsedModel()
	m.AddScalar(model.NewVariable("x", formula.Null, "=1"))
	m.Scenarios["s"] = model.Scenario{}
	if _, err := NewCalculator(m, WithScenario("s")).CalculateAll(ctx); err != nil {
		t.Fatalf("CalculateAll() failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"calculation started", "scenario applied", "calculation finished", "run="} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestPlan(t *testing.T) {
	m := model.NewParsedModel()
	m.AddScalar(model.NewVariable("price", formula.Number(10), ""))
	m.AddScalar(model.NewVariable("revenue", formula.Null, "=price * pl.units[0]"))
	m.AddScalar(model.NewVariable("profit", formula.Null, "=revenue * 0.2"))
	pl := model.NewTable("pl")
	pl.AddColumn(model.NumberColumn("units", 1, 2))
	pl.AddRowFormula("sales", "=units * price")
	m.AddTable(pl)

	plan, err := NewCalculator(m).Plan()
	if err != nil {
		t.Fatalf("Plan() failed: %v", err)
	}

	position := map[string]int{}
	for i, node := range plan.Order() {
		position[node.QualifiedName()] = i
	}
	if len(position) != 3 {
		t.Fatalf("expected 3 formula nodes, got %v", position)
	}
	if position["revenue"] > position["profit"] {
		t.Errorf("revenue must precede profit: %v", position)
	}

	if got := plan.Dependencies("revenue"); strings.Join(got, ",") != "pl.units,price" {
		t.Errorf("Dependencies(revenue) = %v", got)
	}
	if got := plan.Dependents("price"); strings.Join(got, ",") != "pl.sales,revenue" {
		t.Errorf("Dependents(price) = %v", got)
	}
	if got := plan.AllDependents("price"); strings.Join(got, ",") != "pl.sales,profit,revenue" {
		t.Errorf("AllDependents(price) = %v", got)
	}
}

func TestFormulaTableInterning(t *testing.T) {
	ft := NewFormulaTable()
	id1, _, err := ft.Intern("=a + b")
	if err != nil {
		t.Fatal(err)
	}
	id2, _, _ := ft.Intern("=a+b")
	id3, _, _ := ft.Intern("=(a + b)")
	id4, _, _ := ft.Intern("=a - b")
	if id1 != id2 || id1 != id3 {
		t.Errorf("equivalent formulas got different ids: %d %d %d", id1, id2, id3)
	}
	if id4 == id1 {
		t.Errorf("different formulas share id %d", id1)
	}
	if ft.Count() != 2 || ft.TotalReferences() != 4 {
		t.Errorf("Count() = %d, TotalReferences() = %d", ft.Count(), ft.TotalReferences())
	}
	if _, _, err := ft.Intern("=(a"); err == nil {
		t.Errorf("expected parse error")
	}
}

func TestTestableProperties(t *testing.T) {
	t.Run("Determinism", func(t *testing.T) {
		m := model.NewParsedModel()
		m.AddScalar(model.NewVariable("r", formula.Number(0.07), ""))
		m.AddScalar(model.NewVariable("x", formula.Null, "=NPV(r, cf.flows) + IRR(cf.flows)"))
		cf := model.NewTable("cf")
		cf.AddColumn(model.NumberColumn("flows", -1000, 300, 400, 500, 200))
		cf.AddRowFormula("disc", "=flows / (1 + r)")
		m.AddTable(cf)

		first, err := NewCalculator(m).CalculateAll(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		second, err := NewCalculator(m).CalculateAll(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		a, _ := first.Scalar("x")
		b, _ := second.Scalar("x")
		if a.Float() != b.Float() {
			t.Errorf("runs differ: %v vs %v", a.Float(), b.Float())
		}
		ca, _ := first.Column("cf", "disc")
		cb, _ := second.Column("cf", "disc")
		for i := range ca.Values {
			if ca.Values[i].Float() != cb.Values[i].Float() {
				t.Errorf("row %d differs", i)
			}
		}
	})

	t.Run("Annuity identity", func(t *testing.T) {
		for _, rate := range []float64{0.01, 0.05 / 12, 0.2} {
			NewModelTestCase(t, "FV of PMT").
				SetScalar("rate", rate).
				SetFormula("fv", "=FV(rate, 60, PMT(rate, 60, 25000), 25000)").
				Run().
				AssertScalarNear("fv", 0, 1e-6).
				End()
		}
	})

	t.Run("NPV IRR duality", func(t *testing.T) {
		NewModelTestCase(t, "NPV at IRR").
			AddColumn("cf", "flows", -100, 30, 35, 40, 45).
			SetFormula("irr", "=IRR(cf.flows)").
			SetFormula("npv", "=NPV(irr, cf.flows)").
			Run().
			AssertScalarNear("irr", 0.178, 0.01).
			AssertScalarNear("npv", 0, 1e-4).
			End()
	})

	t.Run("Reference values", func(t *testing.T) {
		NewModelTestCase(t, "Mortgage payment").
			SetFormula("pmt", "=PMT(0.05/12, 360, 100000)").
			Run().
			AssertScalarNear("pmt", -536.82, 0.01).
			End()
		scalar(t, "=SLN(10000, 1000, 5)", 1800.0)
	})

	t.Run("Row count preserved", func(t *testing.T) {
		NewModelTestCase(t, "ROUND over a column").
			AddColumn("t", "values", 10, 20, 30, 40, 50).
			AddRowFormula("t", "rounded", "=ROUND(values, 0)").
			Run().
			AssertColumnEq("t", "rounded", 10, 20, 30, 40, 50).
			End()
	})

	t.Run("One value per scalar", func(t *testing.T) {
		m := model.NewParsedModel()
		m.AddScalar(model.NewVariable("a", formula.Number(1), ""))
		m.AddScalar(model.NewVariable("b", formula.Null, "=a * 3"))
		m.AddScalar(model.NewVariable("c", formula.Null, "=b + t.v[1]"))
		tbl := model.NewTable("t")
		tbl.AddColumn(model.NumberColumn("v", 4, 5, 6))
		tbl.AddRowFormula("w", "=v + c")
		m.AddTable(tbl)

		out, err := NewCalculator(m).CalculateAll(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		for _, name := range []string{"a", "b", "c"} {
			if v, ok := out.Scalar(name); !ok || v.IsNull() {
				t.Errorf("scalar %s has no value", name)
			}
		}
		col, ok := out.Column("t", "w")
		if !ok || col.Len() != 3 {
			t.Fatalf("column t.w not fully populated: %v", col)
		}
		if col.Values[2].Float() != 14 {
			t.Errorf("t.w[2] = %v, want 14", col.Values[2].Float())
		}
	})
}
