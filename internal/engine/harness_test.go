package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/mollendorff-ai/forge/internal/formula"
	"github.com/mollendorff-ai/forge/internal/model"
)

const defaultTolerance = 1e-10

// fixedClock pins TODAY and NOW.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// sequenceRandom replays a fixed sequence, wrapping around.
type sequenceRandom struct {
	values []float64
	next   int
}

func (r *sequenceRandom) Float64() float64 {
	v := r.values[r.next%len(r.values)]
	r.next++
	return v
}

type ModelTestCase struct {
	t      *testing.T
	name   string
	model  *model.ParsedModel
	opts   []Option
	result *model.CalculatedModel
	err    error
	ran    bool
}

func NewModelTestCase(t *testing.T, name string) *ModelTestCase {
	t.Helper()
	return &ModelTestCase{
		t:     t,
		name:  name,
		model: model.NewParsedModel(),
		opts: []Option{
			WithClock(fixedClock{time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)}),
			WithRandom(&sequenceRandom{values: []float64{0.25, 0.5, 0.75}}),
		},
	}
}

func (tc *ModelTestCase) SetScalar(name string, value float64) *ModelTestCase {
	return tc.SetValue(name, formula.Number(value))
}

func (tc *ModelTestCase) SetValue(name string, value formula.Value) *ModelTestCase {
	tc.model.AddScalar(model.NewVariable(name, value, ""))
	return tc
}

func (tc *ModelTestCase) SetFormula(name, text string) *ModelTestCase {
	tc.model.AddScalar(model.NewVariable(name, formula.Null, text))
	return tc
}

func (tc *ModelTestCase) table(name string) *model.Table {
	t, ok := tc.model.Tables[name]
	if !ok {
		t = model.NewTable(name)
		tc.model.Tables[name] = t
	}
	return t
}

func (tc *ModelTestCase) AddColumn(table, column string, values ...float64) *ModelTestCase {
	col := model.NumberColumn(column, values...)
	if err := tc.table(table).AddColumn(col); err != nil {
		tc.t.Errorf("%s: AddColumn(%s.%s) failed: %v", tc.name, table, column, err)
	}
	return tc
}

func (tc *ModelTestCase) AddValues(table, column string, values ...formula.Value) *ModelTestCase {
	col, err := model.NewColumn(column, values)
	if err == nil {
		err = tc.table(table).AddColumn(col)
	}
	if err != nil {
		tc.t.Errorf("%s: AddValues(%s.%s) failed: %v", tc.name, table, column, err)
	}
	return tc
}

func (tc *ModelTestCase) AddRowFormula(table, column, text string) *ModelTestCase {
	if err := tc.table(table).AddRowFormula(column, text); err != nil {
		tc.t.Errorf("%s: AddRowFormula(%s.%s) failed: %v", tc.name, table, column, err)
	}
	return tc
}

func (tc *ModelTestCase) AddScenario(name string, vars model.Scenario) *ModelTestCase {
	tc.model.Scenarios[name] = vars
	return tc
}

func (tc *ModelTestCase) AddInclude(alias string, m *model.ParsedModel) *ModelTestCase {
	tc.model.Includes[alias] = m
	return tc
}

func (tc *ModelTestCase) With(opts ...Option) *ModelTestCase {
	tc.opts = append(tc.opts, opts...)
	return tc
}

// Model exposes the model under construction, e.g. for nesting as an
// include of another test case.
func (tc *ModelTestCase) Model() *model.ParsedModel {
	return tc.model
}

func (tc *ModelTestCase) Run() *ModelTestCase {
	return tc.RunContext(context.Background())
}

func (tc *ModelTestCase) RunContext(ctx context.Context) *ModelTestCase {
	tc.result, tc.err = NewCalculator(tc.model, tc.opts...).CalculateAll(ctx)
	tc.ran = true
	return tc
}

// ready reports whether a value assertion can proceed.
func (tc *ModelTestCase) ready() bool {
	tc.t.Helper()
	if !tc.ran {
		tc.t.Fatalf("%s: assertion before Run()", tc.name)
	}
	if tc.err != nil {
		tc.t.Errorf("%s: CalculateAll() failed: %v", tc.name, tc.err)
		return false
	}
	return true
}

func (tc *ModelTestCase) AssertNoError() *ModelTestCase {
	tc.t.Helper()
	tc.ready()
	return tc
}

func (tc *ModelTestCase) AssertScalarEq(name string, expected any) *ModelTestCase {
	tc.t.Helper()
	if !tc.ready() {
		return tc
	}
	actual, ok := tc.result.Scalar(name)
	if !ok {
		tc.t.Errorf("%s: scalar %s missing", tc.name, name)
		return tc
	}
	if msg := compareValue(actual, expected, defaultTolerance); msg != "" {
		tc.t.Errorf("%s: %s = %s", tc.name, name, msg)
	}
	return tc
}

func (tc *ModelTestCase) AssertScalarNear(name string, expected, tolerance float64) *ModelTestCase {
	tc.t.Helper()
	if !tc.ready() {
		return tc
	}
	actual, _ := tc.result.Scalar(name)
	if msg := compareValue(actual, expected, tolerance); msg != "" {
		tc.t.Errorf("%s: %s = %s", tc.name, name, msg)
	}
	return tc
}

func (tc *ModelTestCase) AssertScalarFn(name string, fn func(v formula.Value, t *testing.T)) *ModelTestCase {
	tc.t.Helper()
	if !tc.ready() {
		return tc
	}
	actual, _ := tc.result.Scalar(name)
	fn(actual, tc.t)
	return tc
}

func (tc *ModelTestCase) AssertColumnEq(table, column string, expected ...any) *ModelTestCase {
	tc.t.Helper()
	if !tc.ready() {
		return tc
	}
	col, ok := tc.result.Column(table, column)
	if !ok {
		tc.t.Errorf("%s: column %s.%s missing", tc.name, table, column)
		return tc
	}
	if col.Len() != len(expected) {
		tc.t.Errorf("%s: %s.%s has %d rows, want %d", tc.name, table, column, col.Len(), len(expected))
		return tc
	}
	for i, want := range expected {
		if msg := compareValue(col.Values[i], want, defaultTolerance); msg != "" {
			tc.t.Errorf("%s: %s.%s[%d] = %s", tc.name, table, column, i, msg)
		}
	}
	return tc
}

// AssertErrContains expects the run to have failed with a message
// containing substr.
func (tc *ModelTestCase) AssertErrContains(substr string) *ModelTestCase {
	tc.t.Helper()
	if tc.err == nil {
		tc.t.Errorf("%s: expected error containing %q, got none", tc.name, substr)
		return tc
	}
	if !strings.Contains(tc.err.Error(), substr) {
		tc.t.Errorf("%s: error %q does not contain %q", tc.name, tc.err, substr)
	}
	return tc
}

func (tc *ModelTestCase) AssertErrCode(code formula.ErrorCode) *ModelTestCase {
	tc.t.Helper()
	var fe *formula.FormulaError
	if !errors.As(tc.err, &fe) {
		tc.t.Errorf("%s: got error %v, want FormulaError %s", tc.name, tc.err, formula.ErrorMapper[code])
		return tc
	}
	if fe.Code != code {
		tc.t.Errorf("%s: got %s (%v), want %s", tc.name, formula.ErrorMapper[fe.Code], fe, formula.ErrorMapper[code])
	}
	return tc
}

func (tc *ModelTestCase) ExpectAppError(code formula.AppErrorCode) *ModelTestCase {
	tc.t.Helper()
	var ae *formula.AppError
	if !errors.As(tc.err, &ae) {
		tc.t.Errorf("%s: got error %v, want AppError with code %v", tc.name, tc.err, code)
		return tc
	}
	if ae.Code != code {
		tc.t.Errorf("%s: got error code %v, want %v", tc.name, ae.Code, code)
	}
	return tc
}

func (tc *ModelTestCase) End() {}

// compareValue returns "" when actual matches expected, otherwise a
// description of the mismatch.
func compareValue(actual formula.Value, expected any, tolerance float64) string {
	switch exp := expected.(type) {
	case float64:
		return compareNumber(actual, exp, tolerance)
	case int:
		return compareNumber(actual, float64(exp), tolerance)
	case string:
		if actual.Kind() != formula.KindText && actual.Kind() != formula.KindDate {
			return actual.Kind().String() + " " + actual.AsText() + ", want text " + exp
		}
		if actual.Str() != exp {
			return actual.Str() + ", want " + exp
		}
	case bool:
		b, ok := actual.AsBool()
		if actual.Kind() != formula.KindBoolean || !ok || b != exp {
			return actual.Kind().String() + " " + actual.AsText() + ", want " + formula.Boolean(exp).AsText()
		}
	case nil:
		if !actual.IsNull() {
			return actual.AsText() + ", want Null"
		}
	case []float64:
		elems := actual.Elements()
		if !actual.IsArray() || len(elems) != len(exp) {
			return actual.AsText() + ", want " + formula.Numbers(exp...).AsText()
		}
		for i, n := range exp {
			if msg := compareNumber(elems[i], n, tolerance); msg != "" {
				return actual.AsText() + ", want " + formula.Numbers(exp...).AsText()
			}
		}
	case formula.Value:
		if !formula.Equal(actual, exp) || actual.Kind() != exp.Kind() {
			return actual.AsText() + ", want " + exp.AsText()
		}
	default:
		return "unsupported expectation"
	}
	return ""
}

func compareNumber(actual formula.Value, expected, tolerance float64) string {
	if !actual.IsNumber() {
		return actual.Kind().String() + " " + actual.AsText() + ", want number " + formula.FormatNumber(expected)
	}
	if math.Abs(actual.Float()-expected) > tolerance {
		return actual.AsText() + ", want " + formula.FormatNumber(expected)
	}
	return ""
}

// scalar evaluates one formula in an otherwise empty model.
func scalar(t *testing.T, text string, expected any) {
	t.Helper()
	NewModelTestCase(t, text).
		SetFormula("x", text).
		Run().
		AssertScalarEq("x", expected).
		End()
}

// scalarErr evaluates one formula and expects it to fail with code.
func scalarErr(t *testing.T, text string, code formula.ErrorCode) {
	t.Helper()
	NewModelTestCase(t, text).
		SetFormula("x", text).
		Run().
		AssertErrCode(code).
		End()
}
