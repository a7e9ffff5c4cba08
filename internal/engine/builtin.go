package engine

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/mollendorff-ai/forge/internal/formula"
)

// Function categories, as listed by `forge functions`.
const (
	CategoryMath        = "math"
	CategoryTrig        = "trig"
	CategoryAggregation = "aggregation"
	CategoryStatistical = "statistical"
	CategoryConditional = "conditional"
	CategoryLogical     = "logical"
	CategoryText        = "text"
	CategoryDate        = "date"
	CategoryLookup      = "lookup"
	CategoryFinancial   = "financial"
	CategoryInfo        = "info"
	CategoryArray       = "array"
	CategoryAdvanced    = "advanced"
	CategoryForge       = "forge"
)

// Handler evaluates one call. Arguments arrive unevaluated so control-flow
// functions decide what to evaluate, and in which context.
type Handler func(c *Call) (formula.Value, error)

// FunctionDef describes a built-in function. MaxArgs < 0 means variadic.
type FunctionDef struct {
	Name     string
	Category string
	Usage    string
	MinArgs  int
	MaxArgs  int
	// Aggregation functions reduce a whole column to one value and are
	// rejected inside row formulas.
	Aggregation bool
	// Volatile functions read the clock or the random source.
	Volatile bool
	Handler  Handler
}

func (d *FunctionDef) checkArity(got int) error {
	if got < d.MinArgs || (d.MaxArgs >= 0 && got > d.MaxArgs) {
		return formula.ArityError(d.Name, d.MinArgs, d.MaxArgs, got)
	}
	return nil
}

func def(name, usage string, min, max int, h Handler) *FunctionDef {
	return &FunctionDef{Name: name, Usage: usage, MinArgs: min, MaxArgs: max, Handler: h}
}

func (d *FunctionDef) aggregation() *FunctionDef {
	d.Aggregation = true
	return d
}

func (d *FunctionDef) volatile() *FunctionDef {
	d.Volatile = true
	return d
}

type registrar map[string]*FunctionDef

func (r registrar) add(category string, defs ...*FunctionDef) {
	for _, d := range defs {
		if _, exists := r[d.Name]; exists {
			panic("engine: function registered twice: " + d.Name)
		}
		d.Category = category
		r[d.Name] = d
	}
}

// registry is filled in init: handlers reach it through callFunction, so a
// package-level initializer would depend on itself.
var registry map[string]*FunctionDef

func init() {
	registry = buildRegistry()
}

func buildRegistry() map[string]*FunctionDef {
	r := registrar{}
	registerMath(r)
	registerTrig(r)
	registerAggregation(r)
	registerStatistical(r)
	registerConditional(r)
	registerLogical(r)
	registerText(r)
	registerDate(r)
	registerLookup(r)
	registerFinancial(r)
	registerInfo(r)
	registerArray(r)
	registerAdvanced(r)
	registerForge(r)
	return r
}

// LookupFunction returns the definition of a built-in function.
func LookupFunction(name string) (*FunctionDef, bool) {
	d, ok := registry[strings.ToUpper(name)]
	return d, ok
}

// Functions returns every built-in function sorted by name.
func Functions() []*FunctionDef {
	names := slices.Sorted(maps.Keys(registry))
	defs := make([]*FunctionDef, len(names))
	for i, name := range names {
		defs[i] = registry[name]
	}
	return defs
}

// IsAggregation reports whether name reduces a column to a single value.
func IsAggregation(name string) bool {
	d, ok := registry[name]
	return ok && d.Aggregation
}

func callFunction(node *formula.FunctionCallNode, ctx *EvalContext) (formula.Value, error) {
	d, ok := registry[node.Name]
	if !ok {
		return formula.Null, formula.Errorf(formula.ErrorCodeName, "Unknown function: %s", node.Name)
	}
	if err := d.checkArity(len(node.Args)); err != nil {
		return formula.Null, err
	}
	return d.Handler(&Call{Name: d.Name, Args: node.Args, ctx: ctx})
}

// Call is one invocation of a built-in function.
type Call struct {
	Name string
	Args []formula.ASTNode
	ctx  *EvalContext
}

func (c *Call) Context() *EvalContext {
	return c.ctx
}

// step charges one unit of the calculation budget. Handlers that loop over
// a caller-controlled count call it once per iteration.
func (c *Call) step() error {
	if c.ctx.budget == nil {
		return nil
	}
	return c.ctx.budget.step()
}

func (c *Call) Logger() *slog.Logger {
	if c.ctx.logger == nil {
		return slog.Default()
	}
	return c.ctx.logger
}

func (c *Call) Clock() Clock {
	return c.ctx.clock
}

func (c *Call) RNG() RandomGenerator {
	return c.ctx.rng
}

// Has reports whether argument i was supplied.
func (c *Call) Has(i int) bool {
	return i < len(c.Args)
}

// Eval evaluates argument i in the caller's context.
func (c *Call) Eval(i int) (formula.Value, error) {
	return Eval(c.Args[i], c.ctx)
}

// EvalWhole evaluates argument i with the current row cleared, so column
// references yield whole arrays.
func (c *Call) EvalWhole(i int) (formula.Value, error) {
	return EvalAsScalar(c.Args[i], c.ctx)
}

// errorf builds an error whose message names the function.
func (c *Call) errorf(code formula.ErrorCode, format string, args ...any) error {
	return formula.NewFormulaError(code, c.Name+": "+fmt.Sprintf(format, args...))
}

func (c *Call) numberFrom(i int, v formula.Value) (float64, error) {
	if v.IsArray() {
		return 0, c.errorf(formula.ErrorCodeValue, "argument %d must be a number, got Array", i+1)
	}
	n, ok := v.AsNumber()
	if !ok {
		return 0, c.errorf(formula.ErrorCodeValue, "argument %d must be a number, got %s", i+1, v.Kind())
	}
	return n, nil
}

// Number evaluates argument i and coerces it to a number.
func (c *Call) Number(i int) (float64, error) {
	v, err := c.Eval(i)
	if err != nil {
		return 0, err
	}
	return c.numberFrom(i, v)
}

// NumberOr is Number with a default for an omitted argument.
func (c *Call) NumberOr(i int, def float64) (float64, error) {
	if !c.Has(i) {
		return def, nil
	}
	return c.Number(i)
}

// maxInt bounds integer arguments (counts, positions, sizes).
const maxInt = 1 << 31

// Int evaluates argument i and truncates it toward zero.
func (c *Call) Int(i int) (int, error) {
	n, err := c.Number(i)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, c.errorf(formula.ErrorCodeNum, "argument %d is not finite", i+1)
	}
	if math.Abs(n) > maxInt {
		return 0, c.errorf(formula.ErrorCodeNum, "argument %d is out of range: %s", i+1, formula.FormatNumber(n))
	}
	return int(n), nil
}

func (c *Call) IntOr(i int, def int) (int, error) {
	if !c.Has(i) {
		return def, nil
	}
	return c.Int(i)
}

// Text evaluates argument i as text.
func (c *Call) Text(i int) (string, error) {
	v, err := c.Eval(i)
	if err != nil {
		return "", err
	}
	return v.AsText(), nil
}

func (c *Call) TextOr(i int, def string) (string, error) {
	if !c.Has(i) {
		return def, nil
	}
	return c.Text(i)
}

// Bool evaluates argument i as a boolean.
func (c *Call) Bool(i int) (bool, error) {
	v, err := c.Eval(i)
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, c.errorf(formula.ErrorCodeValue, "argument %d must be a boolean, got %s", i+1, v.Kind())
	}
	return b, nil
}

func (c *Call) BoolOr(i int, def bool) (bool, error) {
	if !c.Has(i) {
		return def, nil
	}
	return c.Bool(i)
}

// Numbers collects the numeric values of arguments from..end in the
// caller's context. Array elements that coerce to numbers are kept; scalar
// arguments count only when they are numbers.
func (c *Call) Numbers(from int) ([]float64, error) {
	var out []float64
	for i := from; i < len(c.Args); i++ {
		v, err := c.Eval(i)
		if err != nil {
			return nil, err
		}
		out = appendNumbers(out, v)
	}
	return out, nil
}

// WholeNumbers is Numbers with every argument evaluated as a whole array.
func (c *Call) WholeNumbers(from int) ([]float64, error) {
	var out []float64
	for i := from; i < len(c.Args); i++ {
		v, err := c.EvalWhole(i)
		if err != nil {
			return nil, err
		}
		out = appendNumbers(out, v)
	}
	return out, nil
}

// ArrayNumbers evaluates only argument i as a whole array and collects
// its numbers.
func (c *Call) ArrayNumbers(i int) ([]float64, error) {
	v, err := c.EvalWhole(i)
	if err != nil {
		return nil, err
	}
	return appendNumbers(nil, v), nil
}

func appendNumbers(out []float64, v formula.Value) []float64 {
	switch v.Kind() {
	case formula.KindArray:
		for _, e := range v.Elements() {
			if e.IsArray() {
				out = appendNumbers(out, e)
				continue
			}
			if n, ok := e.AsNumber(); ok {
				out = append(out, n)
			}
		}
	case formula.KindNumber:
		out = append(out, v.Float())
	}
	return out
}

// Values evaluates argument i and returns its elements, or the value itself
// as a single element.
func (c *Call) Values(i int) ([]formula.Value, error) {
	v, err := c.Eval(i)
	if err != nil {
		return nil, err
	}
	return elementsOf(v), nil
}

// WholeValues is Values evaluated as a whole array.
func (c *Call) WholeValues(i int) ([]formula.Value, error) {
	v, err := c.EvalWhole(i)
	if err != nil {
		return nil, err
	}
	return elementsOf(v), nil
}

func elementsOf(v formula.Value) []formula.Value {
	if v.IsArray() {
		return v.Elements()
	}
	return []formula.Value{v}
}
