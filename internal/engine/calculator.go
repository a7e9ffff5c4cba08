package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mollendorff-ai/forge/internal/ctxlog"
	"github.com/mollendorff-ai/forge/internal/formula"
	"github.com/mollendorff-ai/forge/internal/model"
)

// Option configures a Calculator.
type Option func(*Calculator)

// WithClock sets the time source for TODAY and NOW.
func WithClock(clock Clock) Option {
	return func(c *Calculator) { c.clock = clock }
}

// WithRandom sets the random source for RAND, RANDBETWEEN and RANDARRAY.
func WithRandom(rng RandomGenerator) Option {
	return func(c *Calculator) { c.rng = rng }
}

// WithScenario applies the named scenario's overrides before calculating.
func WithScenario(name string) Option {
	return func(c *Calculator) { c.scenario = name }
}

// WithOverrides replaces scalar values before calculating. A scalar with a
// formula loses the formula. Overrides apply after the scenario.
func WithOverrides(overrides map[string]float64) Option {
	return func(c *Calculator) { c.overrides = maps.Clone(overrides) }
}

// WithMaxSteps bounds the number of evaluation steps of one run. Zero means
// unbounded.
func WithMaxSteps(n int64) Option {
	return func(c *Calculator) { c.maxSteps = n }
}

// WithLogger sets the logger. Without it the logger comes from the context
// passed to CalculateAll.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Calculator) { c.logger = logger }
}

// Calculator evaluates a parsed model into a calculated one. The input model
// is never modified.
type Calculator struct {
	model *model.ParsedModel

	clock     Clock
	rng       RandomGenerator
	scenario  string
	overrides map[string]float64
	maxSteps  int64
	logger    *slog.Logger

	formulas *FormulaTable
	// parents guards include chains against cycles.
	parents []*model.ParsedModel
}

func NewCalculator(m *model.ParsedModel, opts ...Option) *Calculator {
	c := &Calculator{
		model:    m,
		clock:    &WallClock{},
		rng:      &DefaultRandomGenerator{},
		formulas: NewFormulaTable(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Formulas exposes the AST cache shared by every formula of the run.
func (c *Calculator) Formulas() *FormulaTable {
	return c.formulas
}

// Plan parses and resolves the model without evaluating it.
func (c *Calculator) Plan() (*Plan, error) {
	m, err := c.prepare(slog.Default())
	if err != nil {
		return nil, err
	}
	return Resolve(m, c.formulas)
}

// CalculateAll evaluates every formula of the model in dependency order.
// The first error aborts the run.
func (c *Calculator) CalculateAll(ctx context.Context) (*model.CalculatedModel, error) {
	logger := c.logger
	if logger == nil {
		logger = ctxlog.FromContext(ctx)
	}
	logger = logger.With("run", uuid.NewString())
	start := time.Now()
	logger.Debug("calculation started", "scalars", len(c.model.Scalars), "tables", len(c.model.Tables))

	b := &budget{ctx: ctx, maxSteps: c.maxSteps}
	out, err := c.calculate(c.model, b, logger)
	if err != nil {
		logger.Debug("calculation failed", "error", err, "steps", b.steps, "elapsed", time.Since(start))
		return nil, err
	}
	logger.Debug("calculation finished", "steps", b.steps, "formulas", c.formulas.Count(), "elapsed", time.Since(start))
	return out, nil
}

// prepare clones the model and applies the scenario and overrides.
func (c *Calculator) prepare(logger *slog.Logger) (*model.ParsedModel, error) {
	m := c.model.Clone()
	if c.scenario != "" {
		scenario, ok := m.Scenarios[c.scenario]
		if !ok {
			return nil, formula.NewApplicationError(formula.NotFound, fmt.Sprintf("scenario %s not found", c.scenario))
		}
		if err := override(m, scenario); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", c.scenario, err)
		}
		logger.Debug("scenario applied", "scenario", c.scenario, "variables", len(scenario))
	}
	if err := override(m, c.overrides); err != nil {
		return nil, err
	}
	return m, nil
}

func override(m *model.ParsedModel, values map[string]float64) error {
	for _, name := range slices.Sorted(maps.Keys(values)) {
		v, ok := m.Scalars[name]
		if !ok {
			return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("cannot override unknown scalar %s", name))
		}
		v.Value = formula.Number(values[name])
		v.Formula = ""
	}
	return nil
}

func (c *Calculator) calculate(src *model.ParsedModel, b *budget, logger *slog.Logger) (*model.CalculatedModel, error) {
	m := src.Clone()
	if src == c.model {
		var err error
		if m, err = c.prepare(logger); err != nil {
			return nil, err
		}
	}

	ectx := NewEvalContext()
	ectx.clock, ectx.rng, ectx.logger, ectx.budget = c.clock, c.rng, logger, b
	ectx.Scenarios = m.Scenarios

	if err := c.calculateIncludes(src, m, ectx, b, logger); err != nil {
		return nil, err
	}

	for name, v := range m.Scalars {
		if !v.HasFormula() {
			ectx.Scalars[name] = v.Value
		}
	}
	for tableName, t := range m.Tables {
		for colName, col := range t.Columns {
			ectx.SetColumn(tableName, colName, col.Values)
		}
	}

	plan, err := Resolve(m, c.formulas)
	if err != nil {
		return nil, err
	}
	for _, node := range plan.Order() {
		if err := b.check(); err != nil {
			return nil, err
		}
		switch node.Kind {
		case NodeScalar:
			v, err := EvalAsScalar(node.AST, ectx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", node.Name, err)
			}
			ectx.Scalars[node.Name] = v
			m.Scalars[node.Name].Value = v
		case NodeRowFormula:
			col, err := c.calculateRows(node, m.Tables[node.Table], ectx, b)
			if err != nil {
				return nil, err
			}
			ectx.SetColumn(node.Table, node.Name, col.Values)
			m.Tables[node.Table].Columns[node.Name] = col
		}
	}

	out := &model.CalculatedModel{
		Scalars:   m.Scalars,
		Tables:    m.Tables,
		Scenarios: m.Scenarios,
	}
	for _, t := range out.Tables {
		t.RowFormulas = map[string]string{}
	}
	return out, nil
}

// calculateIncludes evaluates every included model and exposes its scalars
// as @alias.name.
func (c *Calculator) calculateIncludes(src, m *model.ParsedModel, ectx *EvalContext, b *budget, logger *slog.Logger) error {
	if len(m.Includes) == 0 {
		return nil
	}
	c.parents = append(c.parents, src)
	defer func() { c.parents = c.parents[:len(c.parents)-1] }()

	for _, alias := range slices.Sorted(maps.Keys(m.Includes)) {
		inc := m.Includes[alias]
		if slices.Contains(c.parents, inc) {
			return formula.NewApplicationError(formula.FailedPrecondition, fmt.Sprintf("include cycle through @%s", alias))
		}
		calculated, err := c.calculate(inc, b, logger.With("include", alias))
		if err != nil {
			return fmt.Errorf("@%s: %w", alias, err)
		}
		for name, v := range calculated.Scalars {
			ectx.Scalars["@"+alias+"."+name] = v.Value
		}
	}
	return nil
}

// calculateRows evaluates a row formula once per row. The column kind comes
// from the first non-null result.
func (c *Calculator) calculateRows(node *DependencyNode, t *model.Table, ectx *EvalContext, b *budget) (*model.Column, error) {
	rows := t.RowCount()
	values := make([]formula.Value, rows)
	for row := range rows {
		if err := b.check(); err != nil {
			return nil, err
		}
		v, err := EvalInRow(node.AST, ectx, node.Table, row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", node.QualifiedName(), row, err)
		}
		values[row] = v
	}
	col, err := model.NewColumn(node.Name, values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", node.QualifiedName(), err)
	}
	return col, nil
}
