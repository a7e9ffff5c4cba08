package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/mollendorff-ai/forge/internal/formula"
	"github.com/mollendorff-ai/forge/internal/model"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// EvalContext is the resolved working set visible during one evaluation.
// Derived contexts (whole-array, row, LET bindings) are shallow copies that
// share the scalar and table maps; nothing writes to those maps while an
// expression is being evaluated.
type EvalContext struct {
	Scalars   map[string]formula.Value
	Tables    map[string]map[string][]formula.Value
	Scenarios map[string]model.Scenario

	// table is the table whose row formula is being evaluated. Bare names
	// resolve against its columns first.
	table    string
	row      int
	inRow    bool
	rowCount int

	locals map[string]formula.Value

	clock  Clock
	rng    RandomGenerator
	logger *slog.Logger
	budget *budget
}

// NewEvalContext creates an empty context with the wall clock and the
// default random source.
func NewEvalContext() *EvalContext {
	return &EvalContext{
		Scalars:   map[string]formula.Value{},
		Tables:    map[string]map[string][]formula.Value{},
		Scenarios: map[string]model.Scenario{},
		clock:     &WallClock{},
		rng:       &DefaultRandomGenerator{},
		logger:    slog.Default(),
		budget:    &budget{ctx: context.Background()},
	}
}

// SetClock replaces the time source used by TODAY and NOW.
func (c *EvalContext) SetClock(clock Clock) {
	c.clock = clock
}

// SetRandom replaces the random source used by RAND and friends.
func (c *EvalContext) SetRandom(rng RandomGenerator) {
	c.rng = rng
}

// SetLogger replaces the logger handlers report warnings to.
func (c *EvalContext) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// CurrentRow returns the row being evaluated, if any.
func (c *EvalContext) CurrentRow() (int, bool) {
	return c.row, c.inRow
}

// CurrentTable returns the table whose row formula is being evaluated.
func (c *EvalContext) CurrentTable() string {
	return c.table
}

// whole returns a derived context with the current row cleared, so column
// references yield whole arrays.
func (c *EvalContext) whole() *EvalContext {
	if !c.inRow {
		return c
	}
	cp := *c
	cp.inRow = false
	return &cp
}

// atRow returns a derived context positioned on one row of a table.
func (c *EvalContext) atRow(table string, row int) *EvalContext {
	cp := *c
	cp.table = table
	cp.row = row
	cp.inRow = true
	cp.rowCount = c.tableRowCount(table)
	return &cp
}

// forTable scopes bare names to a table without entering row mode.
func (c *EvalContext) forTable(table string) *EvalContext {
	cp := *c
	cp.table = table
	cp.inRow = false
	cp.rowCount = c.tableRowCount(table)
	return &cp
}

// bind returns a derived context with extra local names, used by LET and
// lambda invocation.
func (c *EvalContext) bind(names []string, values []formula.Value) *EvalContext {
	cp := *c
	cp.locals = make(map[string]formula.Value, len(c.locals)+len(names))
	for k, v := range c.locals {
		cp.locals[k] = v
	}
	for i, name := range names {
		cp.locals[name] = values[i]
	}
	return &cp
}

func (c *EvalContext) tableRowCount(table string) int {
	for _, values := range c.Tables[table] {
		return len(values)
	}
	return 0
}

// SetColumn stores a calculated column so later formulas can reference it.
func (c *EvalContext) SetColumn(table, column string, values []formula.Value) {
	cols, ok := c.Tables[table]
	if !ok {
		cols = map[string][]formula.Value{}
		c.Tables[table] = cols
	}
	cols[column] = values
}

// budgetCheckInterval is how many steps pass between context checks.
const budgetCheckInterval = 1024

// budget bounds one calculation pass in steps and wall time.
type budget struct {
	ctx      context.Context
	steps    int64
	maxSteps int64
}

func (b *budget) step() error {
	b.steps++
	if b.maxSteps > 0 && b.steps > b.maxSteps {
		return formula.NewApplicationError(formula.ResourceExhausted,
			fmt.Sprintf("evaluation step budget of %d exhausted", b.maxSteps))
	}
	if b.steps%budgetCheckInterval == 0 {
		return b.check()
	}
	return nil
}

func (b *budget) check() error {
	if err := b.ctx.Err(); err != nil {
		return formula.NewApplicationError(formula.DeadlineExceeded,
			fmt.Sprintf("calculation cancelled after %d steps: %v", b.steps, err))
	}
	return nil
}
