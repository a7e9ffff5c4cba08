package engine

import (
	"math"
	"strings"

	"github.com/mollendorff-ai/forge/internal/formula"
)

// defaultVarianceThreshold is the relative band VARIANCE_STATUS treats as
// on budget.
const defaultVarianceThreshold = 0.01

func registerForge(r registrar) {
	r.add(CategoryForge,
		def("SCENARIO", "SCENARIO(scenario_name, variable_name)", 2, 2, fnScenario),
		def("VARIANCE", "VARIANCE(actual, budget)", 2, 2, fnVariance),
		def("VARIANCE_PCT", "VARIANCE_PCT(actual, budget)", 2, 2, fnVariancePct),
		def("VARIANCE_STATUS", "VARIANCE_STATUS(actual, budget, [threshold | \"cost\"])", 2, 3, fnVarianceStatus),
		def("BREAKEVEN_UNITS", "BREAKEVEN_UNITS(fixed_costs, unit_price, variable_cost)", 3, 3, fnBreakevenUnits),
		def("BREAKEVEN_REVENUE", "BREAKEVEN_REVENUE(fixed_costs, contribution_margin_pct)", 2, 2, fnBreakevenRevenue),
	)
}

// fnScenario reads a variable override from a named scenario of the model.
func fnScenario(c *Call) (formula.Value, error) {
	name, err := c.Text(0)
	if err != nil {
		return formula.Null, err
	}
	variable, err := c.Text(1)
	if err != nil {
		return formula.Null, err
	}
	scenario, ok := c.Context().Scenarios[name]
	if !ok {
		return formula.Null, c.errorf(formula.ErrorCodeRef, "Scenario '%s' not found", name)
	}
	v, ok := scenario[variable]
	if !ok {
		return formula.Null, c.errorf(formula.ErrorCodeRef, "Variable '%s' not found in scenario '%s'", variable, name)
	}
	return formula.Number(v), nil
}

func fnVariance(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1)
	if err != nil {
		return formula.Null, err
	}
	return formula.Number(args[0] - args[1]), nil
}

func fnVariancePct(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1)
	if err != nil {
		return formula.Null, err
	}
	actual, budget := args[0], args[1]
	if budget == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeDiv0, "budget cannot be zero")
	}
	return formula.Number((actual - budget) / budget), nil
}

// fnVarianceStatus returns 1 (favorable), 0 (within threshold) or -1
// (unfavorable). With "cost" as the third argument spending under budget is
// favorable.
func fnVarianceStatus(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1)
	if err != nil {
		return formula.Null, err
	}
	actual, budget := args[0], args[1]
	threshold, cost := defaultVarianceThreshold, false
	if c.Has(2) {
		v, err := c.Eval(2)
		if err != nil {
			return formula.Null, err
		}
		switch v.Kind() {
		case formula.KindText:
			cost = strings.EqualFold(v.Str(), "cost")
		case formula.KindNumber:
			threshold = v.Float()
		}
	}
	if budget == 0 {
		return formula.Number(sign(actual)), nil
	}
	pct := (actual - budget) / math.Abs(budget)
	switch {
	case math.Abs(pct) <= threshold:
		return formula.Number(0), nil
	case cost:
		return formula.Number(-sign(pct)), nil
	}
	return formula.Number(sign(pct)), nil
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func fnBreakevenUnits(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1, 2)
	if err != nil {
		return formula.Null, err
	}
	fixed, price, variable := args[0], args[1], args[2]
	margin := price - variable
	if margin <= 0 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "unit_price must be greater than variable_cost")
	}
	return formula.Number(fixed / margin), nil
}

func fnBreakevenRevenue(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1)
	if err != nil {
		return formula.Null, err
	}
	fixed, ratio := args[0], args[1]
	if ratio <= 0 || ratio > 1 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "contribution_margin_pct must be between 0 and 1 (exclusive of 0)")
	}
	return formula.Number(fixed / ratio), nil
}
