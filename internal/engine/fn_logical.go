package engine

import (
	"errors"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerLogical(r registrar) {
	r.add(CategoryLogical,
		def("IF", "IF(condition, then, [else])", 2, 3, fnIf),
		def("AND", "AND(value, ...)", 1, -1, fnAnd),
		def("OR", "OR(value, ...)", 1, -1, fnOr),
		def("XOR", "XOR(value, ...)", 1, -1, fnXor),
		def("NOT", "NOT(value)", 1, 1, fnNot),
		def("IFERROR", "IFERROR(value, fallback)", 2, 2, fnIfError),
		def("IFNA", "IFNA(value, fallback)", 2, 2, fnIfNA),
		def("IFS", "IFS(condition1, value1, ...)", 2, -1, fnIfs),
		def("SWITCH", "SWITCH(expression, value1, result1, ..., [default])", 2, -1, fnSwitch),
		def("TRUE", "TRUE()", 0, 0, func(*Call) (formula.Value, error) { return formula.Boolean(true), nil }),
		def("FALSE", "FALSE()", 0, 0, func(*Call) (formula.Value, error) { return formula.Boolean(false), nil }),
	)
}

// fnIf evaluates only the selected branch.
func fnIf(c *Call) (formula.Value, error) {
	cond, err := c.Eval(0)
	if err != nil {
		return formula.Null, err
	}
	if cond.IsTruthy() {
		return c.Eval(1)
	}
	if c.Has(2) {
		return c.Eval(2)
	}
	return formula.Boolean(false), nil
}

func fnAnd(c *Call) (formula.Value, error) {
	for i := range c.Args {
		v, err := c.Eval(i)
		if err != nil {
			return formula.Null, err
		}
		if !v.IsTruthy() {
			return formula.Boolean(false), nil
		}
	}
	return formula.Boolean(true), nil
}

func fnOr(c *Call) (formula.Value, error) {
	for i := range c.Args {
		v, err := c.Eval(i)
		if err != nil {
			return formula.Null, err
		}
		if v.IsTruthy() {
			return formula.Boolean(true), nil
		}
	}
	return formula.Boolean(false), nil
}

func fnXor(c *Call) (formula.Value, error) {
	odd := false
	for i := range c.Args {
		v, err := c.Eval(i)
		if err != nil {
			return formula.Null, err
		}
		if v.IsTruthy() {
			odd = !odd
		}
	}
	return formula.Boolean(odd), nil
}

func fnNot(c *Call) (formula.Value, error) {
	v, err := c.Eval(0)
	if err != nil {
		return formula.Null, err
	}
	return formula.Boolean(!v.IsTruthy()), nil
}

// recoverable reports whether err is a formula error IFERROR may replace.
// Budget and cancellation errors always propagate.
func recoverable(err error) (*formula.FormulaError, bool) {
	var ferr *formula.FormulaError
	if errors.As(err, &ferr) {
		return ferr, true
	}
	return nil, false
}

func fnIfError(c *Call) (formula.Value, error) {
	v, err := c.Eval(0)
	if err == nil {
		return v, nil
	}
	if _, ok := recoverable(err); !ok {
		return formula.Null, err
	}
	return c.Eval(1)
}

// fnIfNA substitutes the fallback for #N/A errors and for Null.
func fnIfNA(c *Call) (formula.Value, error) {
	v, err := c.Eval(0)
	if err != nil {
		if ferr, ok := recoverable(err); ok && ferr.Code == formula.ErrorCodeNA {
			return c.Eval(1)
		}
		return formula.Null, err
	}
	if v.IsNull() {
		return c.Eval(1)
	}
	return v, nil
}

func fnIfs(c *Call) (formula.Value, error) {
	if len(c.Args)%2 != 0 {
		return formula.Null, c.errorf(formula.ErrorCodeArity, "requires an even number of arguments (condition, value pairs)")
	}
	for i := 0; i < len(c.Args); i += 2 {
		cond, err := c.Eval(i)
		if err != nil {
			return formula.Null, err
		}
		if cond.IsTruthy() {
			return c.Eval(i + 1)
		}
	}
	return formula.Null, c.errorf(formula.ErrorCodeNA, "No matching condition found (consider adding TRUE as final condition)")
}

func fnSwitch(c *Call) (formula.Value, error) {
	target, err := c.Eval(0)
	if err != nil {
		return formula.Null, err
	}
	rest := len(c.Args) - 1
	for i := 1; i+1 < len(c.Args); i += 2 {
		candidate, err := c.Eval(i)
		if err != nil {
			return formula.Null, err
		}
		if formula.Equal(target, candidate) {
			return c.Eval(i + 1)
		}
	}
	if rest%2 == 1 {
		return c.Eval(len(c.Args) - 1)
	}
	return formula.Null, c.errorf(formula.ErrorCodeNA, "No match found")
}
