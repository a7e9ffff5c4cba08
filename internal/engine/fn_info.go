package engine

import (
	"math"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerInfo(r registrar) {
	r.add(CategoryInfo,
		def("ISBLANK", "ISBLANK(value)", 1, 1, isKind(func(v formula.Value) bool {
			return v.IsNull() || v.IsText() && v.Str() == ""
		})),
		def("ISNUMBER", "ISNUMBER(value)", 1, 1, isKind(formula.Value.IsNumber)),
		def("ISTEXT", "ISTEXT(value)", 1, 1, isKind(formula.Value.IsText)),
		def("ISLOGICAL", "ISLOGICAL(value)", 1, 1, isKind(formula.Value.IsBoolean)),
		def("ISERROR", "ISERROR(value)", 1, 1, fnIsError),
		def("ISNA", "ISNA(value)", 1, 1, fnIsNA),
		def("ISEVEN", "ISEVEN(value)", 1, 1, parity(true)),
		def("ISODD", "ISODD(value)", 1, 1, parity(false)),
		def("ISREF", "ISREF(value)", 1, 1, fnIsRef),
		// formulas are not values; nothing a formula can reference is one
		def("ISFORMULA", "ISFORMULA(reference)", 1, 1, func(*Call) (formula.Value, error) {
			return formula.Boolean(false), nil
		}),
		def("NA", "NA()", 0, 0, func(c *Call) (formula.Value, error) {
			return formula.Null, c.errorf(formula.ErrorCodeNA, "value not available")
		}),
		def("TYPE", "TYPE(value)", 1, 1, fnType),
		def("N", "N(value)", 1, 1, fnN),
	)
}

func isKind(pred func(formula.Value) bool) Handler {
	return func(c *Call) (formula.Value, error) {
		v, err := c.Eval(0)
		if err != nil {
			return formula.Null, err
		}
		return formula.Boolean(pred(v)), nil
	}
}

// fnIsError is true for any formula error and for Null.
func fnIsError(c *Call) (formula.Value, error) {
	v, err := c.Eval(0)
	if err != nil {
		if _, ok := recoverable(err); ok {
			return formula.Boolean(true), nil
		}
		return formula.Null, err
	}
	return formula.Boolean(v.IsNull()), nil
}

func fnIsNA(c *Call) (formula.Value, error) {
	v, err := c.Eval(0)
	if err != nil {
		if ferr, ok := recoverable(err); ok {
			return formula.Boolean(ferr.Code == formula.ErrorCodeNA), nil
		}
		return formula.Null, err
	}
	return formula.Boolean(v.IsNull()), nil
}

func parity(even bool) Handler {
	return func(c *Call) (formula.Value, error) {
		n, err := c.Number(0)
		if err != nil {
			return formula.Null, err
		}
		isEven := math.Mod(math.Trunc(n), 2) == 0
		return formula.Boolean(isEven == even), nil
	}
}

// fnIsRef is true when the argument is a reference that resolves.
func fnIsRef(c *Call) (formula.Value, error) {
	switch c.Args[0].(type) {
	case *formula.ScalarRefNode, *formula.ColumnRefNode, *formula.IndexedRefNode:
	default:
		return formula.Boolean(false), nil
	}
	_, err := c.Eval(0)
	if err != nil {
		if _, ok := recoverable(err); ok {
			return formula.Boolean(false), nil
		}
		return formula.Null, err
	}
	return formula.Boolean(true), nil
}

// fnType follows spreadsheet type codes: 1 number, 2 text, 4 boolean,
// 16 error, 64 array. Dates are numbers.
func fnType(c *Call) (formula.Value, error) {
	v, err := c.Eval(0)
	if err != nil {
		if _, ok := recoverable(err); ok {
			return formula.Number(16), nil
		}
		return formula.Null, err
	}
	switch v.Kind() {
	case formula.KindNumber, formula.KindDate:
		return formula.Number(1), nil
	case formula.KindText:
		return formula.Number(2), nil
	case formula.KindBoolean:
		return formula.Number(4), nil
	case formula.KindArray:
		return formula.Number(64), nil
	}
	return formula.Number(16), nil
}

func fnN(c *Call) (formula.Value, error) {
	v, err := c.Eval(0)
	if err != nil {
		return formula.Null, err
	}
	switch v.Kind() {
	case formula.KindNumber:
		return v, nil
	case formula.KindBoolean, formula.KindDate:
		n, _ := v.AsNumber()
		return formula.Number(n), nil
	}
	return formula.Number(0), nil
}
