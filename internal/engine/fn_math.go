package engine

import (
	"math"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerMath(r registrar) {
	r.add(CategoryMath,
		def("ABS", "ABS(number)", 1, 1, unaryMath(math.Abs)),
		def("SQRT", "SQRT(number)", 1, 1, unaryMathErr(func(c *Call, x float64) (float64, error) {
			if x < 0 {
				return 0, c.errorf(formula.ErrorCodeNum, "SQRT of negative number")
			}
			return math.Sqrt(x), nil
		})),
		def("ROUND", "ROUND(number, [digits])", 1, 2, roundWith(func(x float64) float64 { return math.Round(x) })),
		def("ROUNDUP", "ROUNDUP(number, [digits])", 1, 2, roundWith(func(x float64) float64 {
			return math.Copysign(math.Ceil(math.Abs(x)), x)
		})),
		def("ROUNDDOWN", "ROUNDDOWN(number, [digits])", 1, 2, roundWith(math.Trunc)),
		def("TRUNC", "TRUNC(number, [digits])", 1, 2, roundWith(math.Trunc)),
		def("FLOOR", "FLOOR(number, [significance])", 1, 2, significance(math.Floor)),
		def("CEILING", "CEILING(number, [significance])", 1, 2, significance(math.Ceil)),
		def("INT", "INT(number)", 1, 1, unaryMath(math.Floor)),
		def("SIGN", "SIGN(number)", 1, 1, unaryMath(func(x float64) float64 {
			switch {
			case x > 0:
				return 1
			case x < 0:
				return -1
			}
			return 0
		})),
		def("MOD", "MOD(number, divisor)", 2, 2, fnMod),
		def("POWER", "POWER(base, exponent)", 2, 2, fnPower),
		def("POW", "POW(base, exponent)", 2, 2, fnPower),
		def("EXP", "EXP(number)", 1, 1, unaryMath(math.Exp)),
		def("LN", "LN(number)", 1, 1, positiveLog("LN of non-positive number", math.Log)),
		def("LOG10", "LOG10(number)", 1, 1, positiveLog("LOG10 of non-positive number", math.Log10)),
		def("LOG", "LOG(number, [base])", 1, 2, fnLog),
		def("PI", "PI()", 0, 0, constant(math.Pi)),
		def("E", "E()", 0, 0, constant(math.E)),
		def("DEGREES", "DEGREES(radians)", 1, 1, unaryMath(func(x float64) float64 { return x * 180 / math.Pi })),
		def("RADIANS", "RADIANS(degrees)", 1, 1, unaryMath(func(x float64) float64 { return x * math.Pi / 180 })),
		def("RAND", "RAND()", 0, 0, fnRand).volatile(),
		def("RANDBETWEEN", "RANDBETWEEN(bottom, top)", 2, 2, fnRandBetween).volatile(),
	)
}

func constant(n float64) Handler {
	return func(*Call) (formula.Value, error) {
		return formula.Number(n), nil
	}
}

// mapNumber applies fn to v, elementwise when v is an array.
func mapNumber(c *Call, v formula.Value, fn func(float64) (float64, error)) (formula.Value, error) {
	if v.IsArray() {
		out := make([]formula.Value, v.Len())
		for i, e := range v.Elements() {
			r, err := mapNumber(c, e, fn)
			if err != nil {
				return formula.Null, err
			}
			out[i] = r
		}
		return formula.Array(out), nil
	}
	x, ok := v.AsNumber()
	if !ok {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "requires a number, got %s", v.Kind())
	}
	r, err := fn(x)
	if err != nil {
		return formula.Null, err
	}
	return formula.Number(r), nil
}

func unaryMath(fn func(float64) float64) Handler {
	return func(c *Call) (formula.Value, error) {
		v, err := c.Eval(0)
		if err != nil {
			return formula.Null, err
		}
		return mapNumber(c, v, func(x float64) (float64, error) { return fn(x), nil })
	}
}

func unaryMathErr(fn func(c *Call, x float64) (float64, error)) Handler {
	return func(c *Call) (formula.Value, error) {
		v, err := c.Eval(0)
		if err != nil {
			return formula.Null, err
		}
		return mapNumber(c, v, func(x float64) (float64, error) { return fn(c, x) })
	}
}

func positiveLog(msg string, fn func(float64) float64) Handler {
	return unaryMathErr(func(c *Call, x float64) (float64, error) {
		if x <= 0 {
			return 0, formula.NewFormulaError(formula.ErrorCodeNum, msg)
		}
		return fn(x), nil
	})
}

// roundWith scales by 10^digits, applies fn and scales back.
func roundWith(fn func(float64) float64) Handler {
	return func(c *Call) (formula.Value, error) {
		digits, err := c.IntOr(1, 0)
		if err != nil {
			return formula.Null, err
		}
		v, err := c.Eval(0)
		if err != nil {
			return formula.Null, err
		}
		m := math.Pow(10, float64(digits))
		return mapNumber(c, v, func(x float64) (float64, error) {
			return fn(x*m) / m, nil
		})
	}
}

func significance(fn func(float64) float64) Handler {
	return func(c *Call) (formula.Value, error) {
		sig, err := c.NumberOr(1, 1)
		if err != nil {
			return formula.Null, err
		}
		v, err := c.Eval(0)
		if err != nil {
			return formula.Null, err
		}
		return mapNumber(c, v, func(x float64) (float64, error) {
			if sig == 0 {
				return 0, nil
			}
			return fn(x/sig) * sig, nil
		})
	}
}

// fnMod takes the sign of the divisor: MOD(-5, 3) = 1.
func fnMod(c *Call) (formula.Value, error) {
	n, err := c.Number(0)
	if err != nil {
		return formula.Null, err
	}
	d, err := c.Number(1)
	if err != nil {
		return formula.Null, err
	}
	if d == 0 {
		return formula.Null, formula.NewFormulaError(formula.ErrorCodeDiv0, "MOD division by zero")
	}
	return formula.Number(n - d*math.Floor(n/d)), nil
}

func fnPower(c *Call) (formula.Value, error) {
	base, err := c.Number(0)
	if err != nil {
		return formula.Null, err
	}
	exp, err := c.Number(1)
	if err != nil {
		return formula.Null, err
	}
	p := math.Pow(base, exp)
	if math.IsNaN(p) {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "result is not a real number")
	}
	return formula.Number(p), nil
}

func fnLog(c *Call) (formula.Value, error) {
	x, err := c.Number(0)
	if err != nil {
		return formula.Null, err
	}
	base, err := c.NumberOr(1, 10)
	if err != nil {
		return formula.Null, err
	}
	if x <= 0 {
		return formula.Null, formula.NewFormulaError(formula.ErrorCodeNum, "LOG of non-positive number")
	}
	if base <= 0 || base == 1 {
		return formula.Null, formula.NewFormulaError(formula.ErrorCodeNum, "LOG base must be positive and not 1")
	}
	return formula.Number(math.Log(x) / math.Log(base)), nil
}

func fnRand(c *Call) (formula.Value, error) {
	return formula.Number(c.RNG().Float64()), nil
}

func fnRandBetween(c *Call) (formula.Value, error) {
	bottom, err := c.Number(0)
	if err != nil {
		return formula.Null, err
	}
	top, err := c.Number(1)
	if err != nil {
		return formula.Null, err
	}
	if bottom > top {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "bottom must be <= top")
	}
	lo, hi := math.Ceil(bottom), math.Floor(top)
	if lo > hi {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "no integers in range")
	}
	return formula.Number(lo + math.Floor(c.RNG().Float64()*(hi-lo+1))), nil
}
