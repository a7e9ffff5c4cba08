package engine

import (
	"math"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerTrig(r registrar) {
	r.add(CategoryTrig,
		def("SIN", "SIN(radians)", 1, 1, unaryMath(math.Sin)),
		def("COS", "COS(radians)", 1, 1, unaryMath(math.Cos)),
		def("TAN", "TAN(radians)", 1, 1, unaryMath(math.Tan)),
		def("ASIN", "ASIN(number)", 1, 1, unitDomain(math.Asin)),
		def("ACOS", "ACOS(number)", 1, 1, unitDomain(math.Acos)),
		def("ATAN", "ATAN(number)", 1, 1, unaryMath(math.Atan)),
		def("SINH", "SINH(number)", 1, 1, unaryMath(math.Sinh)),
		def("COSH", "COSH(number)", 1, 1, unaryMath(math.Cosh)),
		def("TANH", "TANH(number)", 1, 1, unaryMath(math.Tanh)),
	)
}

// unitDomain guards inverse functions defined on [-1, 1].
func unitDomain(fn func(float64) float64) Handler {
	return unaryMathErr(func(c *Call, x float64) (float64, error) {
		if x < -1 || x > 1 {
			return 0, c.errorf(formula.ErrorCodeNum, "argument must be between -1 and 1")
		}
		return fn(x), nil
	})
}
