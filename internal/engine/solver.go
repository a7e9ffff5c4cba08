package engine

import "math"

const (
	defaultGuess      = 0.1
	solverIterations  = 100
	solverTolerance   = 1e-7
	minimumDerivative = 1e-10
)

// objective returns f(rate) and f'(rate).
type objective func(rate float64) (float64, float64)

// newton runs Newton-Raphson from guess. It stops early when the rate moves
// less than solverTolerance (converged) or when the derivative vanishes, in
// which case the last rate is returned as is. The second result reports
// whether the iteration converged.
func newton(f objective, guess float64) (float64, bool) {
	rate := guess
	for range solverIterations {
		y, dy := f(rate)
		if math.Abs(dy) < minimumDerivative || math.IsNaN(dy) {
			return rate, false
		}
		next := rate - y/dy
		if math.Abs(next-rate) < solverTolerance {
			return next, true
		}
		rate = next
	}
	return rate, false
}

// npvObjective discounts flows at fractional period times.
func npvObjective(flows, times []float64) objective {
	return func(rate float64) (float64, float64) {
		var y, dy float64
		for i, cf := range flows {
			t := times[i]
			factor := math.Pow(1+rate, t)
			y += cf / factor
			if t != 0 {
				dy -= t * cf / (factor * (1 + rate))
			}
		}
		return y, dy
	}
}

// annuityObjective is the time value of money identity
// pv*(1+r)^n + pmt*(1+r*type)*((1+r)^n-1)/r + fv = 0 and its derivative.
func annuityObjective(nper, pmt, pv, fv float64, due bool) objective {
	t := 0.0
	if due {
		t = 1
	}
	return func(rate float64) (float64, float64) {
		growth := math.Pow(1+rate, nper)
		g := (growth - 1) / rate
		dg := (nper*rate*math.Pow(1+rate, nper-1) - growth + 1) / (rate * rate)
		y := pv*growth + pmt*(1+rate*t)*g + fv
		dy := nper*pv*math.Pow(1+rate, nper-1) + pmt*(t*g+(1+rate*t)*dg)
		return y, dy
	}
}
