package engine

import (
	"math"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerFinancial(r registrar) {
	r.add(CategoryFinancial,
		def("PMT", "PMT(rate, nper, pv, [fv], [type])", 3, 5, fnPmt),
		def("FV", "FV(rate, nper, pmt, [pv], [type])", 3, 5, fnFv),
		def("PV", "PV(rate, nper, pmt, [fv], [type])", 3, 5, fnPv),
		def("NPER", "NPER(rate, pmt, pv, [fv], [type])", 3, 5, fnNper),
		def("RATE", "RATE(nper, pmt, pv, [fv], [type], [guess])", 3, 6, fnRate),
		def("NPV", "NPV(rate, value1, ...)", 2, -1, fnNpv),
		def("IRR", "IRR(values, [guess])", 1, 2, fnIrr),
		def("MIRR", "MIRR(values, finance_rate, reinvest_rate)", 3, 3, fnMirr),
		def("XNPV", "XNPV(rate, values, dates)", 3, 3, fnXnpv),
		def("XIRR", "XIRR(values, dates, [guess])", 2, 3, fnXirr),
		def("IPMT", "IPMT(rate, per, nper, pv, [fv], [type])", 4, 6, fnIpmt),
		def("PPMT", "PPMT(rate, per, nper, pv, [fv], [type])", 4, 6, fnPpmt),
		def("EFFECT", "EFFECT(nominal_rate, npery)", 2, 2, fnEffect),
		def("NOMINAL", "NOMINAL(effect_rate, npery)", 2, 2, fnNominal),
		def("SLN", "SLN(cost, salvage, life)", 3, 3, fnSln),
		def("DB", "DB(cost, salvage, life, period, [month])", 4, 5, fnDb),
		def("DDB", "DDB(cost, salvage, life, period, [factor])", 4, 5, fnDdb),
		def("PRICEDISC", "PRICEDISC(settlement, maturity, discount, redemption, [basis])", 4, 5, fnPriceDisc),
		def("YIELDDISC", "YIELDDISC(settlement, maturity, pr, redemption, [basis])", 4, 5, fnYieldDisc),
		def("ACCRINT", "ACCRINT(issue, first_interest, settlement, rate, par, frequency, [basis])", 6, 7, fnAccrint),
	)
}

// numbers evaluates arguments idx... as required numbers.
func (c *Call) numbers(idx ...int) ([]float64, error) {
	out := make([]float64, len(idx))
	for k, i := range idx {
		n, err := c.Number(i)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

// paymentDue reads the timing flag: 0 pays at period end, 1 at the start.
func (c *Call) paymentDue(i int) (bool, error) {
	t, err := c.NumberOr(i, 0)
	if err != nil {
		return false, err
	}
	return t != 0, nil
}

func (c *Call) finite(v float64) (formula.Value, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "result is not a finite number")
	}
	return formula.Number(v), nil
}

func dueFactor(rate float64, due bool) float64 {
	if due {
		return 1 + rate
	}
	return 1
}

func pmt(rate, nper, pv, fv float64, due bool) float64 {
	if rate == 0 {
		return -(pv + fv) / nper
	}
	growth := math.Pow(1+rate, nper)
	return (-pv*rate*growth - fv*rate) / (growth - 1) / dueFactor(rate, due)
}

func futureValue(rate, nper, pmt, pv float64, due bool) float64 {
	if rate == 0 {
		return -pv - pmt*nper
	}
	growth := math.Pow(1+rate, nper)
	return -pv*growth - pmt*dueFactor(rate, due)*(growth-1)/rate
}

func fnPmt(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1, 2)
	if err != nil {
		return formula.Null, err
	}
	rate, nper, pv := args[0], args[1], args[2]
	fv, err := c.NumberOr(3, 0)
	if err != nil {
		return formula.Null, err
	}
	due, err := c.paymentDue(4)
	if err != nil {
		return formula.Null, err
	}
	if nper == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeDiv0, "nper must not be zero")
	}
	return c.finite(pmt(rate, nper, pv, fv, due))
}

func fnFv(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1, 2)
	if err != nil {
		return formula.Null, err
	}
	pv, err := c.NumberOr(3, 0)
	if err != nil {
		return formula.Null, err
	}
	due, err := c.paymentDue(4)
	if err != nil {
		return formula.Null, err
	}
	return c.finite(futureValue(args[0], args[1], args[2], pv, due))
}

func fnPv(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1, 2)
	if err != nil {
		return formula.Null, err
	}
	rate, nper, payment := args[0], args[1], args[2]
	fv, err := c.NumberOr(3, 0)
	if err != nil {
		return formula.Null, err
	}
	due, err := c.paymentDue(4)
	if err != nil {
		return formula.Null, err
	}
	if rate == 0 {
		return formula.Number(-fv - payment*nper), nil
	}
	growth := math.Pow(1+rate, nper)
	return c.finite((-fv - payment*dueFactor(rate, due)*(growth-1)/rate) / growth)
}

func fnNper(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1, 2)
	if err != nil {
		return formula.Null, err
	}
	rate, payment, pv := args[0], args[1], args[2]
	fv, err := c.NumberOr(3, 0)
	if err != nil {
		return formula.Null, err
	}
	due, err := c.paymentDue(4)
	if err != nil {
		return formula.Null, err
	}
	if rate == 0 {
		if payment == 0 {
			return formula.Null, c.errorf(formula.ErrorCodeDiv0, "pmt must not be zero when rate is zero")
		}
		return formula.Number(-(pv + fv) / payment), nil
	}
	adj := payment * dueFactor(rate, due)
	ratio := (adj - fv*rate) / (adj + pv*rate)
	if ratio <= 0 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "no solution for the given cash flows")
	}
	return c.finite(math.Log(ratio) / math.Log(1+rate))
}

// solved returns a solver result, logging when Newton-Raphson stopped
// without converging.
func (c *Call) solved(rate float64, converged bool) (formula.Value, error) {
	if !converged {
		c.Logger().Warn("rate solver did not converge", "function", c.Name, "rate", rate)
	}
	return c.finite(rate)
}

func fnRate(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1, 2)
	if err != nil {
		return formula.Null, err
	}
	fv, err := c.NumberOr(3, 0)
	if err != nil {
		return formula.Null, err
	}
	due, err := c.paymentDue(4)
	if err != nil {
		return formula.Null, err
	}
	guess, err := c.NumberOr(5, defaultGuess)
	if err != nil {
		return formula.Null, err
	}
	return c.solved(newton(annuityObjective(args[0], args[1], args[2], fv, due), guess))
}

// fnNpv discounts every numeric element from period 1; arrays are
// flattened in order and periods continue across arguments.
func fnNpv(c *Call) (formula.Value, error) {
	rate, err := c.Number(0)
	if err != nil {
		return formula.Null, err
	}
	flows, err := c.Numbers(1)
	if err != nil {
		return formula.Null, err
	}
	npv := 0.0
	for i, cf := range flows {
		npv += cf / math.Pow(1+rate, float64(i+1))
	}
	return c.finite(npv)
}

func periods(n int) []float64 {
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i)
	}
	return times
}

func fnIrr(c *Call) (formula.Value, error) {
	flows, err := c.ArrayNumbers(0)
	if err != nil {
		return formula.Null, err
	}
	if len(flows) == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "requires cash flows")
	}
	guess, err := c.NumberOr(1, defaultGuess)
	if err != nil {
		return formula.Null, err
	}
	return c.solved(newton(npvObjective(flows, periods(len(flows))), guess))
}

// fnMirr discounts negative flows at the finance rate and compounds positive
// flows at the reinvestment rate to the final period.
func fnMirr(c *Call) (formula.Value, error) {
	flows, err := c.ArrayNumbers(0)
	if err != nil {
		return formula.Null, err
	}
	rates, err := c.numbers(1, 2)
	if err != nil {
		return formula.Null, err
	}
	financeRate, reinvestRate := rates[0], rates[1]
	if len(flows) < 2 {
		return formula.Null, c.errorf(formula.ErrorCodeDiv0, "requires at least two cash flows")
	}
	n := len(flows)
	var negative, positive float64
	for i, cf := range flows {
		if cf < 0 {
			negative += cf / math.Pow(1+financeRate, float64(i))
		} else {
			positive += cf * math.Pow(1+reinvestRate, float64(n-1-i))
		}
	}
	if negative == 0 || positive == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeDiv0, "requires both positive and negative cash flows")
	}
	return c.finite(math.Pow(-positive/negative, 1/float64(n-1)) - 1)
}

// datedFlows evaluates a cash flow array and a date array of equal length
// and returns year fractions from the first date (actual/365).
func datedFlows(c *Call, valuesArg, datesArg int) ([]float64, []float64, error) {
	flows, err := c.ArrayNumbers(valuesArg)
	if err != nil {
		return nil, nil, err
	}
	dates, err := c.WholeValues(datesArg)
	if err != nil {
		return nil, nil, err
	}
	if len(flows) == 0 || len(flows) != len(dates) {
		return nil, nil, c.errorf(formula.ErrorCodeNum, "values and dates must have same length")
	}
	times := make([]float64, len(dates))
	var base float64
	for i, d := range dates {
		t, err := dateArg(c, d)
		if err != nil {
			return nil, nil, err
		}
		serial := formula.DateToSerial(t)
		if i == 0 {
			base = serial
		}
		times[i] = (serial - base) / 365
	}
	return flows, times, nil
}

func fnXnpv(c *Call) (formula.Value, error) {
	rate, err := c.Number(0)
	if err != nil {
		return formula.Null, err
	}
	flows, times, err := datedFlows(c, 1, 2)
	if err != nil {
		return formula.Null, err
	}
	npv, _ := npvObjective(flows, times)(rate)
	return c.finite(npv)
}

func fnXirr(c *Call) (formula.Value, error) {
	flows, times, err := datedFlows(c, 0, 1)
	if err != nil {
		return formula.Null, err
	}
	guess, err := c.NumberOr(2, defaultGuess)
	if err != nil {
		return formula.Null, err
	}
	return c.solved(newton(npvObjective(flows, times), guess))
}

// interestPart splits period per of an annuity. The balance at the start of
// the period comes from the forward FV identity; interest is -(balance*rate).
func interestPart(c *Call) (payment, interest float64, err error) {
	args, err := c.numbers(0, 1, 2, 3)
	if err != nil {
		return 0, 0, err
	}
	rate, per, nper, pv := args[0], args[1], args[2], args[3]
	fv, err := c.NumberOr(4, 0)
	if err != nil {
		return 0, 0, err
	}
	due, err := c.paymentDue(5)
	if err != nil {
		return 0, 0, err
	}
	if nper == 0 {
		return 0, 0, c.errorf(formula.ErrorCodeDiv0, "nper must not be zero")
	}
	if per < 1 || per > nper {
		return 0, 0, c.errorf(formula.ErrorCodeNum, "per must be between 1 and nper")
	}
	payment = pmt(rate, nper, pv, fv, due)
	if due && per == 1 {
		return payment, 0, nil
	}
	interest = futureValue(rate, per-1, payment, pv, due) * rate
	if due {
		interest /= 1 + rate
	}
	return payment, interest, nil
}

func fnIpmt(c *Call) (formula.Value, error) {
	_, interest, err := interestPart(c)
	if err != nil {
		return formula.Null, err
	}
	return c.finite(interest)
}

func fnPpmt(c *Call) (formula.Value, error) {
	payment, interest, err := interestPart(c)
	if err != nil {
		return formula.Null, err
	}
	return c.finite(payment - interest)
}

func compounding(c *Call) (float64, int, error) {
	rate, err := c.Number(0)
	if err != nil {
		return 0, 0, err
	}
	npery, err := c.Int(1)
	if err != nil {
		return 0, 0, err
	}
	if rate <= 0 || npery < 1 {
		return 0, 0, c.errorf(formula.ErrorCodeNum, "rate must be positive and npery at least 1")
	}
	return rate, npery, nil
}

func fnEffect(c *Call) (formula.Value, error) {
	nominal, npery, err := compounding(c)
	if err != nil {
		return formula.Null, err
	}
	n := float64(npery)
	return c.finite(math.Pow(1+nominal/n, n) - 1)
}

func fnNominal(c *Call) (formula.Value, error) {
	effect, npery, err := compounding(c)
	if err != nil {
		return formula.Null, err
	}
	n := float64(npery)
	return c.finite(n * (math.Pow(1+effect, 1/n) - 1))
}

func fnSln(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1, 2)
	if err != nil {
		return formula.Null, err
	}
	cost, salvage, life := args[0], args[1], args[2]
	if life == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeDiv0, "life cannot be zero")
	}
	return formula.Number((cost - salvage) / life), nil
}

// fnDb is fixed-declining balance. The rate is rounded to three decimals;
// the first period and the period after the stated life are pro-rated by
// month.
func fnDb(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1, 2, 3)
	if err != nil {
		return formula.Null, err
	}
	cost, salvage, life, period := args[0], args[1], args[2], args[3]
	month, err := c.NumberOr(4, 12)
	if err != nil {
		return formula.Null, err
	}
	if life == 0 || cost == 0 {
		return formula.Number(0), nil
	}
	if period < 1 || month < 1 || month > 12 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "period must be >= 1 and month between 1 and 12")
	}
	// a partial first year leaves a partial year after life
	if period > life+1 || (month == 12 && period > life) {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "period %s is beyond life %s", formula.FormatNumber(period), formula.FormatNumber(life))
	}
	rate := math.Round((1-math.Pow(salvage/cost, 1/life))*1000) / 1000
	remaining, depreciation := cost, 0.0
	last := int(life) + 1
	for p := 1; p <= int(period); p++ {
		if err := c.step(); err != nil {
			return formula.Null, err
		}
		switch p {
		case 1:
			depreciation = cost * rate * month / 12
		case last:
			depreciation = remaining * rate * (12 - month) / 12
		default:
			depreciation = remaining * rate
		}
		remaining -= depreciation
	}
	return c.finite(depreciation)
}

// fnDdb is double-declining balance; no period takes the balance below
// salvage.
func fnDdb(c *Call) (formula.Value, error) {
	args, err := c.numbers(0, 1, 2, 3)
	if err != nil {
		return formula.Null, err
	}
	cost, salvage, life, period := args[0], args[1], args[2], args[3]
	factor, err := c.NumberOr(4, 2)
	if err != nil {
		return formula.Null, err
	}
	if life == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeDiv0, "life cannot be zero")
	}
	if period < 1 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "period must be >= 1")
	}
	if period > life {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "period %s is beyond life %s", formula.FormatNumber(period), formula.FormatNumber(life))
	}
	rate := factor / life
	remaining, depreciation := cost, 0.0
	for range int(period) {
		if err := c.step(); err != nil {
			return formula.Null, err
		}
		depreciation = remaining * rate
		if remaining-depreciation < salvage {
			depreciation = remaining - salvage
		}
		depreciation = max(depreciation, 0)
		remaining -= depreciation
	}
	return formula.Number(depreciation), nil
}

// discountTerm returns the days from settlement to maturity. Securities
// use a 360-day year; basis is validated but not applied.
func discountTerm(c *Call, basisArg int) (float64, error) {
	settlement, err := c.Date(0)
	if err != nil {
		return 0, err
	}
	maturity, err := c.Date(1)
	if err != nil {
		return 0, err
	}
	if err := c.basis(basisArg); err != nil {
		return 0, err
	}
	days := float64(daysBetween(settlement, maturity))
	if days <= 0 {
		return 0, c.errorf(formula.ErrorCodeNum, "maturity must be after settlement")
	}
	return days, nil
}

func (c *Call) basis(i int) error {
	basis, err := c.IntOr(i, 0)
	if err != nil {
		return err
	}
	if basis < 0 || basis > 4 {
		return c.errorf(formula.ErrorCodeNum, "basis must be between 0 and 4")
	}
	return nil
}

func fnPriceDisc(c *Call) (formula.Value, error) {
	days, err := discountTerm(c, 4)
	if err != nil {
		return formula.Null, err
	}
	args, err := c.numbers(2, 3)
	if err != nil {
		return formula.Null, err
	}
	discount, redemption := args[0], args[1]
	if discount <= 0 || redemption <= 0 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "discount and redemption must be positive")
	}
	return formula.Number(redemption - discount*redemption*days/360), nil
}

func fnYieldDisc(c *Call) (formula.Value, error) {
	days, err := discountTerm(c, 4)
	if err != nil {
		return formula.Null, err
	}
	args, err := c.numbers(2, 3)
	if err != nil {
		return formula.Null, err
	}
	price, redemption := args[0], args[1]
	if price <= 0 || redemption <= 0 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "pr and redemption must be positive")
	}
	return formula.Number((redemption - price) / price * 360 / days), nil
}

// fnAccrint accrues simple interest from issue to settlement on a 360-day
// year.
func fnAccrint(c *Call) (formula.Value, error) {
	issue, err := c.Date(0)
	if err != nil {
		return formula.Null, err
	}
	if _, err := c.Date(1); err != nil {
		return formula.Null, err
	}
	settlement, err := c.Date(2)
	if err != nil {
		return formula.Null, err
	}
	args, err := c.numbers(3, 4)
	if err != nil {
		return formula.Null, err
	}
	rate, par := args[0], args[1]
	frequency, err := c.Int(5)
	if err != nil {
		return formula.Null, err
	}
	if err := c.basis(6); err != nil {
		return formula.Null, err
	}
	if rate <= 0 || par <= 0 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "rate and par must be positive")
	}
	if frequency != 1 && frequency != 2 && frequency != 4 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "frequency must be 1, 2, or 4")
	}
	days := float64(daysBetween(issue, settlement))
	if days <= 0 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "settlement must be after issue")
	}
	return formula.Number(par * rate * days / 360), nil
}
