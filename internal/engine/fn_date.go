package engine

import (
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerDate(r registrar) {
	r.add(CategoryDate,
		def("TODAY", "TODAY()", 0, 0, fnToday).volatile(),
		def("NOW", "NOW()", 0, 0, fnNow).volatile(),
		def("DATE", "DATE(year, month, day)", 3, 3, fnDate),
		def("DATEVALUE", "DATEVALUE(text)", 1, 1, fnDateValue),
		def("YEAR", "YEAR(date)", 1, 1, dateComponent(func(t time.Time) int { return t.Year() })),
		def("MONTH", "MONTH(date)", 1, 1, dateComponent(func(t time.Time) int { return int(t.Month()) })),
		def("DAY", "DAY(date)", 1, 1, dateComponent(func(t time.Time) int { return t.Day() })),
		def("TIME", "TIME(hour, minute, second)", 3, 3, fnTime),
		def("HOUR", "HOUR(time)", 1, 1, timeComponent(func(secs int) int { return secs / 3600 })),
		def("MINUTE", "MINUTE(time)", 1, 1, timeComponent(func(secs int) int { return secs / 60 % 60 })),
		def("SECOND", "SECOND(time)", 1, 1, timeComponent(func(secs int) int { return secs % 60 })),
		def("WEEKDAY", "WEEKDAY(date, [type])", 1, 2, fnWeekday),
		def("DAYS", "DAYS(end_date, start_date)", 2, 2, fnDays),
		def("DATEDIF", "DATEDIF(start_date, end_date, unit)", 3, 3, fnDateDif),
		def("EDATE", "EDATE(start_date, months)", 2, 2, fnEDate),
		def("EOMONTH", "EOMONTH(start_date, months)", 2, 2, fnEOMonth),
		def("NETWORKDAYS", "NETWORKDAYS(start_date, end_date, [holidays])", 2, 3, fnNetworkDays),
		def("WORKDAY", "WORKDAY(start_date, days, [holidays])", 2, 3, fnWorkday),
		def("YEARFRAC", "YEARFRAC(start_date, end_date, [basis])", 2, 3, fnYearFrac),
	)
}

// parseDate accepts a Date, a YYYY-MM-DD text, any other text dateparse
// understands, or a serial number.
func parseDate(v formula.Value) (time.Time, bool) {
	switch v.Kind() {
	case formula.KindDate, formula.KindText:
		if t, ok := formula.ParseISODate(v.Str()); ok {
			return t, true
		}
		if v.IsText() {
			if n, ok := v.AsNumber(); ok {
				return formula.SerialToDate(n), true
			}
		}
		t, err := dateparse.ParseIn(strings.TrimSpace(v.Str()), time.UTC)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case formula.KindNumber:
		return formula.SerialToDate(v.Float()), true
	}
	return time.Time{}, false
}

func dateArg(c *Call, v formula.Value) (time.Time, error) {
	t, ok := parseDate(v)
	if !ok {
		return time.Time{}, c.errorf(formula.ErrorCodeValue, "Invalid date: '%s'", v.AsText())
	}
	return t, nil
}

func (c *Call) Date(i int) (time.Time, error) {
	v, err := c.Eval(i)
	if err != nil {
		return time.Time{}, err
	}
	return dateArg(c, v)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(start, end time.Time) int {
	return int(math.Round(formula.DateToSerial(midnight(end)) - formula.DateToSerial(midnight(start))))
}

func fnToday(c *Call) (formula.Value, error) {
	return formula.DateOf(c.Clock().Now()), nil
}

func fnNow(c *Call) (formula.Value, error) {
	return formula.Text(c.Clock().Now().Format("2006-01-02 15:04:05")), nil
}

// fnDate normalizes overflowing months and days the way spreadsheets do:
// DATE(2024, 14, 1) is 2025-02-01.
func fnDate(c *Call) (formula.Value, error) {
	y, err := c.Int(0)
	if err != nil {
		return formula.Null, err
	}
	m, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	d, err := c.Int(2)
	if err != nil {
		return formula.Null, err
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() < 1 || t.Year() > 9999 {
		return formula.Null, c.errorf(formula.ErrorCodeNum, "invalid date %d-%d-%d", y, m, d)
	}
	return formula.DateOf(t), nil
}

func fnDateValue(c *Call) (formula.Value, error) {
	s, err := c.Text(0)
	if err != nil {
		return formula.Null, err
	}
	t, ok := parseDate(formula.Text(s))
	if !ok {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "Invalid date: '%s'", s)
	}
	return formula.Number(math.Floor(formula.DateToSerial(t))), nil
}

func dateComponent(fn func(time.Time) int) Handler {
	return func(c *Call) (formula.Value, error) {
		v, err := c.Eval(0)
		if err != nil {
			return formula.Null, err
		}
		if v.IsArray() {
			out := make([]formula.Value, v.Len())
			for i, e := range v.Elements() {
				t, err := dateArg(c, e)
				if err != nil {
					return formula.Null, err
				}
				out[i] = formula.Number(float64(fn(t)))
			}
			return formula.Array(out), nil
		}
		t, err := dateArg(c, v)
		if err != nil {
			return formula.Null, err
		}
		return formula.Number(float64(fn(t))), nil
	}
}

func fnTime(c *Call) (formula.Value, error) {
	h, err := c.Int(0)
	if err != nil {
		return formula.Null, err
	}
	m, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	s, err := c.Int(2)
	if err != nil {
		return formula.Null, err
	}
	return formula.Number(float64(h*3600+m*60+s) / 86400), nil
}

// secondsOfDay reads "HH:MM:SS", "YYYY-MM-DD HH:MM:SS" or the fractional
// part of a serial.
func secondsOfDay(v formula.Value) (int, bool) {
	if v.IsText() {
		s := v.Str()
		if _, after, ok := strings.Cut(s, " "); ok {
			s = after
		}
		if t, err := time.Parse("15:04:05", s); err == nil {
			return t.Hour()*3600 + t.Minute()*60 + t.Second(), true
		}
	}
	n, ok := v.AsNumber()
	if !ok || v.IsArray() {
		return 0, false
	}
	_, frac := math.Modf(n)
	return int(math.Round(frac * 86400)), true
}

func timeComponent(fn func(secs int) int) Handler {
	return func(c *Call) (formula.Value, error) {
		v, err := c.Eval(0)
		if err != nil {
			return formula.Null, err
		}
		secs, ok := secondsOfDay(v)
		if !ok {
			return formula.Null, c.errorf(formula.ErrorCodeValue, "Could not parse time")
		}
		return formula.Number(float64(fn(secs))), nil
	}
}

// fnWeekday: type 1 Sunday=1, type 2 Monday=1, type 3 Monday=0.
func fnWeekday(c *Call) (formula.Value, error) {
	t, err := c.Date(0)
	if err != nil {
		return formula.Null, err
	}
	kind, err := c.IntOr(1, 1)
	if err != nil {
		return formula.Null, err
	}
	day := int(t.Weekday())
	switch kind {
	case 2:
		return formula.Number(float64((day+6)%7 + 1)), nil
	case 3:
		return formula.Number(float64((day + 6) % 7)), nil
	}
	return formula.Number(float64(day + 1)), nil
}

func fnDays(c *Call) (formula.Value, error) {
	end, err := c.Date(0)
	if err != nil {
		return formula.Null, err
	}
	start, err := c.Date(1)
	if err != nil {
		return formula.Null, err
	}
	return formula.Number(float64(daysBetween(start, end))), nil
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func fnDateDif(c *Call) (formula.Value, error) {
	start, err := c.Date(0)
	if err != nil {
		return formula.Null, err
	}
	end, err := c.Date(1)
	if err != nil {
		return formula.Null, err
	}
	unit, err := c.Text(2)
	if err != nil {
		return formula.Null, err
	}

	var n int
	switch strings.ToUpper(unit) {
	case "D":
		n = daysBetween(start, end)
	case "M":
		n = (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
		if end.Day() < start.Day() {
			n--
		}
		n = max(n, 0)
	case "Y":
		n = end.Year() - start.Year()
		if end.Month() < start.Month() || (end.Month() == start.Month() && end.Day() < start.Day()) {
			n--
		}
		n = max(n, 0)
	case "MD":
		n = end.Day() - start.Day()
		if n < 0 {
			prev := end.AddDate(0, 0, -end.Day())
			n += daysInMonth(prev.Year(), prev.Month())
		}
	case "YM":
		n = int(end.Month()) - int(start.Month())
		if n < 0 {
			n += 12
		}
		if end.Day() < start.Day() && n > 0 {
			n--
		}
	case "YD":
		year := end.Year()
		if end.Month() < start.Month() || (end.Month() == start.Month() && end.Day() < start.Day()) {
			year--
		}
		day := start.Day()
		if start.Month() == time.February && day == 29 && daysInMonth(year, time.February) == 28 {
			day = 28
		}
		anniversary := time.Date(year, start.Month(), day, 0, 0, 0, 0, time.UTC)
		n = daysBetween(anniversary, end)
	default:
		return formula.Null, c.errorf(formula.ErrorCodeNum, "unknown unit '%s'", unit)
	}
	return formula.Number(float64(n)), nil
}

// addMonths moves by whole months, clamping to the last day of the target
// month: EDATE("2024-01-31", 1) is 2024-02-29.
func addMonths(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	day := min(t.Day(), daysInMonth(first.Year(), first.Month()))
	return first.AddDate(0, 0, day-1)
}

func fnEDate(c *Call) (formula.Value, error) {
	t, err := c.Date(0)
	if err != nil {
		return formula.Null, err
	}
	months, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	return formula.DateOf(addMonths(t, months)), nil
}

func fnEOMonth(c *Call) (formula.Value, error) {
	t, err := c.Date(0)
	if err != nil {
		return formula.Null, err
	}
	months, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	return formula.DateOf(first.AddDate(0, 1, -1)), nil
}

func holidays(c *Call, i int) (map[string]bool, error) {
	out := map[string]bool{}
	if !c.Has(i) {
		return out, nil
	}
	values, err := c.WholeValues(i)
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if v.IsNull() {
			continue
		}
		t, err := dateArg(c, v)
		if err != nil {
			return nil, err
		}
		out[t.Format(formula.ISODateLayout)] = true
	}
	return out, nil
}

func isWorkday(t time.Time, off map[string]bool) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday && !off[t.Format(formula.ISODateLayout)]
}

func fnNetworkDays(c *Call) (formula.Value, error) {
	start, err := c.Date(0)
	if err != nil {
		return formula.Null, err
	}
	end, err := c.Date(1)
	if err != nil {
		return formula.Null, err
	}
	off, err := holidays(c, 2)
	if err != nil {
		return formula.Null, err
	}
	sign := 1
	if end.Before(start) {
		start, end, sign = end, start, -1
	}
	count := 0
	for d := midnight(start); !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := c.step(); err != nil {
			return formula.Null, err
		}
		if isWorkday(d, off) {
			count++
		}
	}
	return formula.Number(float64(sign * count)), nil
}

func fnWorkday(c *Call) (formula.Value, error) {
	t, err := c.Date(0)
	if err != nil {
		return formula.Null, err
	}
	days, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	off, err := holidays(c, 2)
	if err != nil {
		return formula.Null, err
	}
	step := 1
	if days < 0 {
		step, days = -1, -days
	}
	t = midnight(t)
	for days > 0 {
		if err := c.step(); err != nil {
			return formula.Null, err
		}
		t = t.AddDate(0, 0, step)
		if isWorkday(t, off) {
			days--
		}
	}
	return formula.DateOf(t), nil
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// fnYearFrac supports bases 0 (US 30/360), 1 (actual/actual by start
// year), 2 (actual/360), 3 (actual/365) and 4 (European 30/360).
func fnYearFrac(c *Call) (formula.Value, error) {
	start, err := c.Date(0)
	if err != nil {
		return formula.Null, err
	}
	end, err := c.Date(1)
	if err != nil {
		return formula.Null, err
	}
	basis, err := c.IntOr(2, 0)
	if err != nil {
		return formula.Null, err
	}
	days := float64(daysBetween(start, end))
	switch basis {
	case 0, 4:
		d1, d2 := start.Day(), end.Day()
		if d1 == 31 {
			d1 = 30
		}
		if d2 == 31 && (d1 >= 30 || basis == 4) {
			d2 = 30
		}
		days360 := (end.Year()-start.Year())*360 + (int(end.Month())-int(start.Month()))*30 + d2 - d1
		return formula.Number(float64(days360) / 360), nil
	case 1:
		yearDays := 365.0
		if isLeap(start.Year()) {
			yearDays = 366
		}
		return formula.Number(days / yearDays), nil
	case 2:
		return formula.Number(days / 360), nil
	case 3:
		return formula.Number(days / 365), nil
	}
	return formula.Null, c.errorf(formula.ErrorCodeNum, "unknown basis %d", basis)
}

func isDateFormat(format string) bool {
	lower := strings.ToLower(format)
	return strings.Contains(lower, "yy") || strings.Contains(lower, "dd") || strings.Contains(lower, "mmm")
}

var dateFormatTokens = strings.NewReplacer(
	"yyyy", "2006",
	"yy", "06",
	"mmmm", "January",
	"mmm", "Jan",
	"mm", "01",
	"dddd", "Monday",
	"ddd", "Mon",
	"dd", "02",
)

// formatDate renders spreadsheet date tokens (yyyy, mm, dd, mmm, ...).
func formatDate(t time.Time, format string) string {
	return t.Format(dateFormatTokens.Replace(strings.ToLower(format)))
}
