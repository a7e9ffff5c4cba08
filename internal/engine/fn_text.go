package engine

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/mollendorff-ai/forge/internal/formula"
)

var (
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
	titleCaser = cases.Title(language.Und)

	// groupingPrinter inserts thousands separators for TEXT formats such
	// as "#,##0.00".
	groupingPrinter = message.NewPrinter(language.English)
)

func registerText(r registrar) {
	r.add(CategoryText,
		def("CONCAT", "CONCAT(text, ...)", 1, -1, fnConcat),
		def("CONCATENATE", "CONCATENATE(text, ...)", 1, -1, fnConcat),
		def("LEN", "LEN(text)", 1, 1, mapText(func(s string) formula.Value {
			return formula.Number(float64(len([]rune(s))))
		})),
		def("UPPER", "UPPER(text)", 1, 1, mapText(func(s string) formula.Value { return formula.Text(upperCaser.String(s)) })),
		def("LOWER", "LOWER(text)", 1, 1, mapText(func(s string) formula.Value { return formula.Text(lowerCaser.String(s)) })),
		def("PROPER", "PROPER(text)", 1, 1, mapText(func(s string) formula.Value { return formula.Text(titleCaser.String(s)) })),
		def("TRIM", "TRIM(text)", 1, 1, mapText(func(s string) formula.Value {
			return formula.Text(strings.Join(strings.Fields(s), " "))
		})),
		def("LEFT", "LEFT(text, [count])", 1, 2, fnLeft),
		def("RIGHT", "RIGHT(text, [count])", 1, 2, fnRight),
		def("MID", "MID(text, start, count)", 3, 3, fnMid),
		def("REPT", "REPT(text, times)", 2, 2, fnRept),
		def("TEXT", "TEXT(value, format)", 2, 2, fnText),
		def("VALUE", "VALUE(text)", 1, 1, fnValue),
		def("FIND", "FIND(find_text, within_text, [start])", 2, 3, finder(false)),
		def("SEARCH", "SEARCH(find_text, within_text, [start])", 2, 3, finder(true)),
		def("REPLACE", "REPLACE(text, start, count, new_text)", 4, 4, fnReplace),
		def("SUBSTITUTE", "SUBSTITUTE(text, old_text, new_text, [instance])", 3, 4, fnSubstitute),
	)
}

// mapText applies fn to the text of argument 0, elementwise over arrays.
func mapText(fn func(string) formula.Value) Handler {
	return func(c *Call) (formula.Value, error) {
		v, err := c.Eval(0)
		if err != nil {
			return formula.Null, err
		}
		if !v.IsArray() {
			return fn(v.AsText()), nil
		}
		out := make([]formula.Value, v.Len())
		for i, e := range v.Elements() {
			out[i] = fn(e.AsText())
		}
		return formula.Array(out), nil
	}
}

func fnConcat(c *Call) (formula.Value, error) {
	var b strings.Builder
	for i := range c.Args {
		v, err := c.Eval(i)
		if err != nil {
			return formula.Null, err
		}
		if v.IsArray() {
			for _, e := range v.Elements() {
				b.WriteString(e.AsText())
			}
			continue
		}
		b.WriteString(v.AsText())
	}
	return formula.Text(b.String()), nil
}

func clampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func fnLeft(c *Call) (formula.Value, error) {
	s, err := c.Text(0)
	if err != nil {
		return formula.Null, err
	}
	n, err := c.IntOr(1, 1)
	if err != nil {
		return formula.Null, err
	}
	runes := []rune(s)
	return formula.Text(string(runes[:min(clampCount(n), len(runes))])), nil
}

func fnRight(c *Call) (formula.Value, error) {
	s, err := c.Text(0)
	if err != nil {
		return formula.Null, err
	}
	n, err := c.IntOr(1, 1)
	if err != nil {
		return formula.Null, err
	}
	runes := []rune(s)
	return formula.Text(string(runes[len(runes)-min(clampCount(n), len(runes)):])), nil
}

func fnMid(c *Call) (formula.Value, error) {
	s, err := c.Text(0)
	if err != nil {
		return formula.Null, err
	}
	start, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	count, err := c.Int(2)
	if err != nil {
		return formula.Null, err
	}
	if start < 1 {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "start must be at least 1")
	}
	runes := []rune(s)
	from := start - 1
	if from >= len(runes) {
		return formula.Text(""), nil
	}
	to := min(from+clampCount(count), len(runes))
	return formula.Text(string(runes[from:to])), nil
}

// maxTextLength caps the text a function may build.
const maxTextLength = 32767

func fnRept(c *Call) (formula.Value, error) {
	s, err := c.Text(0)
	if err != nil {
		return formula.Null, err
	}
	n, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	if n < 0 {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "times must not be negative")
	}
	if n > 0 && len(s) > maxTextLength/n {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "result would exceed %d characters", maxTextLength)
	}
	return formula.Text(strings.Repeat(s, n)), nil
}

func fnValue(c *Call) (formula.Value, error) {
	v, err := c.Eval(0)
	if err != nil {
		return formula.Null, err
	}
	if v.IsNumber() {
		return v, nil
	}
	text := v.AsText()
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if pct, ok := strings.CutSuffix(cleaned, "%"); ok {
		n, err := strconv.ParseFloat(pct, 64)
		if err == nil {
			return formula.Number(n / 100), nil
		}
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "Cannot convert '%s' to number", text)
	}
	return formula.Number(n), nil
}

func fnText(c *Call) (formula.Value, error) {
	v, err := c.Eval(0)
	if err != nil {
		return formula.Null, err
	}
	format, err := c.Text(1)
	if err != nil {
		return formula.Null, err
	}
	if isDateFormat(format) {
		t, err := dateArg(c, v)
		if err != nil {
			return formula.Null, err
		}
		return formula.Text(formatDate(t, format)), nil
	}
	n, ok := v.AsNumber()
	if !ok || v.IsArray() {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "value must be a number, got %s", v.Kind())
	}
	return formula.Text(formatNumber(n, format)), nil
}

// decimalsIn counts the zero placeholders after the decimal point.
func decimalsIn(format string, def int) int {
	dot := strings.IndexByte(format, '.')
	if dot < 0 {
		return def
	}
	d := 0
	for _, r := range format[dot+1:] {
		if r != '0' && r != '#' {
			break
		}
		d++
	}
	return d
}

func formatNumber(n float64, format string) string {
	grouped := strings.Contains(format, ",")
	fixed := func(x float64, decimals int) string {
		if grouped {
			return groupingPrinter.Sprintf("%v", number.Decimal(x, number.Scale(decimals)))
		}
		return strconv.FormatFloat(x, 'f', decimals, 64)
	}

	switch {
	case strings.Contains(format, "%"):
		return strconv.FormatFloat(n*100, 'f', decimalsIn(format, 0), 64) + "%"
	case strings.HasPrefix(format, "$") || strings.HasPrefix(format, "[$"):
		if n < 0 {
			return "-$" + fixed(-n, decimalsIn(format, 2))
		}
		return "$" + fixed(n, decimalsIn(format, 2))
	case strings.ContainsAny(format, "Ee") && strings.ContainsAny(format, "0#"):
		return strconv.FormatFloat(n, 'E', decimalsIn(format, -1), 64)
	case strings.Contains(format, "."):
		return fixed(n, decimalsIn(format, 0))
	case grouped || strings.Trim(format, "0#") == "":
		return fixed(math.Round(n), 0)
	}
	return formula.FormatNumber(n)
}

func finder(caseInsensitive bool) Handler {
	return func(c *Call) (formula.Value, error) {
		needle, err := c.Text(0)
		if err != nil {
			return formula.Null, err
		}
		haystack, err := c.Text(1)
		if err != nil {
			return formula.Null, err
		}
		start, err := c.IntOr(2, 1)
		if err != nil {
			return formula.Null, err
		}
		runes := []rune(haystack)
		if start < 1 || start > len(runes) {
			return formula.Null, c.errorf(formula.ErrorCodeValue, "start_num out of range")
		}
		within := string(runes[start-1:])
		if caseInsensitive {
			needle, within = lowerCaser.String(needle), lowerCaser.String(within)
		}
		idx := strings.Index(within, needle)
		if idx < 0 {
			return formula.Null, c.errorf(formula.ErrorCodeValue, "text not found")
		}
		return formula.Number(float64(len([]rune(within[:idx])) + start)), nil
	}
}

func fnReplace(c *Call) (formula.Value, error) {
	s, err := c.Text(0)
	if err != nil {
		return formula.Null, err
	}
	start, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	count, err := c.Int(2)
	if err != nil {
		return formula.Null, err
	}
	repl, err := c.Text(3)
	if err != nil {
		return formula.Null, err
	}
	if start < 1 {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "start must be at least 1")
	}
	runes := []rune(s)
	from := min(start-1, len(runes))
	to := min(from+clampCount(count), len(runes))
	return formula.Text(string(runes[:from]) + repl + string(runes[to:])), nil
}

func fnSubstitute(c *Call) (formula.Value, error) {
	s, err := c.Text(0)
	if err != nil {
		return formula.Null, err
	}
	old, err := c.Text(1)
	if err != nil {
		return formula.Null, err
	}
	repl, err := c.Text(2)
	if err != nil {
		return formula.Null, err
	}
	if old == "" {
		return formula.Text(s), nil
	}
	if !c.Has(3) {
		return formula.Text(strings.ReplaceAll(s, old, repl)), nil
	}
	instance, err := c.Int(3)
	if err != nil {
		return formula.Null, err
	}
	if instance < 1 {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "instance must be at least 1")
	}
	pos := 0
	for n := 1; ; n++ {
		idx := strings.Index(s[pos:], old)
		if idx < 0 {
			return formula.Text(s), nil
		}
		at := pos + idx
		if n == instance {
			return formula.Text(s[:at] + repl + s[at+len(old):]), nil
		}
		pos = at + len(old)
	}
}
