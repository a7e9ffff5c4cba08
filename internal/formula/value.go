package formula

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindText
	KindBoolean
	KindDate
	KindArray
	KindLambda
)

var kindNames = [...]string{
	KindNull:    "Null",
	KindNumber:  "Number",
	KindText:    "Text",
	KindBoolean: "Boolean",
	KindDate:    "Date",
	KindArray:   "Array",
	KindLambda:  "Lambda",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is the dynamic runtime type of the engine.
// variants:
//   - Number: float64, integers included
//   - Text: string
//   - Boolean: TRUE/FALSE
//   - Date: ISO-8601 YYYY-MM-DD string
//   - Array: ordered []Value, a whole column or a function result
//   - Lambda: parameters plus body, produced by LAMBDA
//   - Null: absent value
//
// The zero Value is Null.
type Value struct {
	kind   Kind
	num    float64
	str    string
	b      bool
	arr    []Value
	lambda *Lambda
}

// Lambda is a first-class function value.
type Lambda struct {
	Params []string
	Body   ASTNode
}

// Null is the absent value.
var Null = Value{}

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Text(s string) Value { return Value{kind: KindText, str: s} }
func Boolean(b bool) Value { return Value{kind: KindBoolean, b: b} }
func Array(vs []Value) Value { return Value{kind: KindArray, arr: vs} }
func Date(iso string) Value { return Value{kind: KindDate, str: iso} }
func LambdaValue(l *Lambda) Value { return Value{kind: KindLambda, lambda: l} }

// DateOf wraps a calendar date as a Date value.
func DateOf(t time.Time) Value {
	return Date(t.Format(ISODateLayout))
}

// Numbers builds an Array of Number values.
func Numbers(ns ...float64) Value {
	vs := make([]Value, len(ns))
	for i, n := range ns {
		vs[i] = Number(n)
	}
	return Array(vs)
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsArray() bool { return v.kind == KindArray }
func (v Value) IsText() bool { return v.kind == KindText }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsBoolean() bool { return v.kind == KindBoolean }

// Float returns the raw number of a Number value and 0 otherwise.
func (v Value) Float() float64 { return v.num }

// Str returns the raw string of a Text or Date value.
func (v Value) Str() string { return v.str }

// Elements returns the elements of an Array value and nil otherwise.
func (v Value) Elements() []Value { return v.arr }

// Lambda returns the function of a Lambda value.
func (v Value) Lambda() *Lambda { return v.lambda }

// Len is the element count of an Array, 1 for every other non-null value.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindNull:
		return 0
	}
	return 1
}

// AsNumber coerces the value to a float. Text is parsed as a number first,
// then as a YYYY-MM-DD date (giving its serial). Arrays report their length.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindBoolean:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindText:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64); err == nil {
			return n, true
		}
		if t, ok := ParseISODate(v.str); ok {
			return DateToSerial(t), true
		}
		return 0, false
	case KindDate:
		if t, ok := ParseISODate(v.str); ok {
			return DateToSerial(t), true
		}
		return 0, false
	case KindArray:
		return float64(len(v.arr)), true
	}
	return 0, false
}

// AsText stringifies any variant.
func (v Value) AsText() string {
	switch v.kind {
	case KindNumber:
		return FormatNumber(v.num)
	case KindText, KindDate:
		return v.str
	case KindBoolean:
		if v.b {
			return "TRUE"
		}
		return "FALSE"
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.AsText()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindLambda:
		return "LAMBDA(" + strings.Join(v.lambda.Params, ", ") + ")"
	}
	return ""
}

// AsBool coerces to a boolean. Text accepts TRUE/FALSE and 1/0.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBoolean:
		return v.b, true
	case KindNumber:
		return v.num != 0, true
	case KindText:
		switch strings.ToUpper(v.str) {
		case "TRUE", "1":
			return true, true
		case "FALSE", "0":
			return false, true
		}
	}
	return false, false
}

// IsTruthy treats nonzero numbers and TRUE as true, everything else false.
func (v Value) IsTruthy() bool {
	b, _ := v.AsBool()
	return b
}

// FormatNumber prints integral values without a fractional part.
func FormatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

const equalEpsilon = 1e-10

// Equal compares two values the way lookups and SWITCH do: numbers within
// 1e-10, text case-insensitively, booleans as 1/0 against numbers and a
// single-element array against its element.
func Equal(a, b Value) bool {
	switch {
	case a.kind == KindArray && b.kind == KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case a.kind == KindArray:
		return len(a.arr) == 1 && Equal(a.arr[0], b)
	case b.kind == KindArray:
		return len(b.arr) == 1 && Equal(a, b.arr[0])
	case a.kind == KindNull || b.kind == KindNull:
		return a.kind == b.kind
	}

	switch a.kind {
	case KindNumber:
		switch b.kind {
		case KindNumber:
			return math.Abs(a.num-b.num) < equalEpsilon
		case KindBoolean, KindDate:
			n, ok := b.AsNumber()
			return ok && math.Abs(a.num-n) < equalEpsilon
		}
	case KindText, KindDate:
		switch b.kind {
		case KindText, KindDate:
			return strings.EqualFold(a.str, b.str)
		case KindNumber:
			if a.kind == KindDate {
				return Equal(b, a)
			}
		}
	case KindBoolean:
		switch b.kind {
		case KindBoolean:
			return a.b == b.b
		case KindNumber:
			return Equal(b, a)
		}
	}
	return false
}

// ISODateLayout is the layout of Date values.
const ISODateLayout = "2006-01-02"

var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseISODate parses a strict YYYY-MM-DD date.
func ParseISODate(s string) (time.Time, bool) {
	if len(s) != len(ISODateLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(ISODateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DateToSerial converts a date to its serial number, days since 1899-12-30.
// The time of day becomes the fractional part.
func DateToSerial(t time.Time) float64 {
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	return float64(t.Unix()-serialEpoch.Unix()) / 86400
}

// SerialToDate converts a serial number back to a date, dropping the
// fractional part.
func SerialToDate(serial float64) time.Time {
	return serialEpoch.AddDate(0, 0, int(math.Floor(serial)))
}
