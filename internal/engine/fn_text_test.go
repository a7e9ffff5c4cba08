package engine

import (
	"testing"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func TestLogicalFunctions(t *testing.T) {
	cases := []struct {
		formula string
		want    any
	}{
		{"=IF(1 > 0, 10, 20)", 10},
		{"=IF(0, 10, 20)", 20},
		{"=IF(FALSE, 10)", false},
		{"=AND(TRUE, 1, 2 > 1)", true},
		{"=AND(TRUE, 0)", false},
		{"=OR(FALSE, 0, 1)", true},
		{"=OR(FALSE, 0)", false},
		{"=XOR(TRUE, TRUE, TRUE)", true},
		{"=XOR(TRUE, TRUE)", false},
		{"=NOT(0)", true},
		{"=TRUE()", true},
		{"=FALSE()", false},
		{"=IFERROR(1 / 0, -1)", -1},
		{"=IFERROR(5, -1)", 5},
		{`=IFNA(NA(), "none")`, "none"},
		{`=IFNA(MATCH(9, SEQUENCE(3), 0), "none")`, "none"},
		{"=IFS(1 > 2, 1, 2 > 1, 2)", 2},
		{"=IFS(FALSE, 1, TRUE, 3)", 3},
		{`=SWITCH(2, 1, "one", 2, "two", "other")`, "two"},
		{`=SWITCH(5, 1, "one", 2, "two", "other")`, "other"},
		{`=SWITCH("B", "a", 1, "b", 2)`, 2},
	}
	for _, tc := range cases {
		scalar(t, tc.formula, tc.want)
	}

	t.Run("Lazy branches", func(t *testing.T) {
		scalar(t, "=IF(TRUE, 1, 1 / 0)", 1)
		scalar(t, "=IF(FALSE, 1 / 0, 2)", 2)
		scalar(t, "=IFS(TRUE, 1, 1 / 0, 2)", 1)
		scalar(t, "=SWITCH(1, 1, 10, 2, 1 / 0)", 10)
	})

	t.Run("Errors", func(t *testing.T) {
		scalarErr(t, "=IFNA(1 / 0, 0)", formula.ErrorCodeDiv0)
		scalarErr(t, "=IFS(FALSE, 1)", formula.ErrorCodeNA)
		scalarErr(t, "=IFS(TRUE, 1, FALSE)", formula.ErrorCodeArity)
		scalarErr(t, "=SWITCH(3, 1, 10, 2, 20)", formula.ErrorCodeNA)
		scalarErr(t, "=IF(1)", formula.ErrorCodeArity)
	})

	t.Run("Budget errors are not recoverable", func(t *testing.T) {
		NewModelTestCase(t, "IFERROR cannot swallow the step budget").
			SetFormula("x", "=IFERROR(1+2+3+4+5+6+7+8+9, 0)").
			With(WithMaxSteps(6)).
			Run().
			ExpectAppError(formula.ResourceExhausted).
			End()
	})
}

func TestTextFunctions(t *testing.T) {
	cases := []struct {
		formula string
		want    any
	}{
		{`=CONCAT("a", 1, TRUE)`, "a1TRUE"},
		{`=CONCATENATE("x", "-", 2.5)`, "x-2.5"},
		{`="net " & 100 & "%"`, "net 100%"},
		{`=LEN("héllo")`, 5},
		{`=UPPER("ärger")`, "ÄRGER"},
		{`=LOWER("ABC")`, "abc"},
		{`=PROPER("hello wide world")`, "Hello Wide World"},
		{`=TRIM("  a   b  ")`, "a b"},
		{`=LEFT("forecast", 4)`, "fore"},
		{`=LEFT("forecast")`, "f"},
		{`=RIGHT("forecast", 4)`, "cast"},
		{`=RIGHT("ab", 10)`, "ab"},
		{`=MID("forecast", 3, 3)`, "rec"},
		{`=MID("abc", 10, 2)`, ""},
		{`=REPT("ab", 3)`, "ababab"},
		{`=REPT("ab", 0)`, ""},
		{`=LEN(REPT("a", 32767))`, 32767},
		{`=IFERROR(REPT("ab", 5E18), "too long")`, "too long"},
		{`=IFERROR(REPT("ab", 20000), "too long")`, "too long"},
		{`=VALUE("1,234.5")`, 1234.5},
		{`=VALUE("12.5%")`, 0.125},
		{`=FIND("c", "abcabc")`, 3},
		{`=FIND("c", "abcabc", 4)`, 6},
		{`=SEARCH("C", "abcabc")`, 3},
		{`=REPLACE("abcdef", 2, 3, "XY")`, "aXYef"},
		{`=SUBSTITUTE("a-b-c", "-", "+")`, "a+b+c"},
		{`=SUBSTITUTE("a-b-c", "-", "+", 2)`, "a-b+c"},
		{`=SUBSTITUTE("a-b-c", "-", "+", 5)`, "a-b-c"},
		{`=TEXT(3.14159, "0.00")`, "3.14"},
		{`=TEXT(0.256, "0.0%")`, "25.6%"},
		{`=TEXT(1234567.891, "#,##0.00")`, "1,234,567.89"},
		{`=TEXT(-1234.5, "$#,##0.00")`, "-$1,234.50"},
		{`=TEXT(1234.6, "0")`, "1235"},
		{`=TEXT(DATE(2025, 1, 5), "yyyy-mm-dd")`, "2025-01-05"},
	}
	for _, tc := range cases {
		scalar(t, tc.formula, tc.want)
	}

	t.Run("Elementwise", func(t *testing.T) {
		NewModelTestCase(t, "UPPER over a column, per row").
			AddValues("t", "code", formula.Text("ab"), formula.Text("cd")).
			AddRowFormula("t", "label", `=UPPER(code) & "-" & ROW()`).
			Run().
			AssertColumnEq("t", "label", "AB-1", "CD-2").
			End()
	})

	t.Run("Errors", func(t *testing.T) {
		scalarErr(t, `=VALUE("abc")`, formula.ErrorCodeValue)
		scalarErr(t, `=FIND("z", "abc")`, formula.ErrorCodeValue)
		scalarErr(t, `=MID("abc", 0, 1)`, formula.ErrorCodeValue)
		scalarErr(t, `=REPT("a", -1)`, formula.ErrorCodeValue)
		scalarErr(t, `=REPT("ab", 16384)`, formula.ErrorCodeValue)
		scalarErr(t, `=REPT("ab", 5E18)`, formula.ErrorCodeNum)
		scalarErr(t, `=TEXT("abc", "0.00")`, formula.ErrorCodeValue)
	})
}
