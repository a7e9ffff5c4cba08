package engine

import (
	"slices"
	"strings"
	"testing"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func TestRegistry(t *testing.T) {
	d, ok := LookupFunction("sum")
	if !ok || d.Name != "SUM" || !d.Aggregation {
		t.Fatalf("LookupFunction(sum) = %+v, %v", d, ok)
	}
	if _, ok := LookupFunction("NOPE"); ok {
		t.Errorf("LookupFunction(NOPE) found a function")
	}

	defs := Functions()
	if len(defs) < 150 {
		t.Errorf("got %d functions, expected at least 150", len(defs))
	}
	if !slices.IsSortedFunc(defs, func(a, b *FunctionDef) int { return strings.Compare(a.Name, b.Name) }) {
		t.Errorf("functions are not sorted by name")
	}
	for _, d := range defs {
		if d.Category == "" || d.Handler == nil {
			t.Errorf("%s: missing category or handler", d.Name)
		}
	}

	// handlers that evaluate nested calls go back through the registry
	scalar(t, `=IFERROR(SUM(1, MAX(2, 3)), 0)`, 4)
	scalar(t, `=LAMBDA(x, ROUND(x, 0))(2.6)`, 3)
}

func TestIntegerArguments(t *testing.T) {
	scalar(t, `=LEFT("forecast", 2.9)`, "fo")
	scalarErr(t, `=LEFT("forecast", 5E18)`, formula.ErrorCodeNum)
	scalarErr(t, `=CHOOSE(-3E12, "a")`, formula.ErrorCodeNum)
	scalar(t, `=IFERROR(RIGHT("ab", 1E300), "huge")`, "huge")
}
