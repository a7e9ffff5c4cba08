package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const pricingModel = `
price:
  value: 10
  unit: USD
units:
  value: 150
revenue:
  formula: "=price * units"
  unit: USD
cost:
  formula: "=revenue * 0.4"
profit:
  formula: "=revenue - cost"

months:
  month: ["2025-01", "2025-02"]
  sales: [100, 200]
  doubled: "=sales * 2"

scenarios:
  bear:
    price: 8
`

func writeModel(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimLeft(content, "\n")), 0o644); err != nil {
		t.Fatalf("failed to write model: %v", err)
	}
	return path
}

// forge runs the command line with args and returns stdout, stderr and the
// exit code.
func forge(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func expectContains(t *testing.T, output string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(output, want) {
			t.Errorf("output does not contain %q:\n%s", want, output)
		}
	}
}

func TestCalculateCommand(t *testing.T) {
	path := writeModel(t, pricingModel)

	t.Run("Text output", func(t *testing.T) {
		out, errOut, code := forge(t, "calculate", path)
		if code != 0 {
			t.Fatalf("exit code = %d, stderr: %s", code, errOut)
		}
		expectContains(t, out, "Scalars", "revenue", "1,500", "900", "USD", "Table months", "(2 rows)", "2025-02-01", "400")
	})

	t.Run("JSON output", func(t *testing.T) {
		out, errOut, code := forge(t, "calculate", path, "--json")
		if code != 0 {
			t.Fatalf("exit code = %d, stderr: %s", code, errOut)
		}
		var got struct {
			Scalars map[string]any            `json:"scalars"`
			Tables  map[string]map[string]any `json:"tables"`
		}
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, out)
		}
		if profit, _ := got.Scalars["profit"].(float64); math.Abs(profit-900) > 1e-9 {
			t.Errorf("profit = %v, want 900", got.Scalars["profit"])
		}
		doubled, _ := got.Tables["months"]["doubled"].([]any)
		if len(doubled) != 2 || doubled[1] != 400.0 {
			t.Errorf("months.doubled = %v, want [200 400]", doubled)
		}
		month, _ := got.Tables["months"]["month"].([]any)
		if len(month) != 2 || month[0] != "2025-01-01" {
			t.Errorf("months.month = %v", month)
		}
	})

	t.Run("Scenario and overrides", func(t *testing.T) {
		out, _, code := forge(t, "calculate", path, "--json", "--scenario", "bear")
		if code != 0 {
			t.Fatalf("exit code = %d", code)
		}
		expectContains(t, out, `"revenue": 1200`)

		out, _, code = forge(t, "calculate", path, "--json", "--set", "units=100", "--set", "price=2")
		if code != 0 {
			t.Fatalf("exit code = %d", code)
		}
		expectContains(t, out, `"revenue": 200`)
	})

	t.Run("Errors", func(t *testing.T) {
		cases := []struct {
			name string
			args []string
			code int
			want string
		}{
			{"Unknown scenario", []string{"--scenario", "bull"}, 1, "scenario bull not found"},
			{"Malformed override", []string{"--set", "units"}, 2, `invalid --set "units": expected name=value`},
			{"Non-numeric override", []string{"--set", "units=many"}, 2, "many is not a number"},
			{"Unknown override", []string{"--set", "ghost=1"}, 1, "cannot override unknown scalar ghost"},
			{"Step budget", []string{"--max-steps", "2"}, 1, "evaluation step budget of 2 exhausted"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, errOut, code := forge(t, append([]string{"calculate", path}, tc.args...)...)
				if code != tc.code {
					t.Errorf("exit code = %d, want %d", code, tc.code)
				}
				expectContains(t, errOut, "✗", tc.want)
			})
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		_, errOut, code := forge(t, "calculate", filepath.Join(t.TempDir(), "none.yaml"))
		if code != 1 {
			t.Errorf("exit code = %d, want 1", code)
		}
		expectContains(t, errOut, "model file not found")
	})
}

func TestValidateCommand(t *testing.T) {
	out, errOut, code := forge(t, "validate", writeModel(t, pricingModel))
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	expectContains(t, out, "✓ model.yaml is valid", "5 scalars, 1 tables, 4 formulas")

	cyclic := writeModel(t, `
a:
  formula: "=b + 1"
b:
  formula: "=a + 1"
`)
	_, errOut, code = forge(t, "validate", cyclic)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	expectContains(t, errOut, "Circular dependency detected")

	unknown := writeModel(t, "total:\n  formula: \"=missing * 2\"\n")
	_, errOut, _ = forge(t, "validate", unknown)
	expectContains(t, errOut, "Unknown variable: missing")
}

func TestAuditCommand(t *testing.T) {
	path := writeModel(t, pricingModel)

	out, errOut, code := forge(t, "audit", path, "profit")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	expectContains(t, out, "profit =revenue - cost", "value: 900", "Depends on", "    price (input 10)", "Used by", "nothing")

	out, _, code = forge(t, "audit", path, "price")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	expectContains(t, out, "nothing, this is an input", "  revenue\n", "profit (indirect)")

	out, _, code = forge(t, "audit", path, "months.sales")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	expectContains(t, out, "months.doubled")

	_, errOut, code = forge(t, "audit", path, "ghost")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	expectContains(t, errOut, "ghost is not a scalar or table column")
}

func TestFunctionsCommand(t *testing.T) {
	out, _, code := forge(t, "functions")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	expectContains(t, out, "Financial", "Math", "NOW*", "functions; * marks volatile functions")

	out, _, code = forge(t, "functions", "--category", "Financial")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	expectContains(t, out, "NPV(rate, value1, ...)")
	if strings.Contains(out, "SUMIF") {
		t.Errorf("financial listing contains SUMIF:\n%s", out)
	}

	_, errOut, code := forge(t, "functions", "--category", "astrology")
	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	expectContains(t, errOut, `unknown category "astrology"`, "financial")
}

func TestGlobalFlags(t *testing.T) {
	path := writeModel(t, pricingModel)

	_, errOut, code := forge(t, "--log-level", "loud", "validate", path)
	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	expectContains(t, errOut, `invalid --log-level "loud"`)

	_, errOut, code = forge(t, "--log-level", "debug", "--log-format", "json", "calculate", path)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	expectContains(t, errOut, `"msg":"calculation finished"`, `"run":`)
}

// syncBuffer is a bytes.Buffer safe for the watch goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch(t *testing.T) {
	path := writeModel(t, pricingModel)
	out := &syncBuffer{}
	w := &watcher{
		path:     path,
		p:        newPrinter(out, true),
		debounce: 20 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx) }()

	// a single save can raise several events, so wait on the output
	waitFor := func(want string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for !strings.Contains(out.String(), want) {
			if time.Now().After(deadline) {
				t.Fatalf("output never contained %q:\n%s", want, out.String())
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	waitFor("1,500")
	expectContains(t, out.String(), "watching", "calculated model.yaml")

	broken := strings.Replace(pricingModel, "=revenue - cost", "=revenue - nothing", 1)
	if err := os.WriteFile(path, []byte(broken), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor("Unknown variable: nothing")

	fixed := strings.Replace(pricingModel, "value: 150", "value: 200", 1)
	if err := os.WriteFile(path, []byte(fixed), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor("2,000")

	// other files in the directory are ignored
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}
