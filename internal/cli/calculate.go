package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mollendorff-ai/forge/internal/engine"
	"github.com/mollendorff-ai/forge/internal/formula"
	"github.com/mollendorff-ai/forge/internal/loader"
	"github.com/mollendorff-ai/forge/internal/model"
)

type calculateOptions struct {
	scenario string
	set      []string
	json     bool
	timeout  time.Duration
	maxSteps int64
}

func newCalculateCmd(flags *globalFlags) *cobra.Command {
	opts := &calculateOptions{}
	cmd := &cobra.Command{
		Use:   "calculate <model>",
		Short: "Calculate every formula of a model and print the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			calcOpts, err := opts.engineOptions()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}
			result, err := calculate(ctx, args[0], calcOpts...)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			writeResult(newPrinter(cmd.OutOrStdout(), flags.noColor), result)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.scenario, "scenario", "s", "", "Apply a named scenario before calculating")
	f.StringArrayVar(&opts.set, "set", nil, "Override a scalar input, as name=value (repeatable)")
	f.BoolVar(&opts.json, "json", false, "Print results as JSON")
	f.DurationVar(&opts.timeout, "timeout", 0, "Abort the calculation after this long (0 means no limit)")
	f.Int64Var(&opts.maxSteps, "max-steps", 0, "Abort after this many evaluation steps (0 means no limit)")
	return cmd
}

func (o *calculateOptions) engineOptions() ([]engine.Option, error) {
	overrides, err := parseOverrides(o.set)
	if err != nil {
		return nil, err
	}
	var out []engine.Option
	if o.scenario != "" {
		out = append(out, engine.WithScenario(o.scenario))
	}
	if len(overrides) > 0 {
		out = append(out, engine.WithOverrides(overrides))
	}
	if o.maxSteps > 0 {
		out = append(out, engine.WithMaxSteps(o.maxSteps))
	}
	return out, nil
}

// parseOverrides reads name=value pairs. A later pair for the same name wins.
func parseOverrides(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, text, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, formula.NewApplicationError(formula.InvalidArgument,
				fmt.Sprintf("invalid --set %q: expected name=value", pair))
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, formula.NewApplicationError(formula.InvalidArgument,
				fmt.Sprintf("invalid --set %q: %s is not a number", pair, text))
		}
		out[name] = n
	}
	return out, nil
}

func calculate(ctx context.Context, path string, opts ...engine.Option) (*model.CalculatedModel, error) {
	m, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return engine.NewCalculator(m, opts...).CalculateAll(ctx)
}

func writeResult(p *printer, result *model.CalculatedModel) {
	if names := result.ScalarNames(); len(names) > 0 {
		fmt.Fprintln(p.w, p.header("Scalars"))
		t := newTable(p,
			column{name: "NAME"},
			column{name: "VALUE", align: AlignRight},
			column{name: "UNIT"},
		)
		for _, name := range names {
			v := result.Scalars[name]
			t.addRow(p.name(name), p.value(v.Value), p.dim(v.Metadata.Unit))
		}
		fmt.Fprint(p.w, t.render())
	}

	for _, name := range result.TableNames() {
		tbl := result.Tables[name]
		cols := tbl.ColumnNames()
		fmt.Fprintln(p.w)
		fmt.Fprintf(p.w, "%s %s\n", p.header("Table "+name), p.dim(fmt.Sprintf("(%d rows)", tbl.RowCount())))
		if len(cols) == 0 {
			continue
		}
		header := make([]column, len(cols))
		for i, c := range cols {
			header[i] = column{name: c}
			if tbl.Columns[c].Kind == model.ColumnNumber {
				header[i].align = AlignRight
			}
		}
		t := newTable(p, header...)
		for row := range tbl.RowCount() {
			cells := make([]string, len(cols))
			for i, c := range cols {
				cells[i] = p.value(tbl.Columns[c].Values[row])
			}
			t.addRow(cells...)
		}
		fmt.Fprint(p.w, t.render())
	}
}

type jsonResult struct {
	Scalars map[string]any            `json:"scalars"`
	Tables  map[string]map[string]any `json:"tables"`
}

func writeJSON(w io.Writer, result *model.CalculatedModel) error {
	out := jsonResult{
		Scalars: make(map[string]any, len(result.Scalars)),
		Tables:  make(map[string]map[string]any, len(result.Tables)),
	}
	for name, v := range result.Scalars {
		out.Scalars[name] = jsonValue(v.Value)
	}
	for name, t := range result.Tables {
		cols := make(map[string]any, len(t.Columns))
		for cname, col := range t.Columns {
			values := make([]any, len(col.Values))
			for i, v := range col.Values {
				values[i] = jsonValue(v)
			}
			cols[cname] = values
		}
		out.Tables[name] = cols
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func jsonValue(v formula.Value) any {
	switch v.Kind() {
	case formula.KindNull:
		return nil
	case formula.KindNumber:
		if n := v.Float(); !math.IsNaN(n) && !math.IsInf(n, 0) {
			return n
		}
	case formula.KindBoolean:
		b, _ := v.AsBool()
		return b
	case formula.KindArray:
		elems := v.Elements()
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = jsonValue(e)
		}
		return out
	}
	return v.AsText()
}
