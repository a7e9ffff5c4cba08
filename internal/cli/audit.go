package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mollendorff-ai/forge/internal/engine"
	"github.com/mollendorff-ai/forge/internal/formula"
	"github.com/mollendorff-ai/forge/internal/loader"
	"github.com/mollendorff-ai/forge/internal/model"
)

func newAuditCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <model> <name>",
		Short: "Show what a scalar or column depends on and what depends on it",
		Long: `Audit prints the dependency tree of one scalar or table column (use
table.column for columns), its calculated value and every formula that would
change if it changed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loader.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			name := args[1]
			if !exists(m, name) {
				return formula.NewApplicationError(formula.NotFound, fmt.Sprintf("%s is not a scalar or table column of the model", name))
			}
			calc := engine.NewCalculator(m)
			plan, err := calc.Plan()
			if err != nil {
				return err
			}
			result, err := calc.CalculateAll(cmd.Context())
			if err != nil {
				return err
			}
			a := &auditor{p: newPrinter(cmd.OutOrStdout(), flags.noColor), plan: plan, model: m, result: result}
			a.write(name)
			return nil
		},
	}
}

func exists(m *model.ParsedModel, name string) bool {
	if _, ok := m.Scalars[name]; ok {
		return true
	}
	table, column, ok := strings.Cut(name, ".")
	if !ok {
		return false
	}
	t, ok := m.Tables[table]
	if !ok {
		return false
	}
	_, isColumn := t.Columns[column]
	_, isFormula := t.RowFormulas[column]
	return isColumn || isFormula
}

type auditor struct {
	p      *printer
	plan   *engine.Plan
	model  *model.ParsedModel
	result *model.CalculatedModel
}

func (a *auditor) write(name string) {
	p := a.p
	fmt.Fprintf(p.w, "%s %s\n", p.header(name), a.describe(name))
	if v, ok := a.result.Scalar(name); ok {
		fmt.Fprintf(p.w, "  value: %s\n", p.value(v))
	}

	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.header("Depends on"))
	deps := a.plan.Dependencies(name)
	if len(deps) == 0 {
		fmt.Fprintln(p.w, p.dim("  nothing, this is an input"))
	}
	for _, dep := range deps {
		a.tree(dep, 1)
	}

	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.header("Used by"))
	dependents := a.plan.AllDependents(name)
	if len(dependents) == 0 {
		fmt.Fprintln(p.w, p.dim("  nothing"))
	}
	direct := map[string]bool{}
	for _, d := range a.plan.Dependents(name) {
		direct[d] = true
	}
	for _, d := range dependents {
		line := "  " + p.name(d)
		if !direct[d] {
			line += p.dim(" (indirect)")
		}
		fmt.Fprintln(p.w, line)
	}
}

// tree prints a reference and, for formulas, everything beneath it.
func (a *auditor) tree(name string, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(a.p.w, "%s%s %s\n", indent, a.p.name(name), a.describe(name))
	for _, dep := range a.plan.Dependencies(name) {
		a.tree(dep, depth+1)
	}
}

// describe is the formula text of a formula node, or the kind of input.
func (a *auditor) describe(name string) string {
	if node, ok := a.plan.Node(name); ok {
		return a.p.dim(node.Formula)
	}
	switch {
	case strings.HasPrefix(name, "@"):
		return a.p.dim("(included)")
	case a.model.Tables[name] != nil:
		return a.p.dim("(table)")
	}
	if v, ok := a.model.Scalars[name]; ok {
		return a.p.dim("(input " + v.Value.AsText() + ")")
	}
	return a.p.dim("(data column)")
}
