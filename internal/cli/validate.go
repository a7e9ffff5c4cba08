package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mollendorff-ai/forge/internal/engine"
	"github.com/mollendorff-ai/forge/internal/loader"
)

func newValidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <model>",
		Short: "Check a model for syntax errors, unknown references and cycles",
		Long: `Validate parses every formula, resolves every reference and orders the
dependency graph without evaluating anything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loader.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			calc := engine.NewCalculator(m)
			plan, err := calc.Plan()
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout(), flags.noColor)
			fmt.Fprintln(p.w, p.success(fmt.Sprintf("%s is valid", filepath.Base(args[0]))))
			fmt.Fprintln(p.w, p.dim(fmt.Sprintf("  %d scalars, %d tables, %d formulas (%d unique)",
				len(m.Scalars), len(m.Tables), len(plan.Order()), calc.Formulas().Count())))
			return nil
		},
	}
}
