package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mollendorff-ai/forge/internal/engine"
	"github.com/mollendorff-ai/forge/internal/formula"
)

func newFunctionsCmd(flags *globalFlags) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "functions",
		Short: "List the built-in functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			groups := map[string][]*engine.FunctionDef{}
			for _, d := range engine.Functions() {
				groups[d.Category] = append(groups[d.Category], d)
			}
			category = strings.ToLower(strings.TrimSpace(category))
			if category != "" {
				if _, ok := groups[category]; !ok {
					return formula.NewApplicationError(formula.InvalidArgument,
						fmt.Sprintf("unknown category %q: use one of %s", category, strings.Join(categories(groups), ", ")))
				}
			}

			p := newPrinter(cmd.OutOrStdout(), flags.noColor)
			title := cases.Title(language.English)
			total := 0
			for _, c := range categories(groups) {
				if category != "" && c != category {
					continue
				}
				fmt.Fprintf(p.w, "%s %s\n", p.header(title.String(c)), p.dim(fmt.Sprintf("(%d)", len(groups[c]))))
				t := newTable(p, column{name: "NAME"}, column{name: "USAGE"})
				for _, d := range groups[c] {
					name := d.Name
					if d.Volatile {
						name += "*"
					}
					t.addRow(p.name(name), d.Usage)
				}
				fmt.Fprint(p.w, t.render())
				fmt.Fprintln(p.w)
				total += len(groups[c])
			}
			fmt.Fprintln(p.w, p.dim(fmt.Sprintf("%d functions; * marks volatile functions", total)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "Only list functions of this category")
	return cmd
}

func categories(groups map[string][]*engine.FunctionDef) []string {
	out := make([]string, 0, len(groups))
	for c := range groups {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
