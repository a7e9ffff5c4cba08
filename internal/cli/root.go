// Package cli implements the forge command line: calculate, validate,
// audit, functions and watch.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mollendorff-ai/forge/internal/ctxlog"
	"github.com/mollendorff-ai/forge/internal/formula"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	logLevel  string
	logFormat string
	noColor   bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "forge",
		Short: "Calculate financial models written in YAML or TOML",
		Long: `Forge evaluates spreadsheet-style formulas over named scalars and tables.

A model holds scalars (single values or formulas), tables of equal-length
columns with row formulas, and named scenarios that override scalar inputs.

Examples:
  forge calculate model.yaml                    # Calculate and print every value
  forge calculate model.yaml --scenario bear    # Apply a scenario first
  forge calculate model.yaml --set growth=0.08  # Override one input
  forge validate model.yaml                     # Check references and cycles
  forge audit model.yaml summary.net_income     # Show what a value depends on
  forge functions --category financial          # List available functions`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), flags.logLevel, flags.logFormat)
			if err != nil {
				return err
			}
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	pf.StringVar(&flags.logFormat, "log-format", "text", "Log format: text or json")
	pf.BoolVar(&flags.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(
		newCalculateCmd(flags),
		newValidateCmd(flags),
		newAuditCmd(flags),
		newFunctionsCmd(flags),
		newWatchCmd(flags),
	)
	return cmd
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, formula.NewApplicationError(formula.InvalidArgument,
			fmt.Sprintf("invalid --log-level %q: use debug, info, warn or error", level))
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, formula.NewApplicationError(formula.InvalidArgument,
		fmt.Sprintf("invalid --log-format %q: use text or json", format))
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, newPrinter(stderr, false).failure(err.Error()))
		return exitCode(err)
	}
	return 0
}

// exitCode is 2 for bad invocations and 1 for everything else.
func exitCode(err error) int {
	var appErr *formula.AppError
	if errors.As(err, &appErr) && appErr.Code == formula.InvalidArgument {
		return 2
	}
	return 1
}
