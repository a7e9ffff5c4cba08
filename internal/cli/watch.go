package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/mollendorff-ai/forge/internal/ctxlog"
	"github.com/mollendorff-ai/forge/internal/engine"
)

// modelExtensions are the files whose changes trigger a recalculation.
var modelExtensions = []string{".yaml", ".yml", ".toml"}

const defaultDebounce = 200 * time.Millisecond

func newWatchCmd(flags *globalFlags) *cobra.Command {
	opts := &calculateOptions{}
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <model>",
		Short: "Recalculate a model every time it or an included file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			calcOpts, err := opts.engineOptions()
			if err != nil {
				return err
			}
			w := &watcher{
				path:     args[0],
				p:        newPrinter(cmd.OutOrStdout(), flags.noColor),
				opts:     calcOpts,
				debounce: debounce,
			}
			return w.run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.scenario, "scenario", "s", "", "Apply a named scenario before calculating")
	f.StringArrayVar(&opts.set, "set", nil, "Override a scalar input, as name=value (repeatable)")
	f.Int64Var(&opts.maxSteps, "max-steps", 0, "Abort after this many evaluation steps (0 means no limit)")
	f.DurationVar(&debounce, "debounce", defaultDebounce, "Wait this long for changes to settle before recalculating")
	return cmd
}

type watcher struct {
	path     string
	p        *printer
	opts     []engine.Option
	debounce time.Duration
}

// run calculates once, then again after every change to a model file in
// the model's directory, until ctx is done. Calculation errors are printed
// and watching continues.
func (w *watcher) run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("watching", "dir", dir)
	fmt.Fprintln(w.p.w, w.p.dim(fmt.Sprintf("watching %s for changes, press Ctrl+C to stop", dir)))
	w.recalculate(ctx)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !slices.Contains(modelExtensions, strings.ToLower(filepath.Ext(event.Name))) {
				continue
			}
			logger.Debug("model file changed", "path", event.Name, "op", event.Op.String())
			// restart the quiet period on every change
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.recalculate(ctx)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *watcher) recalculate(ctx context.Context) {
	p := w.p
	result, err := calculate(ctx, w.path, w.opts...)
	stamp := time.Now().Format("15:04:05")
	if err != nil {
		fmt.Fprintln(p.w, p.failure(fmt.Sprintf("[%s] %v", stamp, err)))
	} else {
		fmt.Fprintln(p.w, p.success(fmt.Sprintf("[%s] calculated %s", stamp, filepath.Base(w.path))))
		writeResult(p, result)
	}
}
