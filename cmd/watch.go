package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnolang/cprop/analyze"
	"github.com/gnolang/cprop/formatter"
)

// watchCmd: cprop watch [dirs...]
var watchCmd = &cobra.Command{
	Use:   "watch [dirs...]",
	Short: "Re-analyze program files whenever they change",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"."}
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx, cmd.OutOrStdout(), args)
	},
}

func runWatch(ctx context.Context, w io.Writer, dirs []string) error {
	engine, err := analyze.New(cfgFile, logger, analyze.ModeAnalyze)
	if err != nil {
		return err
	}

	watcher, err := analyze.NewWatcher(engine, logger, func(r *analyze.Report, err error) {
		if err != nil {
			logger.Error("Error analyzing file", zap.Error(err))
			return
		}
		fmt.Fprintln(w, formatter.FormatReport(r))
	})
	if err != nil {
		return err
	}
	if err := watcher.Add(dirs...); err != nil {
		return err
	}

	fmt.Fprintf(w, "Watching %d path(s) for changes, press Ctrl+C to stop\n", len(dirs))
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
