package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnolang/cprop/analyze"
	"github.com/gnolang/cprop/formatter"
)

var (
	jsonOutput bool
	outPath    string
	cacheDir   string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [paths...]",
	Short: "Print the constants known before every instruction",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd.OutOrStdout(), args, analyze.ModeAnalyze)
	},
}

var replaceCmd = &cobra.Command{
	Use:   "replace [paths...]",
	Short: "Print programs with the learned constants substituted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd.OutOrStdout(), args, analyze.ModeReplace)
	},
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, replaceCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Output reports in JSON format")
		c.Flags().StringVarP(&outPath, "output", "o", "", "Output path (when using JSON)")
		c.Flags().StringVar(&cacheDir, "cache-dir", "", "Reuse reports of unchanged files stored in this directory")
	}
}

func runProcess(w io.Writer, paths []string, mode analyze.Mode) error {
	if len(paths) == 0 {
		return errors.New("please provide file or directory paths")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	engine, err := analyze.New(cfgFile, logger, mode)
	if err != nil {
		return err
	}
	if cacheDir != "" {
		cache, err := analyze.NewCache(cacheDir)
		if err != nil {
			return err
		}
		engine.SetCache(cache)
	}

	reports, err := analyze.ProcessFiles(ctx, logger, engine, paths, analyze.ProcessFile)
	if perr := printReports(w, reports, jsonOutput, outPath); perr != nil {
		logger.Error("Error printing reports", zap.Error(perr))
	}
	return err
}

func printReports(w io.Writer, reports []*analyze.Report, isJSON bool, jsonPath string) error {
	if !isJSON {
		for _, r := range reports {
			fmt.Fprintln(w, formatter.FormatReport(r))
		}
		return nil
	}

	d, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling reports: %w", err)
	}
	if jsonPath == "" {
		_, err = fmt.Fprintln(w, string(d))
		return err
	}
	return os.WriteFile(jsonPath, d, 0o644)
}
