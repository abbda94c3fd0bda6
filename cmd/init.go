package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gnolang/cprop/analyze"
)

// initCmd: cprop init
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = analyze.DefaultConfigFile
		}
		if err := analyze.WriteConfig(path, analyze.DefaultConfig()); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created/updated: %s\n", path)
		return nil
	},
}
