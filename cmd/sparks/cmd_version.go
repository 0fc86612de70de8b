package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_date": BuildDate,
		}
		return printer().Emit(v, func() {
			fmt.Fprintf(stdout, "sparks %s (%s) built %s\n", Version, Commit, BuildDate)
		})
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(stdout)
		case "fish":
			return rootCmd.GenFishCompletion(stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(stdout)
		default:
			return fmt.Errorf("unknown shell: %s", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
}
