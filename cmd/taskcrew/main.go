// Package main implements the taskcrew CLI: a planner → implementer ↔
// reviewer → tech writer pipeline over an OpenAI-compatible backend, with
// every run persisted to a timestamped reports directory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath optionally points at a YAML config file; CREW_* environment
	// variables override it either way.
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskcrew",
	Short: "Multi-agent task pipeline: plan, implement, review, document",
	Long: `taskcrew runs one task through a fixed crew of roles: a Planner turns the
task into a plan, an Implementer applies it in the workspace, a Reviewer
judges each round until PASS or a forced stop, and a Tech Writer updates
the project docs when warranted.

Every run writes its artifacts to <project>/reports/run-<timestamp>/.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the taskcrew version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}
