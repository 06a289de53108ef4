// Package cmd contains the CLI commands for vigilctl.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Used for flags
	verbose bool
	output  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vigilctl",
	Short: "Vigil - operator CLI for the monitor runner",
	Long: `Vigilctl works with monitor definition files: it validates them
offline and executes them once against a cluster without saving them.

Examples:
  # Validate a monitor definition
  vigilctl validate monitor.yaml

  # Preview a run: renders actions, publishes nothing
  vigilctl execute monitor.yaml

  # Run for real against a cluster
  vigilctl execute monitor.yaml --dryrun=false --cluster http://search-1:9200`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "json", "output format (json, plain)")
}

// PrintError prints an error message and exits if fatal is true.
func PrintError(msg string, fatal bool) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	if fatal {
		os.Exit(1)
	}
}
