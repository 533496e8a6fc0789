// Command cohort is the extract/validate/describe-tree CLI (spec §6, §4.6;
// SPEC_FULL.md §A.4, §C.2). Its subcommands all operate on a YAML task
// configuration; extract additionally reads a predicates table from disk.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wbrown/cohortx/cohorterr"
)

var rootCmd = &cobra.Command{
	Use:   "cohort",
	Short: "cohort - task-specific cohort extraction over longitudinal event data",
	Long: `cohort compiles a task configuration (trigger, window tree, has
constraints) and runs the recursive extractor over a predicates table,
emitting one row per surviving realization.`,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(describeTreeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the cohorterr taxonomy onto spec §6's exit codes: 0
// success, 2 configuration error, 3 data schema error, 1 unexpected
// runtime error.
func exitCodeFor(err error) int {
	switch {
	case cohorterr.IsConfigError(err):
		return 2
	case cohorterr.IsSchemaError(err):
		return 3
	default:
		return 1
	}
}

// printErr reports err to stderr, colorizing the taxonomy the way the
// teacher colorizes relation diagnostics (datalog/executor/relation.go).
func printErr(err error) {
	switch {
	case cohorterr.IsConfigError(err):
		fmt.Fprintln(os.Stderr, color.RedString("config error:"), err)
	case cohorterr.IsSchemaError(err):
		fmt.Fprintln(os.Stderr, color.RedString("schema error:"), err)
	case cohorterr.IsEmptyInput(err):
		fmt.Fprintln(os.Stderr, color.YellowString("warning:"), err)
	default:
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
	}
}
