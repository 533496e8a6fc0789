package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wbrown/cohortx/config"
	"github.com/wbrown/cohortx/timeref"
	"github.com/wbrown/cohortx/tree"
)

var describeTreeConfigPath string

// describeTreeCmd prints the window tree without running extraction
// (SPEC_FULL.md §C.2), grounded in the teacher's own separation of an
// inspectable plan from its execution (datalog/planner.QueryPlan is
// printable before datalog/executor.Execute runs).
var describeTreeCmd = &cobra.Command{
	Use:   "describe-tree",
	Short: "Print the window dependency tree without running extraction",
	RunE:  runDescribeTree,
}

func init() {
	describeTreeCmd.Flags().StringVar(&describeTreeConfigPath, "config", "", "task configuration YAML file (required)")
	_ = describeTreeCmd.MarkFlagRequired("config")
}

func runDescribeTree(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(describeTreeConfigPath)
	if err != nil {
		return err
	}

	cfg, _, err := config.Compile(data)
	if err != nil {
		printErr(err)
		return err
	}

	fmt.Println(color.BlueString("trigger"), "("+cfg.Trigger+")")
	printSubtree(cfg.Tree, timeref.TriggerRef, 1)
	return nil
}

func printSubtree(t *tree.Tree, ref timeref.Reference, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, name := range t.ChildrenOf(ref) {
		w := t.Windows[name]
		fmt.Printf("%s%s %s\n", indent, color.CyanString(name), edgeDescription(w))
		if len(w.Has) > 0 {
			fmt.Printf("%s  has: %s\n", indent, hasDescription(w))
		}
		if w.Label != "" {
			fmt.Printf("%s  label: %s\n", indent, w.Label)
		}
		if w.IndexTimestamp != "" {
			fmt.Printf("%s  index_timestamp: %s\n", indent, w.IndexTimestamp)
		}
		printSubtree(t, timeref.WindowStartRef(name), depth+1)
		printSubtree(t, timeref.WindowEndRef(name), depth+1)
	}
}

func edgeDescription(w *tree.Window) string {
	return fmt.Sprintf("[start=%s, end=%s]", w.StartExpr(), w.EndExpr())
}

func hasDescription(w *tree.Window) string {
	parts := make([]string, 0, len(w.Has))
	for pred, hc := range w.Has {
		lo, hi := "", ""
		if hc.Min != nil {
			lo = fmt.Sprintf("%d", *hc.Min)
		}
		if hc.Max != nil {
			hi = fmt.Sprintf("%d", *hc.Max)
		}
		parts = append(parts, fmt.Sprintf("%s=(%s, %s)", pred, lo, hi))
	}
	return strings.Join(parts, ", ")
}
