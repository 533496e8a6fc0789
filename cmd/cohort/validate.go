package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wbrown/cohortx/config"
)

var validateConfigPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compile a task configuration and report errors or lint warnings",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "", "task configuration YAML file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(validateConfigPath)
	if err != nil {
		return err
	}

	cfg, warnings, err := config.Compile(data)
	if err != nil {
		printErr(err)
		return err
	}

	fmt.Println(color.GreenString("ok:"), "trigger", cfg.Trigger, "windows", len(cfg.Tree.Windows))
	if len(warnings) == 0 {
		fmt.Println(color.GreenString("no lint warnings"))
		return nil
	}
	for _, w := range warnings {
		fmt.Println(color.YellowString("warning:"), w.String())
	}
	return nil
}
