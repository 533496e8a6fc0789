package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/wbrown/cohortx/cohorterr"
	"github.com/wbrown/cohortx/config"
	"github.com/wbrown/cohortx/extractor"
	"github.com/wbrown/cohortx/result"
	"github.com/wbrown/cohortx/table"
)

var (
	extractConfigPath     string
	extractPredicatesPath string
	extractOutPath        string
	extractJSON           bool
	extractDiskPath       string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run the recursive extractor and emit one row per surviving realization",
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractConfigPath, "config", "", "task configuration YAML file (required)")
	extractCmd.Flags().StringVar(&extractPredicatesPath, "predicates", "", "predicates table JSON file (required)")
	extractCmd.Flags().StringVar(&extractOutPath, "out", "", "write the result table as JSON to this path instead of stdout")
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "print the result table as JSON instead of a rendered table")
	extractCmd.Flags().StringVar(&extractDiskPath, "disk", "", "spill the predicates table to a badger-backed disk store at this path instead of holding it in memory (SPEC_FULL.md §B.1)")
	_ = extractCmd.MarkFlagRequired("config")
	_ = extractCmd.MarkFlagRequired("predicates")
}

func runExtract(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(extractConfigPath)
	if err != nil {
		return err
	}
	cfg, warnings, err := config.Compile(data)
	if err != nil {
		printErr(err)
		return err
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "lint:", w.String())
	}

	var pt table.PredicateTable
	if extractDiskPath != "" {
		ds, err := loadDiskPredicateTable(extractPredicatesPath, extractDiskPath)
		if err != nil {
			printErr(err)
			return err
		}
		defer ds.Close()
		pt = ds
	} else {
		mt, err := loadPredicateTable(extractPredicatesPath)
		if err != nil {
			printErr(err)
			return err
		}
		pt = mt
	}

	realizations, err := extractor.Run(cfg, pt, nil)
	if err != nil && !cohorterr.IsEmptyInput(err) {
		printErr(err)
		return err
	}
	if err != nil {
		printErr(err) // non-fatal: reported as a warning, not propagated (spec §7)
	}

	rows := result.Shape(cfg, realizations)

	if extractOutPath != "" {
		return writeJSONRows(extractOutPath, cfg, rows)
	}
	if extractJSON {
		return printJSONRows(cfg, rows)
	}
	return printTableRows(cfg, rows)
}

// outputRow is the JSON projection of a result.Row, flattening each
// window's struct into a nested map keyed by window name.
type outputRow struct {
	SubjectID      int64                 `json:"subject_id"`
	IndexTimestamp *time.Time            `json:"index_timestamp,omitempty"`
	Label          *int64                `json:"label,omitempty"`
	Trigger        time.Time             `json:"trigger"`
	Windows        map[string]windowJSON `json:"windows"`
}

type windowJSON struct {
	Start  time.Time        `json:"start"`
	End    time.Time        `json:"end"`
	Counts map[string]int64 `json:"counts"`
}

func toOutputRows(rows []result.Row) []outputRow {
	out := make([]outputRow, len(rows))
	for i, r := range rows {
		windows := make(map[string]windowJSON, len(r.Windows))
		for _, w := range r.Windows {
			windows[w.Name] = windowJSON{Start: w.Start, End: w.End, Counts: w.Counts}
		}
		out[i] = outputRow{
			SubjectID:      r.SubjectID,
			IndexTimestamp: r.IndexTimestamp,
			Label:          r.Label,
			Trigger:        r.Trigger,
			Windows:        windows,
		}
	}
	return out
}

func writeJSONRows(path string, cfg *config.TaskConfig, rows []result.Row) error {
	b, err := json.MarshalIndent(toOutputRows(rows), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func printJSONRows(cfg *config.TaskConfig, rows []result.Row) error {
	b, err := json.MarshalIndent(toOutputRows(rows), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// printTableRows renders the result table the way the teacher renders a
// Relation: a markdown table built with tablewriter's functional-option
// constructor (datalog/executor/table_formatter.go).
func printTableRows(cfg *config.TaskConfig, rows []result.Row) error {
	order := cfg.Tree.PreOrder()

	headers := []string{"subject_id"}
	if cfg.IndexWindow != "" {
		headers = append(headers, "index_timestamp")
	}
	if cfg.LabelWindow != "" {
		headers = append(headers, "label")
	}
	headers = append(headers, "trigger")
	for _, name := range order {
		headers = append(headers, name+".start", name+".end")
	}

	sb := &strings.Builder{}
	alignment := make([]tw.Align, len(headers))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}
	tbl := tablewriter.NewTable(sb,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	tbl.Header(headers)

	const layout = "2006-01-02T15:04:05"
	for _, r := range rows {
		row := []string{fmt.Sprintf("%d", r.SubjectID)}
		if cfg.IndexWindow != "" {
			if r.IndexTimestamp != nil {
				row = append(row, r.IndexTimestamp.Format(layout))
			} else {
				row = append(row, "")
			}
		}
		if cfg.LabelWindow != "" {
			if r.Label != nil {
				row = append(row, fmt.Sprintf("%d", *r.Label))
			} else {
				row = append(row, "")
			}
		}
		row = append(row, r.Trigger.Format(layout))
		for _, name := range order {
			wr, ok := r.Window(name)
			if !ok {
				row = append(row, "", "")
				continue
			}
			row = append(row, wr.Start.Format(layout), wr.End.Format(layout))
		}
		tbl.Append(row)
	}
	tbl.Render()
	fmt.Print(sb.String())
	fmt.Printf("\n_%d rows_\n", len(rows))
	return nil
}
