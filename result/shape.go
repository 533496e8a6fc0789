// Package result implements the Result Shaper (spec §4.6): the final pass
// over the extractor's surviving realizations that projects out the
// `label`/`index_timestamp` columns, orders window columns in tree
// pre-order, and sorts rows for emission.
package result

import (
	"sort"
	"time"

	"github.com/wbrown/cohortx/config"
	"github.com/wbrown/cohortx/extractor"
)

// Row is one subject's output record: the fixed leading columns plus one
// WindowResult per tree node, ordered per cfg.Tree.PreOrder() (spec §4.6
// "one struct column per window in pre-order traversal").
type Row struct {
	SubjectID      int64
	IndexTimestamp *time.Time
	Label          *int64
	Trigger        time.Time
	Windows        []extractor.WindowResult
}

// Window returns the realized struct for the named window, or false if
// the row has no window of that name. Every surviving realization carries
// every window of the tree, since a failed branch drops the whole
// realization (extractor.walk's inner join), so false means the name is
// not a window of the configuration.
func (r Row) Window(name string) (extractor.WindowResult, bool) {
	for _, w := range r.Windows {
		if w.Name == name {
			return w, true
		}
	}
	return extractor.WindowResult{}, false
}

// Shape projects realizations into output Rows and sorts them (spec §4.6,
// §8 "Result is sorted by (subject_id, index_timestamp)").
func Shape(cfg *config.TaskConfig, realizations []extractor.Realization) []Row {
	order := cfg.Tree.PreOrder()

	rows := make([]Row, 0, len(realizations))
	for _, re := range realizations {
		row := Row{
			SubjectID: re.SubjectID,
			Trigger:   re.Trigger,
			Windows:   make([]extractor.WindowResult, 0, len(order)),
		}

		for _, name := range order {
			wr, ok := re.Windows[name]
			if !ok {
				continue
			}
			row.Windows = append(row.Windows, wr)
		}

		if cfg.LabelWindow != "" {
			if wr, ok := re.Windows[cfg.LabelWindow]; ok {
				c := wr.Count(cfg.LabelPredicate)
				row.Label = &c
			}
		}

		if cfg.IndexWindow != "" {
			if wr, ok := re.Windows[cfg.IndexWindow]; ok {
				ts := wr.Start
				if cfg.IndexSide == "end" {
					ts = wr.End
				}
				row.IndexTimestamp = &ts
			}
		}

		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SubjectID != rows[j].SubjectID {
			return rows[i].SubjectID < rows[j].SubjectID
		}
		return lessIndex(rows[i].IndexTimestamp, rows[j].IndexTimestamp, rows[i].Trigger, rows[j].Trigger)
	})

	return rows
}

// lessIndex orders by index_timestamp when the task configures one,
// falling back to trigger timestamp so row order is still deterministic
// when no index_timestamp window is configured.
func lessIndex(a, b *time.Time, triggerA, triggerB time.Time) bool {
	if a == nil || b == nil {
		return triggerA.Before(triggerB)
	}
	return a.Before(*b)
}
