package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/wbrown/cohortx/cohorterr"
	"github.com/wbrown/cohortx/table"
)

// jsonRow is the on-disk shape of one predicates-table row. The core
// itself is deliberately engine-agnostic (spec §9 "the core must not
// assume a particular engine"); this loader is CLI-only glue, so it uses
// encoding/json rather than any pack dependency -- no repo in the
// retrieval pack ingests a generic tabular row format, so there is
// nothing to ground this on beyond the standard library (see DESIGN.md).
type jsonRow struct {
	SubjectID int64            `json:"subject_id"`
	Timestamp time.Time        `json:"timestamp"`
	Static    bool             `json:"static"`
	Counts    map[string]int64 `json:"counts"`
}

// parsePredicateRows reads a JSON array of jsonRow from path into plain
// table.Row values, surfacing decode failures as cohorterr.SchemaError
// (spec §7). Shared by both the in-memory and disk-backed table loaders.
func parsePredicateRows(path string) ([]table.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cohorterr.NewSchemaError("", "reading predicates table %s: %w", path, err)
	}

	var raw []jsonRow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, cohorterr.NewSchemaError("", "decoding predicates table %s: %w", path, err)
	}

	rows := make([]table.Row, len(raw))
	for i, r := range raw {
		rows[i] = table.Row{
			SubjectID: r.SubjectID,
			Timestamp: r.Timestamp,
			Static:    r.Static,
			Counts:    r.Counts,
		}
	}
	return rows, nil
}

// loadPredicateTable reads a JSON array of jsonRow from path and builds a
// table.MemTable, surfacing schema violations as cohorterr.SchemaError
// (spec §7).
func loadPredicateTable(path string) (*table.MemTable, error) {
	rows, err := parsePredicateRows(path)
	if err != nil {
		return nil, err
	}
	return table.NewMemTable(rows)
}

// loadDiskPredicateTable reads a JSON array of jsonRow from jsonPath and
// spills it into a badger-backed table.DiskStore rooted at diskPath
// (SPEC_FULL.md §B.1), for predicate tables too large to hold in memory.
// The caller owns the returned store's lifetime and must Close it.
func loadDiskPredicateTable(jsonPath, diskPath string) (*table.DiskStore, error) {
	rows, err := parsePredicateRows(jsonPath)
	if err != nil {
		return nil, err
	}
	ds, err := table.OpenDiskStore(diskPath)
	if err != nil {
		return nil, cohorterr.NewSchemaError("", "opening disk predicate store %s: %w", diskPath, err)
	}
	if err := ds.Load(rows); err != nil {
		ds.Close()
		return nil, cohorterr.NewSchemaError("", "loading predicates table %s into disk store: %w", jsonPath, err)
	}
	return ds, nil
}
