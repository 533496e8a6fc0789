// Package table implements the predicates-count table contract (spec §3):
// a per-subject, timestamp-indexed table of integer predicate counts, plus
// the subject-grouped, timestamp-sorted iteration the Aggregation Kernel
// needs. Modeled on the teacher's own Relation/Tuple row abstraction
// rather than a generic dataframe library (see DESIGN.md) -- the spec
// requires the core "must not assume a particular engine" (spec §9), so
// PredicateTable is an interface with two implementations: MemTable
// (default) and DiskStore (table/diskstore.go).
package table

import (
	"sort"
	"time"

	"github.com/wbrown/cohortx/cohorterr"
)

// Row is one (subject_id, timestamp) record with its predicate counts.
// Timestamp is the zero value for static (patient_demographics) rows,
// which the core ignores for windowing purposes (spec §3).
type Row struct {
	SubjectID int64
	Timestamp time.Time
	Static    bool
	Counts    map[string]int64
}

// Count returns the count for predicate name, or 0 if absent.
func (r Row) Count(name string) int64 {
	return r.Counts[name]
}

// PredicateTable is the read-only, sorted predicates table the
// Aggregation Kernel operates over. All intermediates the extractor
// builds are derived from a PredicateTable and are themselves short-lived
// in-memory structures (spec §3 "Lifecycle").
type PredicateTable interface {
	// Subjects returns every distinct subject_id present, ascending.
	Subjects() []int64
	// Rows returns a subject's non-static rows, ascending by timestamp.
	Rows(subjectID int64) []Row
	// Predicates returns the set of predicate-count column names present.
	Predicates() []string
	// StaticCounts returns a subject's patient_demographics counts
	// (SPEC_FULL.md §C.5), evaluated once per subject rather than per
	// window. Empty if the subject has no static rows.
	StaticCounts(subjectID int64) map[string]int64
}

// MemTable is the default, in-memory PredicateTable implementation: a
// per-subject slice of sorted rows. This is the implementation exercised
// by the extractor in the common case (spec §5: "data-parallel execution
// permitted only inside the Aggregation Kernel" -- MemTable itself does
// no parallel work, it just holds sorted slices for the kernel to scan).
type MemTable struct {
	bySubject  map[int64][]Row
	subjects   []int64
	predicates []string
}

// NewMemTable builds a MemTable from rows, sorting them by
// (subject_id, timestamp) as required by spec §3's invariant, and
// validating the schema contract (spec §7 SchemaError):
//   - subject_id/timestamp pairs must be unique among non-static rows
//   - _ANY_EVENT must be present and equal to 1 on every non-static row
func NewMemTable(rows []Row) (*MemTable, error) {
	m := &MemTable{bySubject: make(map[int64][]Row)}
	predSet := make(map[string]struct{})

	for _, r := range rows {
		m.bySubject[r.SubjectID] = append(m.bySubject[r.SubjectID], r)
		for name := range r.Counts {
			predSet[name] = struct{}{}
		}
	}

	for subj, subjRows := range m.bySubject {
		sort.Slice(subjRows, func(i, j int) bool {
			return subjRows[i].Timestamp.Before(subjRows[j].Timestamp)
		})
		m.bySubject[subj] = subjRows

		seen := make(map[int64]struct{}, len(subjRows))
		for _, r := range subjRows {
			if r.Static {
				continue
			}
			key := r.Timestamp.UnixMicro()
			if _, dup := seen[key]; dup {
				return nil, cohorterr.NewSchemaError("timestamp", "duplicate (subject_id=%d, timestamp=%s)", subj, r.Timestamp)
			}
			seen[key] = struct{}{}
			if v, ok := r.Counts[anyEventColumn]; !ok || v != 1 {
				return nil, cohorterr.NewSchemaError(anyEventColumn, "missing or not 1 on subject %d at %s", subj, r.Timestamp)
			}
		}
	}

	for subj := range m.bySubject {
		m.subjects = append(m.subjects, subj)
	}
	sort.Slice(m.subjects, func(i, j int) bool { return m.subjects[i] < m.subjects[j] })

	for p := range predSet {
		m.predicates = append(m.predicates, p)
	}
	sort.Strings(m.predicates)

	return m, nil
}

const anyEventColumn = "_ANY_EVENT"

func (m *MemTable) Subjects() []int64 {
	out := make([]int64, len(m.subjects))
	copy(out, m.subjects)
	return out
}

func (m *MemTable) Rows(subjectID int64) []Row {
	rows := m.bySubject[subjectID]
	var out []Row
	for _, r := range rows {
		if !r.Static {
			out = append(out, r)
		}
	}
	return out
}

// StaticRows returns subjectID's static (patient_demographics) rows,
// evaluated once per subject rather than windowed (SPEC_FULL.md §C.5).
func (m *MemTable) StaticRows(subjectID int64) []Row {
	var out []Row
	for _, r := range m.bySubject[subjectID] {
		if r.Static {
			out = append(out, r)
		}
	}
	return out
}

// StaticCounts folds subjectID's static rows' counts into a single map,
// the form the Aggregation Kernel's has() check needs (SPEC_FULL.md §C.5).
func (m *MemTable) StaticCounts(subjectID int64) map[string]int64 {
	out := make(map[string]int64)
	for _, r := range m.StaticRows(subjectID) {
		for pred, c := range r.Counts {
			out[pred] += c
		}
	}
	return out
}

func (m *MemTable) Predicates() []string {
	out := make([]string, len(m.predicates))
	copy(out, m.predicates)
	return out
}

// IsEmpty reports whether the table has no rows at all (spec §7
// EmptyInputWarning trigger).
func (m *MemTable) IsEmpty() bool {
	return len(m.subjects) == 0
}
