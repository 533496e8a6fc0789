// Package aggregate implements the Aggregation Kernel (spec §4.4): pure
// functions over a table.PredicateTable (Temporal, EventBound, and
// OpenEnded for NULL boundaries), each returning a table keyed by
// (subject_id, anchor_timestamp) with one integer column per predicate.
// Grouping is strictly per subject_id (no cross-subject leakage), matching
// the teacher's own per-partition aggregation style
// (datalog/executor/aggregation.go) adapted from Datalog group-by
// semantics to this domain's per-subject rolling/cumulative sums.
package aggregate

import (
	"sort"
	"time"

	"github.com/wbrown/cohortx/table"
	"github.com/wbrown/cohortx/timeref"
)

// AnchorRow is one (subject_id, anchor_timestamp) row flowing between
// recursion frames, carrying the predicate counts accumulated on the edge
// that produced it (spec §4.5's "anchor_to_root_df").
type AnchorRow struct {
	SubjectID int64
	Anchor    time.Time
	Counts    map[string]int64
}

// Count returns the count for predicate name, or 0 if absent.
func (a AnchorRow) Count(name string) int64 { return a.Counts[name] }

// Temporal implements §4.4.1: for every anchor, sum each predicate column
// over [anchor+min(0,Δ), anchor+max(0,Δ)] with the given inclusivities.
// Result anchor equals input anchor (temporal edges preserve identity).
func Temporal(pt table.PredicateTable, delta timeref.Duration, inclLeft, inclRight bool, anchors []AnchorRow) []AnchorRow {
	out := make([]AnchorRow, 0, len(anchors))
	bySubject := groupBySubject(anchors)

	loDelta, hiDelta := timeref.Duration(0), delta
	if delta < 0 {
		loDelta, hiDelta = delta, timeref.Duration(0)
	}

	for subject, subjAnchors := range bySubject {
		rows := pt.Rows(subject)
		for _, a := range subjAnchors {
			lo, hi := loDelta.Add(a.Anchor), hiDelta.Add(a.Anchor)
			start := lowerBound(rows, lo, inclLeft)
			end := upperBound(rows, hi, inclRight)
			out = append(out, AnchorRow{
				SubjectID: subject,
				Anchor:    a.Anchor,
				Counts:    sumRange(rows, start, end),
			})
		}
	}
	sortAnchorRows(out)
	return out
}

// EventBound implements §4.4.2. kind must be timeref.EndpointNext (search
// forward for the unresolved end boundary) or timeref.EndpointPrev (search
// backward for the unresolved start boundary). offsetDelta is the fixed Δ
// already accumulated on the edge entering this subtree (spec §4.5); it is
// zero unless chained through an Identity/Offset merge ahead of the
// event-bound edge.
func EventBound(pt table.PredicateTable, kind timeref.EndpointKind, boundaryPred string, inclLeft, inclRight bool, offsetDelta timeref.Duration, anchors []AnchorRow) []AnchorRow {
	out := make([]AnchorRow, 0, len(anchors))
	bySubject := groupBySubject(anchors)

	for subject, subjAnchors := range bySubject {
		rows := pt.Rows(subject)
		for _, a := range subjAnchors {
			var row table.Row
			var sum map[string]int64
			var ok bool
			if kind == timeref.EndpointNext {
				row, sum, ok = nextMatch(rows, offsetDelta.Add(a.Anchor), boundaryPred, inclLeft, inclRight)
			} else {
				row, sum, ok = prevMatch(rows, offsetDelta.Add(a.Anchor), boundaryPred, inclLeft, inclRight)
			}
			if !ok {
				continue // no matching child anchor: realization impossible, dropped
			}
			out = append(out, AnchorRow{SubjectID: subject, Anchor: row.Timestamp, Counts: sum})
		}
	}
	sortAnchorRows(out)
	return out
}

// OpenEnded resolves a NULL endpoint (spec §4.2 "NULL"): side identifies
// which boundary is open. For side == SideEnd, the window runs from each
// anchor to the subject's last recorded event; for side == SideStart, from
// the subject's first recorded event to each anchor. Subjects with no rows
// at all cannot produce a realization and are dropped. The returned anchor
// is unchanged from the input -- OpenEnded only supplies the window's
// full-span counts for the has() check, not a new pivot timestamp; the
// caller resolves the open boundary's own timestamp (the subject's first
// or last row, see extractor.spanAggregate).
func OpenEnded(pt table.PredicateTable, side timeref.Side, inclLeft, inclRight bool, anchors []AnchorRow) []AnchorRow {
	out := make([]AnchorRow, 0, len(anchors))
	bySubject := groupBySubject(anchors)

	for subject, subjAnchors := range bySubject {
		rows := pt.Rows(subject)
		if len(rows) == 0 {
			continue
		}
		for _, a := range subjAnchors {
			var start, end int
			if side == timeref.SideEnd {
				start = lowerBound(rows, a.Anchor, inclLeft)
				end = len(rows) - 1
			} else {
				start = 0
				end = upperBound(rows, a.Anchor, inclRight)
			}
			out = append(out, AnchorRow{
				SubjectID: subject,
				Anchor:    a.Anchor,
				Counts:    sumRange(rows, start, end),
			})
		}
	}
	sortAnchorRows(out)
	return out
}

// nextMatch searches forward from bound (inclusive iff inclLower) for the
// first row satisfying boundaryPred > 0, summing predicate counts over the
// half-open range [bound, matchedRow] with inclRight governing whether the
// matched row's own counts are included.
func nextMatch(rows []table.Row, bound time.Time, boundaryPred string, inclLower, inclRight bool) (table.Row, map[string]int64, bool) {
	start := lowerBound(rows, bound, inclLower)
	for i := start; i < len(rows); i++ {
		if rows[i].Count(boundaryPred) > 0 {
			end := i
			if !inclRight {
				end = i - 1
			}
			return rows[i], sumRange(rows, start, end), true
		}
	}
	return table.Row{}, nil, false
}

// prevMatch mirrors nextMatch, scanning backward from bound (inclusive iff
// inclUpper) for the nearest row satisfying boundaryPred > 0; inclLeft
// governs whether the matched row's own counts are included.
func prevMatch(rows []table.Row, bound time.Time, boundaryPred string, inclLeft, inclUpper bool) (table.Row, map[string]int64, bool) {
	end := upperBound(rows, bound, inclUpper)
	for i := end; i >= 0; i-- {
		if rows[i].Count(boundaryPred) > 0 {
			start := i
			if !inclLeft {
				start = i + 1
			}
			return rows[i], sumRange(rows, start, end), true
		}
	}
	return table.Row{}, nil, false
}

// lowerBound returns the first row index with timestamp >= t (inclusive)
// or > t (exclusive), i.e. the start of the summed/scanned range.
func lowerBound(rows []table.Row, t time.Time, inclusive bool) int {
	return sort.Search(len(rows), func(i int) bool {
		if inclusive {
			return !rows[i].Timestamp.Before(t)
		}
		return rows[i].Timestamp.After(t)
	})
}

// upperBound returns the last row index with timestamp <= t (inclusive) or
// < t (exclusive), i.e. the end of the summed/scanned range. Returns -1 if
// no such row exists.
func upperBound(rows []table.Row, t time.Time, inclusive bool) int {
	idx := sort.Search(len(rows), func(i int) bool {
		if inclusive {
			return rows[i].Timestamp.After(t)
		}
		return !rows[i].Timestamp.Before(t)
	})
	return idx - 1
}

func sumRange(rows []table.Row, start, end int) map[string]int64 {
	sums := make(map[string]int64)
	if start < 0 {
		start = 0
	}
	for i := start; i <= end && i < len(rows); i++ {
		for pred, c := range rows[i].Counts {
			sums[pred] += c
		}
	}
	return sums
}

func groupBySubject(anchors []AnchorRow) map[int64][]AnchorRow {
	out := make(map[int64][]AnchorRow)
	for _, a := range anchors {
		out[a.SubjectID] = append(out[a.SubjectID], a)
	}
	return out
}

func sortAnchorRows(rows []AnchorRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SubjectID != rows[j].SubjectID {
			return rows[i].SubjectID < rows[j].SubjectID
		}
		return rows[i].Anchor.Before(rows[j].Anchor)
	})
}
