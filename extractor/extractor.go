// Package extractor implements the Recursive Extractor (spec §4.5): a
// depth-first walk of the window tree that, for every trigger-positive
// anchor, threads a realization through each branch, aggregating,
// filtering by `has`, and inner-joining sibling branches back together.
//
// The walk is grounded in the teacher's own compiled-plan executor
// (datalog/executor/executor.go walks a planner.QueryPlan phase by
// phase; here the walk is over a tree.Tree instead) and its hash-join
// inner-join semantics (datalog/executor/join.go), adapted from joining
// on a Datalog variable to joining on the anchor timestamp at a shared
// tree node.
package extractor

import (
	"log/slog"
	"sort"
	"time"

	"github.com/wbrown/cohortx/aggregate"
	"github.com/wbrown/cohortx/cohorterr"
	"github.com/wbrown/cohortx/config"
	"github.com/wbrown/cohortx/table"
	"github.com/wbrown/cohortx/timeref"
	"github.com/wbrown/cohortx/tree"
)

// WindowResult is one window's realized span and predicate counts within
// a single realization (spec §4.5 step 3, §4.6).
type WindowResult struct {
	Name       string
	Start, End time.Time
	Counts     map[string]int64
}

// Count returns the count for predicate name, or 0 if absent.
func (w WindowResult) Count(name string) int64 { return w.Counts[name] }

// Realization is one subject's complete, fully-constrained assignment of
// timestamps to every window boundary (spec glossary "Realization").
type Realization struct {
	SubjectID int64
	Trigger   time.Time
	Windows   map[string]WindowResult
}

// frame threads one in-flight realization through the walk: origin is the
// anchor timestamp at the node the walk is currently fanning out from
// (the join key siblings must agree on); result accumulates every window
// resolved so far anywhere in the realization.
type frame struct {
	subject int64
	origin  time.Time
	result  map[string]WindowResult
}

type anchorKey struct {
	subject int64
	ts      int64 // UnixMicro
}

func keyOf(subject int64, ts time.Time) anchorKey {
	return anchorKey{subject: subject, ts: ts.UnixMicro()}
}

// Run walks cfg's window tree over pt depth-first, returning every
// surviving realization (spec §4.5). A nil logger defaults to
// slog.Default() (SPEC_FULL.md §A.1); debug-level tracing reports which
// node is being fanned out and how many frames survive each edge, in
// place of the teacher's own fmt.Printf debug gate
// (datalog/executor/aggregation.go's debugAggregation).
//
// A returned error may be a non-fatal cohorterr.EmptyInputWarning (spec
// §7): callers should treat that case as "zero rows, no error" via
// cohorterr.IsEmptyInput, matching spec §7's "return empty result table
// (not an error)".
func Run(cfg *config.TaskConfig, pt table.PredicateTable, logger *slog.Logger) ([]Realization, error) {
	if logger == nil {
		logger = slog.Default()
	}

	subjects := pt.Subjects()
	if len(subjects) == 0 {
		return nil, cohorterr.NewEmptyInputWarning("predicates table has no subjects")
	}

	var rootFrames []frame
	for _, subj := range subjects {
		for _, r := range pt.Rows(subj) {
			if r.Count(cfg.Trigger) > 0 {
				rootFrames = append(rootFrames, frame{
					subject: subj,
					origin:  r.Timestamp,
					result:  map[string]WindowResult{},
				})
			}
		}
	}
	if len(rootFrames) == 0 {
		return nil, cohorterr.NewEmptyInputWarning("trigger predicate matched no rows")
	}

	logger.Debug("extractor: root anchors", "count", len(rootFrames), "trigger", cfg.Trigger)

	survivors, err := walk(pt, cfg.Tree, timeref.TriggerRef, rootFrames, logger)
	if err != nil {
		return nil, err
	}

	out := make([]Realization, 0, len(survivors))
	for _, f := range survivors {
		windows := make(map[string]WindowResult, len(f.result))
		for name, wr := range f.result {
			windows[name] = wr
		}
		out = append(out, Realization{SubjectID: f.subject, Trigger: f.origin, Windows: windows})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubjectID != out[j].SubjectID {
			return out[i].SubjectID < out[j].SubjectID
		}
		return out[i].Trigger.Before(out[j].Trigger)
	})

	logger.Debug("extractor: realizations survived", "count", len(out))
	return out, nil
}

// walk fans out from ref to every window directly anchored there (spec
// §4.5 step 1-4), then inner-joins the siblings' surviving frames on the
// incoming (subject, origin) key (spec §4.5 step 5). A node with no
// children is a leaf: frames pass through unchanged.
func walk(pt table.PredicateTable, tr *tree.Tree, ref timeref.Reference, frames []frame, logger *slog.Logger) ([]frame, error) {
	children := tr.ChildrenOf(ref)
	if len(children) == 0 {
		return frames, nil
	}

	logger.Debug("extractor: fan out", "node", ref.String(), "children", children, "frames", len(frames))

	liveKeys := make(map[anchorKey]bool, len(frames))
	contributions := make(map[anchorKey][]map[string]WindowResult, len(frames))

	for i, name := range children {
		w := tr.Windows[name]

		branchFrames := make([]frame, len(frames))
		for j, f := range frames {
			branchFrames[j] = frame{subject: f.subject, origin: f.origin, result: map[string]WindowResult{}}
		}

		branchOut, err := processWindow(pt, tr, w, branchFrames, logger)
		if err != nil {
			inFlight := make(map[int64]struct{}, len(frames))
			for _, f := range frames {
				inFlight[f.subject] = struct{}{}
			}
			return nil, cohorterr.NewRuntimeError(name, len(inFlight), err)
		}

		keys := make(map[anchorKey]bool, len(branchOut))
		for _, bf := range branchOut {
			k := keyOf(bf.subject, bf.origin)
			keys[k] = true
			contributions[k] = append(contributions[k], bf.result)
		}

		if i == 0 {
			for k := range keys {
				liveKeys[k] = true
			}
		} else {
			for k := range liveKeys {
				if !keys[k] {
					delete(liveKeys, k)
				}
			}
		}

		logger.Debug("extractor: edge survivors", "window", name, "survivors", len(keys))
	}

	out := make([]frame, 0, len(liveKeys))
	for _, f := range frames {
		k := keyOf(f.subject, f.origin)
		if !liveKeys[k] {
			continue
		}
		merged := make(map[string]WindowResult, len(f.result))
		for wn, wr := range f.result {
			merged[wn] = wr
		}
		for _, contrib := range contributions[k] {
			for wn, wr := range contrib {
				merged[wn] = wr
			}
		}
		out = append(out, frame{subject: f.subject, origin: f.origin, result: merged})
	}
	return out, nil
}

// processWindow resolves one window's edge for every incoming frame: it
// locates the window's anchor-side boundary relative to the incoming
// origin, aggregates the window's own span for the has() check (spec
// §4.5 steps 1-2), and recurses into whatever hangs off *either* of the
// window's own boundary nodes (step 4) -- both the dependent side (the
// common case, e.g. `target.start: gap.end`) and the anchor side itself,
// since a sibling window may reference that boundary directly (e.g.
// `other.start: gap.start`). Returned frames carry only this window's
// subtree's additions, keyed by the *incoming* origin so walk can inner-
// join siblings (step 5).
func processWindow(pt table.PredicateTable, tr *tree.Tree, w *tree.Window, frames []frame, logger *slog.Logger) ([]frame, error) {
	anchorSideIncl := w.StartInclusive
	if w.AnchorSide == timeref.SideEnd {
		anchorSideIncl = w.EndInclusive
	}

	out := make([]frame, 0, len(frames))
	for _, f := range frames {
		anchorTS, ok := locateAnchorSide(pt, w.AnchorExpr, anchorSideIncl, f.subject, f.origin)
		if !ok {
			continue
		}

		otherTS, counts, ok := spanAggregate(pt, w.OtherExpr, w.OtherSide, w.StartInclusive, w.EndInclusive, f.subject, anchorTS)
		if !ok {
			continue
		}
		// patient_demographics predicates are subject-level, not windowed
		// (SPEC_FULL.md §C.5): fold them into every window's struct so
		// `has` can constrain on them too.
		for pred, c := range pt.StaticCounts(f.subject) {
			counts[pred] = c
		}

		startTS, endTS := anchorTS, otherTS
		if w.AnchorSide == timeref.SideEnd {
			startTS, endTS = otherTS, anchorTS
		}
		if startTS.After(endTS) {
			continue // spec §3 invariant: start_ts <= end_ts
		}

		satisfied := true
		for pred, hc := range w.Has {
			if !hc.Satisfies(counts[pred]) {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}

		wr := WindowResult{Name: w.Name, Start: startTS, End: endTS, Counts: counts}

		otherRef := timeref.WindowEndRef(w.Name)
		if w.OtherSide == timeref.SideStart {
			otherRef = timeref.WindowStartRef(w.Name)
		}
		otherFrame := frame{subject: f.subject, origin: otherTS, result: map[string]WindowResult{}}
		otherDescendants, err := walk(pt, tr, otherRef, []frame{otherFrame}, logger)
		if err != nil {
			return nil, err
		}
		if len(otherDescendants) == 0 {
			continue // this window's own children existed but none survived
		}

		// A window's anchor-side boundary is itself a tree node other
		// windows may reference directly (e.g. `C.start: gap.start`); fan
		// out there too, using anchorTS as that node's origin (spec §4.3's
		// node unification -- the anchor-side boundary is a node like any
		// other, not only the dependent side).
		anchorRef := timeref.WindowStartRef(w.Name)
		if w.AnchorSide == timeref.SideEnd {
			anchorRef = timeref.WindowEndRef(w.Name)
		}
		anchorFrame := frame{subject: f.subject, origin: anchorTS, result: map[string]WindowResult{}}
		anchorDescendants, err := walk(pt, tr, anchorRef, []frame{anchorFrame}, logger)
		if err != nil {
			return nil, err
		}
		if len(anchorDescendants) == 0 {
			continue // a window anchored on this boundary existed but none survived
		}

		merged := map[string]WindowResult{w.Name: wr}
		for wn, dwr := range otherDescendants[0].result {
			merged[wn] = dwr
		}
		for wn, dwr := range anchorDescendants[0].result {
			merged[wn] = dwr
		}
		out = append(out, frame{subject: f.subject, origin: f.origin, result: merged})
	}
	return out, nil
}

// locateAnchorSide resolves the window's anchor-side boundary timestamp
// relative to origin. Identity/Offset are pure time arithmetic -- no
// table scan needed to locate a point, only to sum a range -- so only
// Next/Prev touch the predicates table here (spec §4.2 EndpointExpr).
func locateAnchorSide(pt table.PredicateTable, e timeref.EndpointExpr, incl bool, subject int64, origin time.Time) (time.Time, bool) {
	switch e.Kind {
	case timeref.EndpointIdentity:
		return origin, true
	case timeref.EndpointOffset:
		return e.Delta.Add(origin), true
	case timeref.EndpointNext, timeref.EndpointPrev:
		single := []aggregate.AnchorRow{{SubjectID: subject, Anchor: origin}}
		out := aggregate.EventBound(pt, e.Kind, e.Predicate, incl, true, 0, single)
		if len(out) == 0 {
			return time.Time{}, false
		}
		return out[0].Anchor, true
	default:
		return time.Time{}, false
	}
}

// spanAggregate resolves the window's other-side boundary timestamp and
// sums every predicate over the window's own span, for the has() check
// (spec §4.4, §4.5 step 2). side/inclLeft/inclRight are the window's own
// StartInclusive/EndInclusive flags; the aggregate package selects which
// one governs the anchor's own inclusion based on which side it sits on.
func spanAggregate(pt table.PredicateTable, e timeref.EndpointExpr, side timeref.Side, inclLeft, inclRight bool, subject int64, anchorTS time.Time) (time.Time, map[string]int64, bool) {
	single := []aggregate.AnchorRow{{SubjectID: subject, Anchor: anchorTS}}

	switch e.Kind {
	case timeref.EndpointNull:
		rows := pt.Rows(subject)
		if len(rows) == 0 {
			return time.Time{}, nil, false
		}
		out := aggregate.OpenEnded(pt, side, inclLeft, inclRight, single)
		if len(out) == 0 {
			return time.Time{}, nil, false
		}
		boundary := rows[0].Timestamp
		if side == timeref.SideEnd {
			boundary = rows[len(rows)-1].Timestamp
		}
		return boundary, out[0].Counts, true

	case timeref.EndpointOffset:
		out := aggregate.Temporal(pt, e.Delta, inclLeft, inclRight, single)
		if len(out) == 0 {
			return time.Time{}, nil, false
		}
		return e.Delta.Add(anchorTS), out[0].Counts, true

	case timeref.EndpointIdentity:
		// Degenerate zero-length window (start and end coincide).
		out := aggregate.Temporal(pt, timeref.Duration(0), inclLeft, inclRight, single)
		if len(out) == 0 {
			return time.Time{}, nil, false
		}
		return anchorTS, out[0].Counts, true

	case timeref.EndpointNext, timeref.EndpointPrev:
		out := aggregate.EventBound(pt, e.Kind, e.Predicate, inclLeft, inclRight, 0, single)
		if len(out) == 0 {
			return time.Time{}, nil, false
		}
		return out[0].Anchor, out[0].Counts, true

	default:
		return time.Time{}, nil, false
	}
}
