// Package tree builds the window dependency tree (spec §3 "Window tree",
// §4.3 "Window Tree Construction") from a set of windows whose start/end
// boundaries reference the trigger, another window's boundary, or (for
// the window's own dependent side) the window's own anchor boundary.
//
// Each window is the recursion unit: one side (the "anchor") resolves,
// directly or after normalization, to an external reference (the trigger
// or another window's boundary); the other side ("dependent") is either
// NULL (subject's earliest/latest event) or a fixed/event-bound relation
// to the anchor side. This matches §4.4.1's agg_temporal signature, which
// takes a single Δ relative to one anchor timestamp -- i.e. exactly one
// side of a window is ever "the anchor" in the aggregation sense.
package tree

import (
	"fmt"
	"sort"

	"github.com/wbrown/cohortx/cohorterr"
	"github.com/wbrown/cohortx/timeref"
)

// HasConstraint is a normalized (min, max) bound on a predicate's count
// within a window, both bounds inclusive (spec §4.1, §6).
type HasConstraint struct {
	Min *int64
	Max *int64
}

// Satisfies reports whether count falls within [Min, Max] (absent bound
// is unbounded on that side).
func (h HasConstraint) Satisfies(count int64) bool {
	if h.Min != nil && count < *h.Min {
		return false
	}
	if h.Max != nil && count > *h.Max {
		return false
	}
	return true
}

// RawWindow is the compiler's parsed-but-unresolved view of one window:
// both endpoint expressions exactly as authored, before anchor-side
// determination and Δ normalization.
type RawWindow struct {
	Name                           string
	Start, End                     timeref.EndpointExpr
	StartInclusive, EndInclusive   bool
	Has                            map[string]HasConstraint
	Label                          string // predicate name, "" if none
	IndexTimestamp                 string // "start", "end", or ""
}

// Window is a fully resolved tree node: exactly one side is the anchor
// (driven by the parent edge), the other is either open (Null) or a
// fixed/event-bound relation to the anchor.
type Window struct {
	Name string

	AnchorSide timeref.Side
	AnchorExpr timeref.EndpointExpr // Kind in {Identity, Offset, Next, Prev}; Ref is external

	OtherSide timeref.Side
	OtherExpr timeref.EndpointExpr // Kind in {Null, Identity, Offset, Next, Prev}

	StartInclusive, EndInclusive bool
	Has                          map[string]HasConstraint
	Label                        string
	IndexTimestamp               string
}

// StartExpr/EndExpr report which of AnchorExpr/OtherExpr governs a given
// side of the window, for the extractor's convenience.
func (w *Window) StartExpr() timeref.EndpointExpr {
	if w.AnchorSide == timeref.SideStart {
		return w.AnchorExpr
	}
	return w.OtherExpr
}

func (w *Window) EndExpr() timeref.EndpointExpr {
	if w.AnchorSide == timeref.SideEnd {
		return w.AnchorExpr
	}
	return w.OtherExpr
}

// Tree is the compiled window dependency tree, rooted at the trigger.
type Tree struct {
	Windows map[string]*Window
	// order is the pre-order traversal of window names (depth-first from
	// the trigger, siblings sorted by name at each level), used by the Result
	// Shaper for column ordering (spec §4.6).
	order []string
}

// ChildrenOf returns the window names whose anchor side resolves directly
// to ref (spec §4.5 "recurse on the child subtree").
func (t *Tree) ChildrenOf(ref timeref.Reference) []string {
	var out []string
	for name, w := range t.Windows {
		if w.AnchorExpr.Ref.Equal(ref) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// PreOrder returns window names in pre-order traversal of the tree,
// trigger-rooted (spec §4.6 "one struct column per window in pre-order
// traversal of the window tree").
func (t *Tree) PreOrder() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Build validates and compiles raw windows into a Tree rooted at the
// trigger. See the package doc for the anchor/dependent model.
func Build(raw map[string]RawWindow) (*Tree, error) {
	windows := make(map[string]*Window, len(raw))

	for name, rw := range raw {
		w, err := resolveWindow(name, rw)
		if err != nil {
			return nil, err
		}
		windows[name] = w
	}

	if err := checkAcyclicAndReachable(windows); err != nil {
		return nil, err
	}

	t := &Tree{Windows: windows}
	t.order = computePreOrder(windows)
	return t, nil
}

func selfRefs(name string) (start, end timeref.Reference) {
	return timeref.WindowStartRef(name), timeref.WindowEndRef(name)
}

func isSelfRef(e timeref.EndpointExpr, start, end timeref.Reference) bool {
	return e.Kind != timeref.EndpointNull && (e.Ref.Equal(start) || e.Ref.Equal(end))
}

func resolveWindow(name string, rw RawWindow) (*Window, error) {
	selfStart, selfEnd := selfRefs(name)
	field := func(side string) string { return fmt.Sprintf("windows.%s.%s", name, side) }

	se, ee := rw.Start, rw.End

	if se.Kind == timeref.EndpointNull && ee.Kind == timeref.EndpointNull {
		return nil, cohorterr.NewConfigError(field("start"), "start and end cannot both be NULL")
	}

	w := &Window{
		Name:           name,
		StartInclusive: rw.StartInclusive,
		EndInclusive:   rw.EndInclusive,
		Has:            rw.Has,
		Label:          rw.Label,
		IndexTimestamp: rw.IndexTimestamp,
	}

	switch {
	case se.Kind == timeref.EndpointNull:
		if isSelfRef(ee, selfStart, selfEnd) {
			return nil, cohorterr.NewConfigError(field("end"), "end cannot self-reference when start is NULL")
		}
		w.AnchorSide, w.AnchorExpr = timeref.SideEnd, ee
		w.OtherSide, w.OtherExpr = timeref.SideStart, se

	case ee.Kind == timeref.EndpointNull:
		if isSelfRef(se, selfStart, selfEnd) {
			return nil, cohorterr.NewConfigError(field("start"), "start cannot self-reference when end is NULL")
		}
		w.AnchorSide, w.AnchorExpr = timeref.SideStart, se
		w.OtherSide, w.OtherExpr = timeref.SideEnd, ee

	default:
		seSelf := isSelfRef(se, selfStart, selfEnd)
		eeSelf := isSelfRef(ee, selfStart, selfEnd)

		switch {
		case seSelf && eeSelf:
			return nil, cohorterr.NewConfigError(name, "start and end cannot both self-reference each other")

		case seSelf && !eeSelf:
			if se.Kind == timeref.EndpointNext {
				return nil, cohorterr.NewConfigError(field("start"), "start referencing its own end must use PREV, not NEXT (ordering)")
			}
			if !se.Ref.Equal(selfEnd) {
				return nil, cohorterr.NewConfigError(field("start"), "self-reference must target this window's own end")
			}
			w.AnchorSide, w.AnchorExpr = timeref.SideEnd, ee
			w.OtherSide, w.OtherExpr = timeref.SideStart, se

		case !seSelf && eeSelf:
			if ee.Kind == timeref.EndpointPrev {
				return nil, cohorterr.NewConfigError(field("end"), "end referencing its own start must use NEXT, not PREV (ordering)")
			}
			if !ee.Ref.Equal(selfStart) {
				return nil, cohorterr.NewConfigError(field("end"), "self-reference must target this window's own start")
			}
			w.AnchorSide, w.AnchorExpr = timeref.SideStart, se
			w.OtherSide, w.OtherExpr = timeref.SideEnd, ee

		default: // neither self-references; both must share one external anchor
			if !se.Ref.Equal(ee.Ref) {
				return nil, cohorterr.NewConfigError(name, "start and end reference different anchors (%s vs %s); one must reference the other", se.Ref, ee.Ref)
			}
			normalized, err := normalizeRelativeToAnchor(ee, se, selfStart)
			if err != nil {
				return nil, cohorterr.NewConfigError(field("end"), "%w", err)
			}
			w.AnchorSide, w.AnchorExpr = timeref.SideStart, se
			w.OtherSide, w.OtherExpr = timeref.SideEnd, normalized
		}
	}

	if err := checkDeltaSign(w); err != nil {
		return nil, cohorterr.NewConfigError(name, "%w", err)
	}

	return w, nil
}

// deltaOf returns the fixed Δ an endpoint expression represents relative
// to its reference (Identity is Δ=0), or an error if the expression is
// event-bound and cannot be expressed as a fixed delta.
func deltaOf(e timeref.EndpointExpr) (timeref.Duration, error) {
	switch e.Kind {
	case timeref.EndpointIdentity:
		return 0, nil
	case timeref.EndpointOffset:
		return e.Delta, nil
	default:
		return 0, fmt.Errorf("cannot normalize a NEXT/PREV endpoint shared with another field's external reference; reference the window's own boundary explicitly instead")
	}
}

// normalizeRelativeToAnchor rewrites `other`, which names the same
// external reference as `anchor`, into an expression relative to the
// window's own anchor-side boundary (spec §3's "reference the first
// field" invariant, satisfied up to this normalization).
func normalizeRelativeToAnchor(other, anchor timeref.EndpointExpr, anchorSelfRef timeref.Reference) (timeref.EndpointExpr, error) {
	anchorDelta, err := deltaOf(anchor)
	if err != nil {
		return timeref.EndpointExpr{}, err
	}
	otherDelta, err := deltaOf(other)
	if err != nil {
		return timeref.EndpointExpr{}, err
	}
	return timeref.Offset(anchorSelfRef, otherDelta-anchorDelta), nil
}

// checkDeltaSign enforces time monotonicity at compile time wherever it
// can be determined statically (spec §4.1 "Δ sign inconsistent with the
// reference direction"): when the dependent side is the end, a fixed Δ
// relative to start must be >= 0; when the dependent side is the start,
// a fixed Δ relative to end must be <= 0.
func checkDeltaSign(w *Window) error {
	if w.OtherExpr.Kind != timeref.EndpointOffset {
		return nil
	}
	if w.OtherSide == timeref.SideEnd && w.OtherExpr.Delta < 0 {
		return fmt.Errorf("end must not precede start: got negative offset %s from start", w.OtherExpr.Delta)
	}
	if w.OtherSide == timeref.SideStart && w.OtherExpr.Delta > 0 {
		return fmt.Errorf("start must not follow end: got positive offset %s from end", w.OtherExpr.Delta)
	}
	return nil
}

// checkAcyclicAndReachable verifies every window's anchor chain
// eventually reaches the trigger with no cycles (spec §4.3 "Reject any
// configuration where the resulting graph is not a tree rooted at the
// trigger with reachable boundary nodes").
func checkAcyclicAndReachable(windows map[string]*Window) error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(windows))

	var visit func(name string) error
	visit = func(name string) error {
		if color[name] == black {
			return nil
		}
		if color[name] == gray {
			return cohorterr.NewConfigError(name, "window reference cycle detected")
		}
		w, ok := windows[name]
		if !ok {
			return cohorterr.NewConfigError(name, "references nonexistent window")
		}
		color[name] = gray
		ref := w.AnchorExpr.Ref
		switch ref.Kind {
		case timeref.RefWindowStart, timeref.RefWindowEnd:
			if err := visit(ref.Window); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	names := make([]string, 0, len(windows))
	for name := range windows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

func computePreOrder(windows map[string]*Window) []string {
	childrenOf := func(ref timeref.Reference) []string {
		var out []string
		for name, w := range windows {
			if w.AnchorExpr.Ref.Equal(ref) {
				out = append(out, name)
			}
		}
		sort.Strings(out)
		return out
	}

	var order []string
	var visit func(ref timeref.Reference)
	visit = func(ref timeref.Reference) {
		for _, name := range childrenOf(ref) {
			order = append(order, name)
			w := windows[name]
			visit(timeref.WindowStartRef(name))
			if w.AnchorSide != timeref.SideStart {
				// the window's own end is only a further anchor point if
				// something actually hangs off it; checked via childrenOf already
			}
			visit(timeref.WindowEndRef(name))
		}
	}
	visit(timeref.TriggerRef)
	return order
}
