package timeref

import "fmt"

// ReferenceKind tags which kind of boundary a Reference points at.
type ReferenceKind uint8

const (
	// RefTrigger is the trigger event's timestamp.
	RefTrigger ReferenceKind = iota
	// RefWindowStart is another window's resolved start boundary.
	RefWindowStart
	// RefWindowEnd is another window's resolved end boundary.
	RefWindowEnd
)

// Reference is a tagged variant identifying a boundary-timestamp source:
// the trigger, or another window's start/end (spec §4.2). Modeled as a
// small struct with a kind tag rather than an interface hierarchy, in the
// same style as the teacher's PatternElement/BindingForm tagged unions.
type Reference struct {
	Kind   ReferenceKind
	Window string // empty for RefTrigger
}

// TriggerRef is the singleton reference to the trigger's timestamp.
var TriggerRef = Reference{Kind: RefTrigger}

// WindowStartRef references window name's start boundary.
func WindowStartRef(name string) Reference { return Reference{Kind: RefWindowStart, Window: name} }

// WindowEndRef references window name's end boundary.
func WindowEndRef(name string) Reference { return Reference{Kind: RefWindowEnd, Window: name} }

func (r Reference) String() string {
	switch r.Kind {
	case RefTrigger:
		return "trigger"
	case RefWindowStart:
		return r.Window + ".start"
	case RefWindowEnd:
		return r.Window + ".end"
	default:
		return "<invalid-reference>"
	}
}

// Equal reports structural equality, used by the tree builder to decide
// whether two boundary nodes can be merged (spec §9).
func (r Reference) Equal(o Reference) bool {
	return r.Kind == o.Kind && r.Window == o.Window
}

// EndpointKind tags the shape of an EndpointExpr.
type EndpointKind uint8

const (
	// EndpointNull marks the subject's earliest/latest event, depending
	// on which side (start/end) of the window it appears on.
	EndpointNull EndpointKind = iota
	// EndpointIdentity is the same timestamp as Ref.
	EndpointIdentity
	// EndpointOffset is Ref's timestamp plus a fixed signed Delta.
	EndpointOffset
	// EndpointNext is the next row after Ref satisfying Predicate > 0.
	EndpointNext
	// EndpointPrev is the previous row before Ref satisfying Predicate > 0.
	EndpointPrev
)

// Side identifies which side of a window an EndpointNull sits on, since
// NULL resolves differently for start ("earliest") vs end ("latest").
type Side uint8

const (
	SideStart Side = iota
	SideEnd
)

// EndpointExpr is the tagged variant for a window's start_expr/end_expr
// (spec §4.2): NULL | IDENTITY(ref) | OFFSET(ref, Δ) | NEXT(ref, pred) |
// PREV(ref, pred).
type EndpointExpr struct {
	Kind      EndpointKind
	Side      Side      // meaningful only when Kind == EndpointNull
	Ref       Reference // meaningful for Identity/Offset/Next/Prev
	Delta     Duration  // meaningful only when Kind == EndpointOffset
	Predicate string    // meaningful only when Kind == EndpointNext/EndpointPrev
}

// Null builds a NULL endpoint expression for the given side.
func Null(side Side) EndpointExpr { return EndpointExpr{Kind: EndpointNull, Side: side} }

// Identity builds an IDENTITY(ref) endpoint expression.
func Identity(ref Reference) EndpointExpr { return EndpointExpr{Kind: EndpointIdentity, Ref: ref} }

// Offset builds an OFFSET(ref, delta) endpoint expression.
func Offset(ref Reference, delta Duration) EndpointExpr {
	return EndpointExpr{Kind: EndpointOffset, Ref: ref, Delta: delta}
}

// Next builds a NEXT(ref, predicate) endpoint expression.
func Next(ref Reference, predicate string) EndpointExpr {
	return EndpointExpr{Kind: EndpointNext, Ref: ref, Predicate: predicate}
}

// Prev builds a PREV(ref, predicate) endpoint expression.
func Prev(ref Reference, predicate string) EndpointExpr {
	return EndpointExpr{Kind: EndpointPrev, Ref: ref, Predicate: predicate}
}

// References reports whether this endpoint expression transitively
// depends on a reference at all (false only for EndpointNull).
func (e EndpointExpr) References() bool { return e.Kind != EndpointNull }

// Equal reports structural equality, used by the tree builder to unify
// boundary nodes that resolve to the same endpoint expression.
func (e EndpointExpr) Equal(o EndpointExpr) bool {
	if e.Kind != o.Kind {
		return false
	}
	switch e.Kind {
	case EndpointNull:
		return e.Side == o.Side
	case EndpointIdentity:
		return e.Ref.Equal(o.Ref)
	case EndpointOffset:
		return e.Ref.Equal(o.Ref) && e.Delta == o.Delta
	case EndpointNext, EndpointPrev:
		return e.Ref.Equal(o.Ref) && e.Predicate == o.Predicate
	}
	return false
}

func (e EndpointExpr) String() string {
	switch e.Kind {
	case EndpointNull:
		if e.Side == SideStart {
			return "NULL(earliest)"
		}
		return "NULL(latest)"
	case EndpointIdentity:
		return fmt.Sprintf("IDENTITY(%s)", e.Ref)
	case EndpointOffset:
		return fmt.Sprintf("OFFSET(%s, %s)", e.Ref, e.Delta)
	case EndpointNext:
		return fmt.Sprintf("NEXT(%s, %s)", e.Ref, e.Predicate)
	case EndpointPrev:
		return fmt.Sprintf("PREV(%s, %s)", e.Ref, e.Predicate)
	default:
		return "<invalid-endpoint>"
	}
}
