// Package predicate holds plain and derived predicate definitions and
// validates that derived expressions reference existing predicates with
// no cycles (spec §3 "Predicate definitions"). Evaluation over raw EHR
// data is an external collaborator's job; the core only needs predicate
// names and the derivation graph.
package predicate

import (
	"fmt"

	"github.com/wbrown/cohortx/cohorterr"
)

// CodeSpec is the literal/any/regex code matcher a plain predicate fires
// on. The core never interprets it -- it is carried through for the
// external EHR-ingestion collaborator.
type CodeSpec struct {
	Literal string
	Any     []string
	Regex   string
}

// Plain is a plain predicate definition (spec §3 "Plain predicate").
type Plain struct {
	Name               string
	Code               CodeSpec
	ValueMin           *float64
	ValueMax           *float64
	ValueMinInclusive  bool
	ValueMaxInclusive  bool
	OtherCols          map[string]interface{}
	// Static marks predicates sourced from patient_demographics (§C.5 of
	// SPEC_FULL.md): evaluated once per subject, never windowed.
	Static bool
}

// DerivedOp is the boolean operator of a derived predicate.
type DerivedOp uint8

const (
	OpAnd DerivedOp = iota
	OpOr
)

// Derived is a derived predicate definition (spec §3 "Derived predicate"):
// and(p1,...,pn) or or(p1,...,pn), no nesting, no negation.
type Derived struct {
	Name     string
	Op       DerivedOp
	Operands []string
}

// AnyEvent is the always-present, always-1 predicate name (spec §3).
const AnyEvent = "_ANY_EVENT"

// RecordStart / RecordEnd are the optional per-subject boundary markers
// (spec §3).
const (
	RecordStart = "_RECORD_START"
	RecordEnd   = "_RECORD_END"
)

// Registry holds every predicate defined in a task configuration (plain,
// derived, and the built-in _ANY_EVENT) and the validated derivation DAG.
type Registry struct {
	plain   map[string]Plain
	derived map[string]Derived
	order   []string // derived predicates in dependency order (leaves first)
}

// NewRegistry builds and validates a Registry from plain and derived
// predicate maps. It rejects duplicate names, derived operands that don't
// resolve to a defined predicate, and cyclic derivations.
func NewRegistry(plain map[string]Plain, derived map[string]Derived) (*Registry, error) {
	if len(plain) == 0 && len(derived) == 0 {
		return nil, cohorterr.NewConfigError("predicates", "predicates must be non-empty")
	}
	for name := range plain {
		if _, ok := derived[name]; ok {
			return nil, cohorterr.NewConfigError("predicates."+name, "defined as both plain and derived")
		}
	}

	r := &Registry{plain: plain, derived: derived}

	exists := func(name string) bool {
		if name == AnyEvent || name == RecordStart || name == RecordEnd {
			return true
		}
		_, p := plain[name]
		_, d := derived[name]
		return p || d
	}

	for name, d := range derived {
		if len(d.Operands) == 0 {
			return nil, cohorterr.NewConfigError("predicates."+name, "derived predicate has no operands")
		}
		for _, op := range d.Operands {
			if !exists(op) {
				return nil, cohorterr.NewConfigError("predicates."+name, "operand %q is not a defined predicate", op)
			}
		}
	}

	order, err := topoSort(derived)
	if err != nil {
		return nil, err
	}
	r.order = order
	return r, nil
}

// topoSort orders derived predicates leaves-first via DFS with a
// recursion-stack coloring, rejecting any cycle.
func topoSort(derived map[string]Derived) ([]string, error) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(derived))
	var order []string
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return cohorterr.NewConfigError("predicates."+name, "cyclic derived-predicate dependency: %s -> %s", joinPath(path), name)
		}
		d, ok := derived[name]
		if !ok {
			return nil // plain predicate or built-in, nothing to recurse into
		}
		color[name] = gray
		path = append(path, name)
		for _, op := range d.Operands {
			if err := visit(op); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		order = append(order, name)
		return nil
	}

	// Deterministic order: iterate sorted names so errors are reproducible.
	names := sortedKeys(derived)
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}

func sortedKeys(m map[string]Derived) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort is fine; predicate counts are small (tens, not millions)
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// Exists reports whether name is a defined predicate (plain, derived, or
// built-in).
func (r *Registry) Exists(name string) bool {
	if name == AnyEvent || name == RecordStart || name == RecordEnd {
		return true
	}
	if _, ok := r.plain[name]; ok {
		return true
	}
	_, ok := r.derived[name]
	return ok
}

// Names returns every predicate name the configuration defines, in a
// stable order: plain predicates (sorted), then derived predicates in
// dependency order.
func (r *Registry) Names() []string {
	plainNames := make([]string, 0, len(r.plain))
	for n := range r.plain {
		plainNames = append(plainNames, n)
	}
	for i := 1; i < len(plainNames); i++ {
		for j := i; j > 0 && plainNames[j] < plainNames[j-1]; j-- {
			plainNames[j], plainNames[j-1] = plainNames[j-1], plainNames[j]
		}
	}
	out := make([]string, 0, len(plainNames)+len(r.order))
	out = append(out, plainNames...)
	out = append(out, r.order...)
	return out
}

// Plain looks up a plain predicate definition.
func (r *Registry) Plain(name string) (Plain, bool) {
	p, ok := r.plain[name]
	return p, ok
}

// Derived looks up a derived predicate definition.
func (r *Registry) Derived(name string) (Derived, bool) {
	d, ok := r.derived[name]
	return d, ok
}

// DerivationOrder returns derived predicate names leaves-first, suitable
// for an external evaluator that folds and/or over already-computed
// columns.
func (r *Registry) DerivationOrder() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (op DerivedOp) String() string {
	switch op {
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	default:
		return fmt.Sprintf("DerivedOp(%d)", op)
	}
}
