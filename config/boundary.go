package config

import (
	"strconv"
	"strings"

	"github.com/wbrown/cohortx/cohorterr"
	"github.com/wbrown/cohortx/timeref"
	"github.com/wbrown/cohortx/tree"
)

// parseRef parses the `ref` production of the boundary-expr grammar
// (spec §6): "trigger" | windowName".start" | windowName".end".
func parseRef(field, s string) (timeref.Reference, error) {
	switch {
	case s == "trigger":
		return timeref.TriggerRef, nil
	case strings.HasSuffix(s, ".start"):
		name := strings.TrimSuffix(s, ".start")
		if name == "" {
			return timeref.Reference{}, cohorterr.NewConfigError(field, "empty window name in reference %q", s)
		}
		return timeref.WindowStartRef(name), nil
	case strings.HasSuffix(s, ".end"):
		name := strings.TrimSuffix(s, ".end")
		if name == "" {
			return timeref.Reference{}, cohorterr.NewConfigError(field, "empty window name in reference %q", s)
		}
		return timeref.WindowEndRef(name), nil
	default:
		return timeref.Reference{}, cohorterr.NewConfigError(field, "not a valid reference: %q (want \"trigger\", \"<window>.start\", or \"<window>.end\")", s)
	}
}

// boundaryOperators lists the grammar's infix operators, checked in this
// order since none is a substring of another once surrounded by spaces.
var boundaryOperators = []string{" -> ", " <- ", " + ", " - "}

// parseBoundaryExpr parses one side of a window (spec §6 boundary-expr
// grammar). side tells Null which endpoint it marks.
func parseBoundaryExpr(field, raw string, side timeref.Side) (timeref.EndpointExpr, error) {
	s := strings.TrimSpace(raw)
	if s == "NULL" || s == "" {
		return timeref.Null(side), nil
	}

	for _, op := range boundaryOperators {
		idx := strings.Index(s, op)
		if idx < 0 {
			continue
		}
		refPart := strings.TrimSpace(s[:idx])
		rest := strings.TrimSpace(s[idx+len(op):])
		ref, err := parseRef(field, refPart)
		if err != nil {
			return timeref.EndpointExpr{}, err
		}
		switch op {
		case " -> ":
			if rest == "" {
				return timeref.EndpointExpr{}, cohorterr.NewConfigError(field, "NEXT requires a predicate name")
			}
			return timeref.Next(ref, rest), nil
		case " <- ":
			if rest == "" {
				return timeref.EndpointExpr{}, cohorterr.NewConfigError(field, "PREV requires a predicate name")
			}
			return timeref.Prev(ref, rest), nil
		case " + ":
			d, err := timeref.ParseFiniteNonzeroDuration(field, rest)
			if err != nil {
				return timeref.EndpointExpr{}, err
			}
			return timeref.Offset(ref, d), nil
		case " - ":
			d, err := timeref.ParseFiniteNonzeroDuration(field, rest)
			if err != nil {
				return timeref.EndpointExpr{}, err
			}
			return timeref.Offset(ref, -d), nil
		}
	}

	ref, err := parseRef(field, s)
	if err != nil {
		return timeref.EndpointExpr{}, err
	}
	return timeref.Identity(ref), nil
}

// parseHas parses the `(min?, max?)` has-constraint syntax (spec §6).
func parseHas(field, raw string) (tree.HasConstraint, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return tree.HasConstraint{}, cohorterr.NewConfigError(field, "has constraint must be of the form (min?, max?): got %q", raw)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return tree.HasConstraint{}, nil
	}
	parts := strings.SplitN(inner, ",", 2)
	if len(parts) != 2 {
		return tree.HasConstraint{}, cohorterr.NewConfigError(field, "has constraint must have exactly one comma: got %q", raw)
	}
	parseBound := func(tok string) (*int64, error) {
		tok = strings.TrimSpace(tok)
		if tok == "" || tok == "None" {
			return nil, nil
		}
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, cohorterr.NewConfigError(field, "has bound %q is not an integer", tok)
		}
		if n < 0 {
			return nil, cohorterr.NewConfigError(field, "has bound %q must be non-negative", tok)
		}
		return &n, nil
	}
	min, err := parseBound(parts[0])
	if err != nil {
		return tree.HasConstraint{}, err
	}
	max, err := parseBound(parts[1])
	if err != nil {
		return tree.HasConstraint{}, err
	}
	if min != nil && max != nil && *min > *max {
		return tree.HasConstraint{}, cohorterr.NewConfigError(field, "has min (%d) exceeds max (%d)", *min, *max)
	}
	return tree.HasConstraint{Min: min, Max: max}, nil
}
