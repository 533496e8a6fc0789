package config

import (
	"regexp"
	"strings"

	"github.com/wbrown/cohortx/cohorterr"
	"github.com/wbrown/cohortx/predicate"
)

var derivedExprPattern = regexp.MustCompile(`^(and|or)\((.+)\)$`)

// splitDerivedExpr parses "and(p1,p2,...)" / "or(p1,p2,...)" (spec §3
// "Derived predicate"). No nesting, no negation -- operands must be bare
// predicate names.
func splitDerivedExpr(field, expr string) (predicate.DerivedOp, []string, error) {
	s := strings.TrimSpace(expr)
	m := derivedExprPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, nil, cohorterr.NewConfigError(field, "expr must be and(p1,...,pn) or or(p1,...,pn): got %q", expr)
	}
	var op predicate.DerivedOp
	switch m[1] {
	case "and":
		op = predicate.OpAnd
	case "or":
		op = predicate.OpOr
	}

	var operands []string
	for _, tok := range strings.Split(m[2], ",") {
		name := strings.TrimSpace(tok)
		if name == "" {
			return 0, nil, cohorterr.NewConfigError(field, "empty operand in expr %q", expr)
		}
		if strings.ContainsAny(name, "()") {
			return 0, nil, cohorterr.NewConfigError(field, "nested expressions are not allowed: %q", expr)
		}
		operands = append(operands, name)
	}
	if len(operands) == 0 {
		return 0, nil, cohorterr.NewConfigError(field, "expr has no operands: %q", expr)
	}
	return op, operands, nil
}
