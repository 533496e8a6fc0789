package config

import (
	"github.com/wbrown/cohortx/cohorterr"
	"github.com/wbrown/cohortx/predicate"
	"github.com/wbrown/cohortx/timeref"
	"github.com/wbrown/cohortx/tree"
)

// TaskConfig is the immutable, compiled task configuration (spec §4.1
// output): predicates, trigger, window tree, and the resolved label/index
// windows. Once returned by Compile, nothing mutates it.
type TaskConfig struct {
	Predicates *predicate.Registry
	Trigger    string
	Tree       *tree.Tree

	LabelWindow    string // "" if no window carries `label`
	LabelPredicate string

	IndexWindow string // "" if no window carries `index_timestamp`
	IndexSide   string // "start" or "end"
}

// Compile parses and validates a task configuration document (spec §6),
// returning the compiled TaskConfig, any non-fatal lint Warnings
// (SPEC_FULL.md §C.1), or the first ConfigError encountered.
func Compile(data []byte) (*TaskConfig, []Warning, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, nil, err
	}

	plainMap, derivedMap, err := buildPredicateMaps(doc)
	if err != nil {
		return nil, nil, err
	}

	reg, err := predicate.NewRegistry(plainMap, derivedMap)
	if err != nil {
		return nil, nil, err
	}

	if doc.Trigger == "" {
		return nil, nil, cohorterr.NewConfigError("trigger", "trigger predicate is required")
	}
	if !reg.Exists(doc.Trigger) {
		return nil, nil, cohorterr.NewConfigError("trigger", "references undefined predicate %q", doc.Trigger)
	}

	if len(doc.Windows) == 0 {
		return nil, nil, cohorterr.NewConfigError("windows", "at least one window is required")
	}

	raw := make(map[string]tree.RawWindow, len(doc.Windows))
	var labelWindow, indexWindow string
	var labelPredicate, indexSide string

	for name, w := range doc.Windows {
		rw, err := compileWindow(reg, name, w)
		if err != nil {
			return nil, nil, err
		}
		raw[name] = rw

		if w.Label != "" {
			if labelWindow != "" {
				return nil, nil, cohorterr.NewConfigError("windows."+name+".label", "only one window may carry label (already set on %q)", labelWindow)
			}
			labelWindow = name
			labelPredicate = w.Label
		}
		if w.IndexTimestamp != "" {
			if indexWindow != "" {
				return nil, nil, cohorterr.NewConfigError("windows."+name+".index_timestamp", "only one window may carry index_timestamp (already set on %q)", indexWindow)
			}
			indexWindow = name
			indexSide = w.IndexTimestamp
		}
	}

	t, err := tree.Build(raw)
	if err != nil {
		return nil, nil, err
	}

	cfg := &TaskConfig{
		Predicates:     reg,
		Trigger:        doc.Trigger,
		Tree:           t,
		LabelWindow:    labelWindow,
		LabelPredicate: labelPredicate,
		IndexWindow:    indexWindow,
		IndexSide:      indexSide,
	}

	return cfg, lint(doc, reg, t), nil
}

func buildPredicateMaps(doc *rawDocument) (map[string]predicate.Plain, map[string]predicate.Derived, error) {
	plainMap := make(map[string]predicate.Plain)
	derivedMap := make(map[string]predicate.Derived)

	addOne := func(name string, rp rawPredicate, static bool) error {
		field := "predicates." + name
		switch {
		case rp.isPlain() && rp.isDerived():
			return cohorterr.NewConfigError(field, "predicate cannot define both code and expr")
		case rp.isDerived():
			d, err := parseDerivedExpr(field, name, rp.Expr)
			if err != nil {
				return err
			}
			derivedMap[name] = d
		case rp.isPlain():
			code, err := codeSpecFrom(field+".code", rp.Code)
			if err != nil {
				return err
			}
			plainMap[name] = predicate.Plain{
				Name:              name,
				Code:              predicate.CodeSpec{Literal: code.Literal, Any: code.Any, Regex: code.Regex},
				ValueMin:          rp.ValueMin,
				ValueMax:          rp.ValueMax,
				ValueMinInclusive: boolOr(rp.ValueMinInclusive, true),
				ValueMaxInclusive: boolOr(rp.ValueMaxInclusive, true),
				OtherCols:         rp.OtherCols,
				Static:            static,
			}
		default:
			return cohorterr.NewConfigError(field, "predicate must define either code or expr")
		}
		return nil
	}

	for name, rp := range doc.Predicates {
		if err := addOne(name, rp, false); err != nil {
			return nil, nil, err
		}
	}
	for name, rp := range doc.PatientDemographics {
		if _, dup := plainMap[name]; dup {
			return nil, nil, cohorterr.NewConfigError("patient_demographics."+name, "duplicates a name already defined under predicates")
		}
		if _, dup := derivedMap[name]; dup {
			return nil, nil, cohorterr.NewConfigError("patient_demographics."+name, "duplicates a name already defined under predicates")
		}
		if err := addOne(name, rp, true); err != nil {
			return nil, nil, err
		}
	}

	return plainMap, derivedMap, nil
}

func parseDerivedExpr(field, name, expr string) (predicate.Derived, error) {
	op, operands, err := splitDerivedExpr(field, expr)
	if err != nil {
		return predicate.Derived{}, err
	}
	return predicate.Derived{Name: name, Op: op, Operands: operands}, nil
}

func compileWindow(reg *predicate.Registry, name string, w rawWindowEntry) (tree.RawWindow, error) {
	field := "windows." + name

	startInclusive := boolOr(w.StartInclusive, true)
	endInclusive := boolOr(w.EndInclusive, true)

	start, err := parseBoundaryExpr(field+".start", w.Start, timeref.SideStart)
	if err != nil {
		return tree.RawWindow{}, err
	}
	end, err := parseBoundaryExpr(field+".end", w.End, timeref.SideEnd)
	if err != nil {
		return tree.RawWindow{}, err
	}

	has := make(map[string]tree.HasConstraint, len(w.Has))
	for pred, spec := range w.Has {
		if !reg.Exists(pred) {
			return tree.RawWindow{}, cohorterr.NewConfigError(field+".has."+pred, "references undefined predicate %q", pred)
		}
		hc, err := parseHas(field+".has."+pred, spec)
		if err != nil {
			return tree.RawWindow{}, err
		}
		has[pred] = hc
	}

	if w.Label != "" && !reg.Exists(w.Label) {
		return tree.RawWindow{}, cohorterr.NewConfigError(field+".label", "references undefined predicate %q", w.Label)
	}

	switch w.IndexTimestamp {
	case "", "start", "end":
	default:
		return tree.RawWindow{}, cohorterr.NewConfigError(field+".index_timestamp", "must be \"start\" or \"end\", got %q", w.IndexTimestamp)
	}

	return tree.RawWindow{
		Name:           name,
		Start:          start,
		End:            end,
		StartInclusive: startInclusive,
		EndInclusive:   endInclusive,
		Has:            has,
		Label:          w.Label,
		IndexTimestamp: w.IndexTimestamp,
	}, nil
}
