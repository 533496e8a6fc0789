package config

import (
	"fmt"
	"sort"

	"github.com/wbrown/cohortx/predicate"
	"github.com/wbrown/cohortx/tree"
)

// Warning is a non-fatal configuration lint finding (SPEC_FULL.md §C.1):
// unlike ConfigError, Compile still returns a usable TaskConfig alongside
// these -- they flag configurations that parse and validate but are
// likely author mistakes.
type Warning struct {
	Field   string
	Message string
}

func (w Warning) String() string {
	if w.Field == "" {
		return w.Message
	}
	return fmt.Sprintf("%s: %s", w.Field, w.Message)
}

// lint runs best-effort, non-fatal checks over an already-validated
// configuration.
func lint(doc *rawDocument, reg *predicate.Registry, t *tree.Tree) []Warning {
	var warnings []Warning

	referenced := make(map[string]bool)
	referenced[doc.Trigger] = true
	for _, w := range t.Windows {
		for pred := range w.Has {
			referenced[pred] = true
		}
		if w.Label != "" {
			referenced[w.Label] = true
		}
	}

	names := reg.Names()
	sort.Strings(names)
	for _, name := range names {
		if !referenced[name] {
			warnings = append(warnings, Warning{
				Field:   "predicates." + name,
				Message: "predicate is defined but never referenced by trigger, has, or label",
			})
		}
	}

	for name, w := range t.Windows {
		if len(w.Has) == 0 {
			warnings = append(warnings, Warning{
				Field:   "windows." + name + ".has",
				Message: "window has no has constraints; every realization of its anchor survives unfiltered",
			})
		}
	}

	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Field < warnings[j].Field })
	return warnings
}
