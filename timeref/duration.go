// Package timeref implements the duration grammar and window-boundary
// reference model (spec §4.2): signed durations like "+12h" or "-365 days",
// and the tagged Reference/EndpointExpr variants that anchor a window's
// start and end to the trigger or to another window's boundary.
package timeref

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wbrown/cohortx/cohorterr"
)

// Duration is a signed offset at microsecond resolution, matching the
// predicates table's timestamp resolution (spec §3).
type Duration time.Duration

// IsZero reports whether the duration is exactly zero.
func (d Duration) IsZero() bool { return d == 0 }

// Add returns t shifted by d.
func (d Duration) Add(t time.Time) time.Time { return t.Add(time.Duration(d)) }

func (d Duration) String() string {
	return time.Duration(d).String()
}

var durationToken = regexp.MustCompile(`(?i)^([+-]?\d+)\s*(d|days?|h|hours?|m|min|minutes?|s|seconds?)$`)

// ParseDuration parses one signed duration token of the form
// "[+|-]<integer>(d|days|h|hours|m|min|minutes|s|seconds)". Combinations
// of multiple tokens are not part of the boundary-expr grammar (spec §6);
// ParseDuration handles exactly one token, as produced by the boundary-expr
// parser in the config package.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	m := durationToken.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("not a valid duration: %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("duration magnitude %q: %w", m[1], err)
	}
	unit := strings.ToLower(m[2])
	var scale time.Duration
	switch {
	case strings.HasPrefix(unit, "d"):
		scale = 24 * time.Hour
	case strings.HasPrefix(unit, "h"):
		scale = time.Hour
	case strings.HasPrefix(unit, "m"):
		scale = time.Minute
	case strings.HasPrefix(unit, "s"):
		scale = time.Second
	default:
		return 0, fmt.Errorf("unknown duration unit: %q", unit)
	}
	return Duration(time.Duration(n) * scale), nil
}

// ParseFiniteNonzeroDuration parses s and rejects a zero result, as
// required for OFFSET deltas (spec §4.1: "the configurable duration must
// be finite and nonzero for OFFSET").
func ParseFiniteNonzeroDuration(field, s string) (Duration, error) {
	d, err := ParseDuration(s)
	if err != nil {
		return 0, cohorterr.NewConfigError(field, "%w", err)
	}
	if d.IsZero() {
		return 0, cohorterr.NewConfigError(field, "offset duration must be nonzero")
	}
	return d, nil
}
