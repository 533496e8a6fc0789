// Package cohorterr defines the error taxonomy used across the cohort
// extractor: configuration, predicate-table schema, empty-input, and
// unexpected runtime failures.
package cohorterr

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid task configuration: unknown fields,
// duplicate names, cyclic derived predicates, illegal window references,
// and the like. It is fatal at first occurrence.
type ConfigError struct {
	Field string // dotted path to the offending field, e.g. "windows.gap.end"
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %v", e.Err)
	}
	return fmt.Sprintf("config error at %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError pointing at field.
func NewConfigError(field string, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// SchemaError reports a predicates-table that does not satisfy the data
// contract: missing columns, duplicate (subject_id, timestamp) pairs,
// non-integer counts, or timestamps not monotone after sort.
type SchemaError struct {
	Column string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema error: %v", e.Err)
	}
	return fmt.Sprintf("schema error on column %q: %v", e.Column, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// NewSchemaError builds a SchemaError pointing at column.
func NewSchemaError(column string, format string, args ...interface{}) error {
	return &SchemaError{Column: column, Err: fmt.Errorf(format, args...)}
}

// EmptyInputWarning is not a failure: it signals that the predicates table
// was empty, or the trigger predicate matched no rows. Callers should
// treat it as "zero rows, no error" rather than abort. It is returned
// alongside a valid (empty) result so callers that ignore it still get
// the correct, empty table.
type EmptyInputWarning struct {
	Reason string
}

func (w *EmptyInputWarning) Error() string {
	return fmt.Sprintf("empty input: %s", w.Reason)
}

// NewEmptyInputWarning builds an EmptyInputWarning.
func NewEmptyInputWarning(reason string) error {
	return &EmptyInputWarning{Reason: reason}
}

// RuntimeError wraps an unexpected failure with the recursion context that
// was active when it surfaced, so a caller can report which subtree and
// how many subjects were in flight.
type RuntimeError struct {
	Node    string // window-tree node name active at the time of failure
	Subject int    // number of subjects carried into that node, -1 if unknown
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("runtime error: %v", e.Err)
	}
	return fmt.Sprintf("runtime error at node %q (%d subjects in flight): %v", e.Node, e.Subject, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// NewRuntimeError builds a RuntimeError with recursion context.
func NewRuntimeError(node string, subjectCount int, err error) error {
	return &RuntimeError{Node: node, Subject: subjectCount, Err: err}
}

// IsEmptyInput reports whether err (or any error it wraps) is an
// EmptyInputWarning.
func IsEmptyInput(err error) bool {
	var w *EmptyInputWarning
	return errors.As(err, &w)
}

// IsConfigError reports whether err (or any error it wraps) is a ConfigError.
func IsConfigError(err error) bool {
	var c *ConfigError
	return errors.As(err, &c)
}

// IsSchemaError reports whether err (or any error it wraps) is a SchemaError.
func IsSchemaError(err error) bool {
	var s *SchemaError
	return errors.As(err, &s)
}
