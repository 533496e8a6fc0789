// Package config compiles a task configuration document (spec §6) into an
// immutable TaskConfig: a validated predicate.Registry, trigger predicate
// name, and tree.Tree. Parsing uses gopkg.in/yaml.v3 with yaml.Node for the
// polymorphic `code` field and KnownFields(true) so unknown keys are
// rejected at the field they appear on, in the same style the pack's
// config-driven repos use for field-level error reporting.
package config

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/wbrown/cohortx/cohorterr"
)

type rawDocument struct {
	Predicates          map[string]rawPredicate   `yaml:"predicates"`
	PatientDemographics map[string]rawPredicate   `yaml:"patient_demographics"`
	Trigger             string                    `yaml:"trigger"`
	Windows             map[string]rawWindowEntry `yaml:"windows"`
}

type rawPredicate struct {
	Code              yaml.Node              `yaml:"code"`
	Expr              string                 `yaml:"expr"`
	ValueMin          *float64               `yaml:"value_min"`
	ValueMax          *float64               `yaml:"value_max"`
	ValueMinInclusive *bool                  `yaml:"value_min_inclusive"`
	ValueMaxInclusive *bool                  `yaml:"value_max_inclusive"`
	OtherCols         map[string]interface{} `yaml:"other_cols"`
}

type rawCode struct {
	Any   []string `yaml:"any"`
	Regex string   `yaml:"regex"`
}

type rawWindowEntry struct {
	Start           string            `yaml:"start"`
	End             string            `yaml:"end"`
	StartInclusive  *bool             `yaml:"start_inclusive"`
	EndInclusive    *bool             `yaml:"end_inclusive"`
	Has             map[string]string `yaml:"has"`
	Label           string            `yaml:"label"`
	IndexTimestamp  string            `yaml:"index_timestamp"`
}

// decode parses raw YAML bytes into a rawDocument, rejecting unknown
// fields anywhere in the document (spec §4.1 "Reject: unknown fields").
func decode(data []byte) (*rawDocument, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc rawDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, cohorterr.NewConfigError("", "invalid YAML document: %w", err)
	}
	return &doc, nil
}

func (c rawPredicate) isDerived() bool {
	return c.Expr != "" && c.Code.Kind == 0
}

func (c rawPredicate) isPlain() bool {
	return c.Code.Kind != 0
}

// codeSpecFrom decodes the polymorphic `code` field: a bare scalar is a
// literal match, a mapping is {any: [...]} or {regex: "..."}.
func codeSpecFrom(field string, node yaml.Node) (codeSpec, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return codeSpec{Literal: node.Value}, nil
	case yaml.MappingNode:
		var rc rawCode
		if err := node.Decode(&rc); err != nil {
			return codeSpec{}, cohorterr.NewConfigError(field, "invalid code mapping: %w", err)
		}
		switch {
		case len(rc.Any) > 0 && rc.Regex != "":
			return codeSpec{}, cohorterr.NewConfigError(field, "code cannot set both 'any' and 'regex'")
		case len(rc.Any) > 0:
			return codeSpec{Any: rc.Any}, nil
		case rc.Regex != "":
			return codeSpec{Regex: rc.Regex}, nil
		default:
			return codeSpec{}, cohorterr.NewConfigError(field, "code mapping must set 'any' or 'regex'")
		}
	default:
		return codeSpec{}, cohorterr.NewConfigError(field, "code must be a string or {any:[...]}/{regex:...} mapping")
	}
}

// codeSpec mirrors predicate.CodeSpec; kept local so this file doesn't
// need to import predicate just to build one during YAML decode
// (compile.go converts it after full parsing).
type codeSpec struct {
	Literal string
	Any     []string
	Regex   string
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

