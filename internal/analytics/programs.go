package analytics

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultProgram is assigned when no keyword matches.
const DefaultProgram = "General Counseling"

// ProgramRule maps any of its keywords to a program label.
type ProgramRule struct {
	Keywords []string `yaml:"keywords" json:"keywords"`
	Label    string   `yaml:"label" json:"label"`
}

// ProgramTable is an ordered keyword table. Rules are scanned
// in order and the first keyword hit wins, so broader keywords
// ("science") must come after narrower ones ("computer
// science").
type ProgramTable struct {
	Rules   []ProgramRule `yaml:"programs" json:"programs"`
	Default string        `yaml:"default" json:"default"`
}

// DefaultPrograms is the built-in table.
var DefaultPrograms = ProgramTable{
	Rules: []ProgramRule{
		{Keywords: []string{"engineering"}, Label: "Engineering"},
		{Keywords: []string{"business"}, Label: "Business"},
		{Keywords: []string{"medicine"}, Label: "Medicine"},
		{
			Keywords: []string{"computer science", "computing"},
			Label:    "Computer Science",
		},
		{Keywords: []string{"arts"}, Label: "Arts"},
		{Keywords: []string{"law"}, Label: "Law"},
		{Keywords: []string{"science"}, Label: "Science"},
	},
	Default: DefaultProgram,
}

// Classify returns the label of the first rule with a keyword
// contained in text, compared case-insensitively.
func (t ProgramTable) Classify(text string) string {
	if text != "" {
		lower := strings.ToLower(text)
		for _, rule := range t.Rules {
			for _, kw := range rule.Keywords {
				if kw != "" &&
					strings.Contains(lower, strings.ToLower(kw)) {
					return rule.Label
				}
			}
		}
	}
	if t.Default == "" {
		return DefaultProgram
	}
	return t.Default
}

// LoadPrograms reads a YAML keyword table:
//
//	default: General Counseling
//	programs:
//	  - label: Nursing
//	    keywords: [nursing, nurse]
func LoadPrograms(path string) (ProgramTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProgramTable{}, fmt.Errorf(
			"reading program table: %w", err,
		)
	}
	var t ProgramTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return ProgramTable{}, fmt.Errorf(
			"parsing program table %s: %w", path, err,
		)
	}
	for i, r := range t.Rules {
		if r.Label == "" {
			return ProgramTable{}, fmt.Errorf(
				"program table %s: rule %d has no label",
				path, i,
			)
		}
		if len(r.Keywords) == 0 {
			return ProgramTable{}, fmt.Errorf(
				"program table %s: rule %q has no keywords",
				path, r.Label,
			)
		}
	}
	if t.Default == "" {
		t.Default = DefaultProgram
	}
	return t, nil
}
