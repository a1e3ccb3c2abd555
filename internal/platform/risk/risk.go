// Package risk classifies a list of medicines for drug-interaction risk.
package risk

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Level is the overall risk of a medicine list.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelModerate Level = "MODERATE"
	LevelHigh     Level = "HIGH"
)

var levelRank = map[Level]int{LevelLow: 0, LevelModerate: 1, LevelHigh: 2}

// Drug is the part of a medicine the classifier looks at.
type Drug struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage,omitempty"`
}

// Assessment is a classifier verdict.
type Assessment struct {
	Level    Level    `json:"riskLevel"`
	Warnings []string `json:"warnings"`
}

// Flagged reports whether the assessment should mark the record as risky.
func (a *Assessment) Flagged() bool {
	return a != nil && levelRank[a.Level] > levelRank[LevelLow]
}

// Alerts renders warnings as a single free-text field.
func (a *Assessment) Alerts() string {
	if a == nil {
		return ""
	}
	return strings.Join(a.Warnings, "; ")
}

// Classifier is the drug-interaction knowledge base.
type Classifier interface {
	Classify(ctx context.Context, drugs []Drug) (*Assessment, error)
}

// ---------------------------------------------------------------------------
// Noop
// ---------------------------------------------------------------------------

// Noop rates everything LOW.
type Noop struct{}

func (Noop) Classify(context.Context, []Drug) (*Assessment, error) {
	return &Assessment{Level: LevelLow}, nil
}

// ---------------------------------------------------------------------------
// Interaction table
// ---------------------------------------------------------------------------

// Interaction is one known pairwise interaction.
type Interaction struct {
	A, B    string
	Level   Level
	Warning string
}

// Table is an in-process Classifier backed by pairwise interactions. Names
// match case-insensitively. Listing the same drug twice is reported as
// duplicate therapy.
type Table struct {
	pairs map[[2]string]Interaction
}

// DefaultInteractions covers the drugs the parser recognizes plus common
// co-medications.
var DefaultInteractions = []Interaction{
	{A: "ibuprofen", B: "aspirin", Level: LevelHigh, Warning: "Ibuprofen reduces the cardioprotective effect of aspirin"},
	{A: "ibuprofen", B: "warfarin", Level: LevelHigh, Warning: "Ibuprofen with warfarin increases bleeding risk"},
	{A: "paracetamol", B: "warfarin", Level: LevelModerate, Warning: "Regular paracetamol may raise INR with warfarin"},
	{A: "amoxicillin", B: "methotrexate", Level: LevelHigh, Warning: "Amoxicillin reduces methotrexate clearance"},
	{A: "paracetamol", B: "ibuprofen", Level: LevelLow, Warning: ""},
}

func pairKey(a, b string) [2]string {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// NewTable builds a Table from interactions.
func NewTable(interactions []Interaction) *Table {
	t := &Table{pairs: make(map[[2]string]Interaction, len(interactions))}
	for _, in := range interactions {
		t.pairs[pairKey(in.A, in.B)] = in
	}
	return t
}

func (t *Table) Classify(ctx context.Context, drugs []Drug) (*Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Assessment{Level: LevelLow}
	raise := func(l Level, warning string) {
		if levelRank[l] > levelRank[out.Level] {
			out.Level = l
		}
		if warning != "" {
			out.Warnings = append(out.Warnings, warning)
		}
	}

	seen := make(map[string]int)
	for _, d := range drugs {
		seen[strings.ToLower(strings.TrimSpace(d.Name))]++
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if seen[n] > 1 {
			raise(LevelModerate, fmt.Sprintf("Duplicate therapy: %s listed %d times", n, seen[n]))
		}
	}

	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if in, ok := t.pairs[pairKey(names[i], names[j])]; ok {
				raise(in.Level, in.Warning)
			}
		}
	}
	return out, nil
}
