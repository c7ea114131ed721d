package goal

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/zjy-dev/covfit/internal/branch"
	"github.com/zjy-dev/covfit/internal/distance"
)

// Record is the persisted form of a goal. The branch is stored by registry id,
// NoBranch for a root goal, and Session names the registry that issued the id.
type Record struct {
	BranchID int    `yaml:"branch_id" json:"branch_id"`
	Value    bool   `yaml:"value" json:"value"`
	Class    string `yaml:"class" json:"class"`
	Method   string `yaml:"method" json:"method"`
	Line     int    `yaml:"line" json:"line"`
	Session  string `yaml:"session" json:"session"`
}

// Encode returns the persisted form of g.
func (g *BranchGoal) Encode() Record {
	rec := Record{
		BranchID: branch.NoBranch,
		Value:    g.value,
		Class:    g.className,
		Method:   g.methodName,
		Line:     g.lineNumber,
		Session:  g.calc.Analysis().Registry().Session().String(),
	}
	if g.branch != nil {
		rec.BranchID = g.branch.ID()
	}
	return rec
}

// Decode resolves rec against the registry of calc's model. A record from another
// session, an unknown branch id, or a line that no longer matches is an error.
func Decode(calc *distance.Calculator, rec Record) (*BranchGoal, error) {
	if calc == nil {
		return nil, invalid("nil distance calculator")
	}
	reg := calc.Analysis().Registry()
	session, err := uuid.Parse(rec.Session)
	if err != nil {
		return nil, fmt.Errorf("goal %s.%s has malformed session %q: %w", rec.Class, rec.Method, rec.Session, err)
	}
	if session != reg.Session() {
		return nil, fmt.Errorf("goal %s.%s was recorded against session %s, registry is %s",
			rec.Class, rec.Method, session, reg.Session())
	}

	var b *branch.Branch
	if rec.BranchID != branch.NoBranch {
		b, err = reg.Lookup(rec.BranchID)
		if err != nil {
			return nil, fmt.Errorf("failed to decode goal %s.%s: %w", rec.Class, rec.Method, err)
		}
	}

	g, err := New(calc, b, rec.Value, rec.Class, rec.Method)
	if err != nil {
		return nil, err
	}
	if g.lineNumber != rec.Line {
		return nil, fmt.Errorf("goal %s resolved to line %d, record says %d", g, g.lineNumber, rec.Line)
	}
	return g, nil
}

// goalFile is the YAML document written by WriteYAML.
type goalFile struct {
	Goals []Record `yaml:"goals"`
}

// WriteYAML writes goals as a YAML goal set.
func WriteYAML(w io.Writer, goals []*BranchGoal) error {
	f := goalFile{Goals: make([]Record, 0, len(goals))}
	for _, g := range goals {
		f.Goals = append(f.Goals, g.Encode())
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("failed to encode goals: %w", err)
	}
	return enc.Close()
}

// ReadYAML decodes a goal set written by WriteYAML.
func ReadYAML(r io.Reader, calc *distance.Calculator) ([]*BranchGoal, error) {
	var f goalFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode goals: %w", err)
	}
	goals := make([]*BranchGoal, 0, len(f.Goals))
	for i, rec := range f.Goals {
		g, err := Decode(calc, rec)
		if err != nil {
			return nil, fmt.Errorf("goal #%d: %w", i, err)
		}
		goals = append(goals, g)
	}
	return goals, nil
}
