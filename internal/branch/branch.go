// Package branch describes the predicate instructions of an analyzed program and the
// session registry that assigns them stable integer ids.
package branch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NoBranch is the id used in persisted goals for "no branch" (a method-entry goal).
const NoBranch = -1

// Comparison is the kind of predicate a branch instruction evaluates.
type Comparison string

const (
	CompareEq      Comparison = "eq"
	CompareNe      Comparison = "ne"
	CompareLt      Comparison = "lt"
	CompareLe      Comparison = "le"
	CompareGt      Comparison = "gt"
	CompareGe      Comparison = "ge"
	CompareNull    Comparison = "null"
	CompareNonNull Comparison = "nonnull"
	CompareBool    Comparison = "bool"
	CompareSwitch  Comparison = "switch"
)

// ParseComparison converts a textual comparison kind (case-insensitive).
func ParseComparison(s string) (Comparison, error) {
	c := Comparison(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CompareEq, CompareNe, CompareLt, CompareLe, CompareGt, CompareGe,
		CompareNull, CompareNonNull, CompareBool, CompareSwitch:
		return c, nil
	case "":
		return CompareBool, nil
	}
	return "", fmt.Errorf("unknown comparison kind %q", s)
}

// Kind distinguishes ordinary predicates from branches instrumented around exception handlers.
type Kind string

const (
	KindPredicate Kind = "predicate"
	KindTryCatch  Kind = "trycatch"
)

// MethodRef identifies a method by its owning class.
type MethodRef struct {
	ClassName  string `yaml:"class" json:"class"`
	MethodName string `yaml:"method" json:"method"`
}

// String returns the "class.method" form used in entered-method sets.
func (m MethodRef) String() string {
	return m.ClassName + "." + m.MethodName
}

// Instruction is the location of a branch's predicate instruction.
type Instruction struct {
	ID         int    // Instruction id within its method
	ClassName  string // Enclosing class
	MethodName string // Enclosing method
	LineNumber int    // Source line
}

// Method returns the method owning the instruction.
func (i Instruction) Method() MethodRef {
	return MethodRef{ClassName: i.ClassName, MethodName: i.MethodName}
}

// Branch is a predicate instruction that can evaluate to true or false.
// Its id is assigned once by a Registry; the struct is read-only afterwards.
type Branch struct {
	instruction Instruction
	comparison  Comparison
	kind        Kind

	id      int
	session uuid.UUID
}

// New creates an unregistered branch.
func New(instr Instruction, cmp Comparison, kind Kind) *Branch {
	if kind == "" {
		kind = KindPredicate
	}
	return &Branch{
		instruction: instr,
		comparison:  cmp,
		kind:        kind,
		id:          NoBranch,
	}
}

// ID returns the registry id, or NoBranch if the branch was never registered.
func (b *Branch) ID() int { return b.id }

// Session returns the id of the registry session that owns the branch.
func (b *Branch) Session() uuid.UUID { return b.session }

// Instruction returns the branch's predicate instruction.
func (b *Branch) Instruction() Instruction { return b.instruction }

// ClassName returns the enclosing class.
func (b *Branch) ClassName() string { return b.instruction.ClassName }

// MethodName returns the enclosing method.
func (b *Branch) MethodName() string { return b.instruction.MethodName }

// Method returns the enclosing method reference.
func (b *Branch) Method() MethodRef { return b.instruction.Method() }

// Comparison returns the predicate kind.
func (b *Branch) Comparison() Comparison { return b.comparison }

// Kind returns whether the branch is a plain predicate or a try/catch branch.
func (b *Branch) Kind() Kind { return b.kind }

// Equal reports whether two branches are the same registered predicate.
func (b *Branch) Equal(other *Branch) bool {
	if b == nil || other == nil {
		return b == other
	}
	if b == other {
		return true
	}
	return b.id == other.id &&
		b.session == other.session &&
		b.instruction == other.instruction
}

// String renders the branch as "I<instr> Branch <id> <cmp> L<line>".
func (b *Branch) String() string {
	return fmt.Sprintf("I%d Branch %d %s L%d",
		b.instruction.ID, b.id, b.comparison, b.instruction.LineNumber)
}

// ControlDependency states that an instruction executes only when Branch evaluates to Value.
type ControlDependency struct {
	Branch *Branch
	Value  bool
}

// String renders the dependency.
func (cd ControlDependency) String() string {
	return fmt.Sprintf("%s -> %t", cd.Branch, cd.Value)
}
