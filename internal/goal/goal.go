// Package goal defines coverage goals: a branch taking a given outcome, or the entry
// of a method when no branch is named.
package goal

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/zjy-dev/covfit/internal/branch"
	"github.com/zjy-dev/covfit/internal/distance"
	"github.com/zjy-dev/covfit/internal/execution"
)

// InvalidArgumentError reports a malformed goal construction.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid coverage goal: " + e.Reason
}

func invalid(format string, args ...any) *InvalidArgumentError {
	return &InvalidArgumentError{Reason: fmt.Sprintf(format, args...)}
}

// BranchGoal is an immutable coverage target. With a nil branch it is a root goal
// for entering className.methodName.
type BranchGoal struct {
	calc *distance.Calculator

	branch     *branch.Branch
	value      bool
	className  string
	methodName string
	lineNumber int
}

// New creates a goal for b evaluating to value inside className.methodName.
// A nil b yields a root goal, which only exists for value == true.
func New(calc *distance.Calculator, b *branch.Branch, value bool, className, methodName string) (*BranchGoal, error) {
	if calc == nil {
		return nil, invalid("nil distance calculator")
	}
	if className == "" || methodName == "" {
		return nil, invalid("class and method names are required, got %q.%q", className, methodName)
	}
	if b == nil && !value {
		return nil, invalid("root goal for %s.%s cannot target value false", className, methodName)
	}

	g := &BranchGoal{
		calc:       calc,
		branch:     b,
		value:      value,
		className:  className,
		methodName: methodName,
	}
	if b != nil {
		if b.ClassName() != className || b.MethodName() != methodName {
			return nil, invalid("branch %s is in %s, not %s.%s", b, b.Method(), className, methodName)
		}
		g.lineNumber = b.Instruction().LineNumber
	} else {
		g.lineNumber = calc.Analysis().FirstLineNumberOfMethod(className, methodName)
	}
	return g, nil
}

// NewFromControlDependency creates the goal of satisfying cd.
func NewFromControlDependency(calc *distance.Calculator, cd branch.ControlDependency, className, methodName string) (*BranchGoal, error) {
	if cd.Branch == nil {
		return nil, invalid("control dependency without a branch")
	}
	return New(calc, cd.Branch, cd.Value, className, methodName)
}

// NewRoot creates the goal of entering className.methodName.
func NewRoot(calc *distance.Calculator, className, methodName string) (*BranchGoal, error) {
	return New(calc, nil, true, className, methodName)
}

// Branch returns the target branch, or nil for a root goal.
func (g *BranchGoal) Branch() *branch.Branch { return g.branch }

// Value returns the desired predicate outcome.
func (g *BranchGoal) Value() bool { return g.value }

// IsRoot reports whether g targets a method entry.
func (g *BranchGoal) IsRoot() bool { return g.branch == nil }

func (g *BranchGoal) ClassName() string  { return g.className }
func (g *BranchGoal) MethodName() string { return g.methodName }
func (g *BranchGoal) LineNumber() int    { return g.lineNumber }

// TargetClass returns the class the goal lives in.
func (g *BranchGoal) TargetClass() string {
	return g.className
}

// TargetMethods returns the set of methods the goal targets; a branch goal has one.
func (g *BranchGoal) TargetMethods() map[string]struct{} {
	return map[string]struct{}{g.methodName: {}}
}

// Equal reports whether two goals describe the same target.
func (g *BranchGoal) Equal(other *BranchGoal) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g == other {
		return true
	}
	if g.branch == nil || other.branch == nil {
		return g.branch == nil && other.branch == nil &&
			g.className == other.className && g.methodName == other.methodName
	}
	return g.branch.Equal(other.branch) && g.value == other.value
}

// Hash is consistent with Equal. It covers identifiers only, never graph structure.
func (g *BranchGoal) Hash() uint32 {
	const prime = 31
	var id, instr uint32
	if g.branch != nil {
		id = uint32(g.branch.ID())
		instr = uint32(g.branch.Instruction().ID)
	}
	h := uint32(1)
	h = prime*h + id
	h = prime*h + instr
	h = prime*h + stringHash(g.className)
	h = prime*h + stringHash(g.methodName)
	if g.value {
		h = prime*h + 1231
	} else {
		h = prime*h + 1237
	}
	return h
}

func stringHash(s string) uint32 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(s))
	return f.Sum32()
}

// Compare orders goals by line number only. Goals on the same line compare equal even
// when they are different targets, so Compare is not a deduplication key.
func (g *BranchGoal) Compare(other *BranchGoal) int {
	switch {
	case g.lineNumber < other.lineNumber:
		return -1
	case g.lineNumber > other.lineNumber:
		return 1
	}
	return 0
}

func (g *BranchGoal) String() string {
	name := g.className + "." + g.methodName + ":"
	if g.branch == nil {
		return name + " root-Branch"
	}
	return fmt.Sprintf("%s %s - %t", name, g.branch, g.value)
}

// IsConnectedTo reports whether tests covering other are promising for g: both target the
// same method entry, or one branch is directly control-dependent on the other. A root goal
// is connected to any goal of its own method.
func (g *BranchGoal) IsConnectedTo(other *BranchGoal) bool {
	if other == nil {
		return false
	}
	if g.branch == nil || other.branch == nil {
		return g.className == other.className && g.methodName == other.methodName
	}
	sa := g.calc.Analysis()
	return sa.IsDirectlyControlDependentOn(g.branch.Instruction(), other.branch) ||
		sa.IsDirectlyControlDependentOn(other.branch.Instruction(), g.branch)
}

// Distance computes how far res is from covering g.
func (g *BranchGoal) Distance(res *execution.Result) (distance.ControlFlowDistance, error) {
	return g.calc.Distance(res, g.branch, g.value, g.className, g.methodName)
}

// WorstDistance is the distance reported for an evaluation that cannot be scored.
func (g *BranchGoal) WorstDistance() distance.ControlFlowDistance {
	return g.calc.Worst()
}

// IsCovered runs tc and reports whether the run covers g.
func (g *BranchGoal) IsCovered(ctx context.Context, runner execution.Runner, tc execution.TestCase) (bool, error) {
	res, err := runner.Run(ctx, tc)
	if err != nil {
		return false, fmt.Errorf("failed to run test %s: %w", tc.ID, err)
	}
	d, err := g.Distance(res)
	if err != nil {
		return false, err
	}
	return d.IsCovered(), nil
}
