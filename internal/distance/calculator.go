package distance

import (
	"math"

	"github.com/zjy-dev/covfit/internal/analysis"
	"github.com/zjy-dev/covfit/internal/branch"
	"github.com/zjy-dev/covfit/internal/execution"
)

const (
	// DefaultMaxApproachLevel is the sentinel approach level for goals whose
	// dependencies were never reached.
	DefaultMaxApproachLevel = 1000

	// DefaultMinimalGap is the gap used when a predicate's operands sit exactly on the
	// flip point, e.g. x > 0 evaluated with x == 0.
	DefaultMinimalGap = 0.01

	// constantGap is used by predicates without a numeric gap (null checks, booleans).
	constantGap = 1.0
)

// Options tunes the calculator.
type Options struct {
	MaxApproachLevel int
	MinimalGap       float64
}

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return Options{
		MaxApproachLevel: DefaultMaxApproachLevel,
		MinimalGap:       DefaultMinimalGap,
	}
}

// Calculator computes control-flow distances against one static model.
// It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	analysis analysis.StaticAnalysis
	opts     Options
}

// NewCalculator creates a calculator. Non-positive options fall back to the defaults.
func NewCalculator(sa analysis.StaticAnalysis, opts Options) *Calculator {
	if opts.MaxApproachLevel <= 0 {
		opts.MaxApproachLevel = DefaultMaxApproachLevel
	}
	if opts.MinimalGap <= 0 || opts.MinimalGap >= 1 {
		opts.MinimalGap = DefaultMinimalGap
	}
	return &Calculator{analysis: sa, opts: opts}
}

// Analysis returns the static model the calculator reads.
func (c *Calculator) Analysis() analysis.StaticAnalysis {
	return c.analysis
}

// MaxApproachLevel returns the sentinel approach level.
func (c *Calculator) MaxApproachLevel() int {
	return c.opts.MaxApproachLevel
}

// Worst returns the distance reported when nothing relevant was reached.
func (c *Calculator) Worst() ControlFlowDistance {
	return ControlFlowDistance{ApproachLevel: c.opts.MaxApproachLevel, BranchDistance: 1}
}

// Distance computes the distance from res to making b evaluate to value.
// A nil b denotes the entry of className.methodName, for which value must be true.
//
// When b is hit several times with mixed outcomes, any hit with the desired value
// covers it; otherwise the first hit's operands decide the branch distance.
func (c *Calculator) Distance(res *execution.Result, b *branch.Branch, value bool, className, methodName string) (ControlFlowDistance, error) {
	if res == nil {
		return c.Worst(), violation(branch.NoBranch, "nil execution result")
	}
	hit, err := c.Validate(res)
	if err != nil {
		return c.Worst(), err
	}

	if b == nil {
		if res.Entered(className, methodName) {
			return Zero, nil
		}
		return ControlFlowDistance{
			ApproachLevel:  c.methodApproach(res, hit, className, methodName),
			BranchDistance: 1,
		}, nil
	}

	if b.Session() != c.analysis.Registry().Session() {
		return c.Worst(), violation(b.ID(), "branch belongs to session %s, model is %s",
			b.Session(), c.analysis.Registry().Session())
	}
	if b.ClassName() != className || b.MethodName() != methodName {
		return c.Worst(), violation(b.ID(), "branch is in %s, goal names %s.%s",
			b.Method(), className, methodName)
	}

	var first *execution.Evaluation
	trace := res.Trace()
	for i := range trace {
		ev := &trace[i]
		if ev.BranchID != b.ID() {
			continue
		}
		if ev.Value == value {
			return Zero, nil
		}
		if first == nil {
			first = ev
		}
	}
	if first != nil {
		return ControlFlowDistance{
			ApproachLevel:  0,
			BranchDistance: Normalize(c.gap(b.Comparison(), first.Operands, value)),
		}, nil
	}

	return ControlFlowDistance{
		ApproachLevel:  c.branchApproach(res, hit, b),
		BranchDistance: 1,
	}, nil
}

// Validate checks res against the static model and returns the set of hit branch ids.
func (c *Calculator) Validate(res *execution.Result) (map[int]bool, error) {
	reg := c.analysis.Registry()
	hit := make(map[int]bool)
	for _, ev := range res.Trace() {
		b, err := reg.Lookup(ev.BranchID)
		if err != nil {
			return nil, violation(ev.BranchID, "trace names a branch the model does not know: %v", err)
		}
		if !res.Entered(b.ClassName(), b.MethodName()) {
			return nil, violation(ev.BranchID, "hit in %s, which the result never entered", b.Method())
		}
		if err := checkOperands(b, ev); err != nil {
			return nil, err
		}
		hit[ev.BranchID] = true
	}
	return hit, nil
}

func checkOperands(b *branch.Branch, ev execution.Evaluation) error {
	ops := ev.Operands
	if math.IsNaN(ops.Left) || math.IsNaN(ops.Right) {
		return violation(ev.BranchID, "NaN operand")
	}
	for _, cs := range ops.Cases {
		if math.IsNaN(cs) {
			return violation(ev.BranchID, "NaN case label")
		}
	}
	holds, ok := evaluate(b.Comparison(), ops)
	if ok && holds != ev.Value {
		return violation(ev.BranchID, "operands %v %s %v contradict recorded outcome %t",
			ops.Left, b.Comparison(), ops.Right, ev.Value)
	}
	return nil
}

// evaluate recomputes a predicate from its operands. ok is false for predicates
// whose outcome cannot be derived from numeric operands.
func evaluate(cmp branch.Comparison, ops execution.Operands) (holds, ok bool) {
	l, r := ops.Left, ops.Right
	switch cmp {
	case branch.CompareEq:
		return l == r, true
	case branch.CompareNe:
		return l != r, true
	case branch.CompareLt:
		return l < r, true
	case branch.CompareLe:
		return l <= r, true
	case branch.CompareGt:
		return l > r, true
	case branch.CompareGe:
		return l >= r, true
	case branch.CompareSwitch:
		for _, cs := range ops.Cases {
			if cs == l {
				return true, true
			}
		}
		return false, true
	}
	return false, false
}

// gap is the raw distance from ops to making the predicate evaluate to desired.
// It is only called on hits that took the other direction, so it is always positive.
func (c *Calculator) gap(cmp branch.Comparison, ops execution.Operands, desired bool) float64 {
	switch cmp {
	case branch.CompareEq, branch.CompareNe, branch.CompareLt,
		branch.CompareLe, branch.CompareGt, branch.CompareGe:
		return c.atLeastMinimal(math.Abs(ops.Left - ops.Right))
	case branch.CompareSwitch:
		if !desired || len(ops.Cases) == 0 {
			return constantGap
		}
		best := math.Inf(1)
		for _, cs := range ops.Cases {
			best = math.Min(best, c.atLeastMinimal(math.Abs(ops.Left-cs)))
		}
		return best
	}
	return constantGap
}

// atLeastMinimal also maps NaN to the minimal gap: the difference of two equal
// infinities is NaN, and such operands sit on the flip point.
func (c *Calculator) atLeastMinimal(d float64) float64 {
	if math.IsNaN(d) || d <= 0 {
		return c.opts.MinimalGap
	}
	return d
}

// branchApproach is the approach level of a branch that was never hit: the BFS level
// of the nearest hit control-dependency ancestor, the level at which the enclosing
// method frontier is reached, or the sentinel.
func (c *Calculator) branchApproach(res *execution.Result, hit map[int]bool, b *branch.Branch) int {
	parents, reached := c.parentsOf(res, b)
	if reached {
		return 1
	}
	return c.search(res, hit, parents, map[int]bool{b.ID(): true})
}

// methodApproach is the approach level of an entry goal whose method was not entered.
func (c *Calculator) methodApproach(res *execution.Result, hit map[int]bool, className, methodName string) int {
	parents, reached := c.methodFrontier(res, className, methodName)
	if reached {
		return 1
	}
	return c.search(res, hit, parents, make(map[int]bool))
}

// parentsOf returns the branches x directly depends on. Without control dependencies
// x depends on its method being entered.
func (c *Calculator) parentsOf(res *execution.Result, x *branch.Branch) ([]*branch.Branch, bool) {
	if deps := c.analysis.ControlDependenciesOf(x); len(deps) > 0 {
		return branchesOf(deps), false
	}
	return c.methodFrontier(res, x.ClassName(), x.MethodName())
}

// methodFrontier reports reached when the method was entered or can be called
// directly; otherwise it returns the branches guarding calls into it.
func (c *Calculator) methodFrontier(res *execution.Result, className, methodName string) ([]*branch.Branch, bool) {
	if res.Entered(className, methodName) {
		return nil, true
	}
	deps := c.analysis.EntryDependenciesOf(className, methodName)
	if len(deps) == 0 {
		return nil, true
	}
	return branchesOf(deps), false
}

func (c *Calculator) search(res *execution.Result, hit map[int]bool, start []*branch.Branch, visited map[int]bool) int {
	limit := c.opts.MaxApproachLevel
	frontier := make([]*branch.Branch, 0, len(start))
	for _, p := range start {
		if !visited[p.ID()] {
			visited[p.ID()] = true
			frontier = append(frontier, p)
		}
	}

	for level := 1; len(frontier) > 0 && level < limit; level++ {
		for _, p := range frontier {
			if hit[p.ID()] {
				return level
			}
		}
		var next []*branch.Branch
		for _, p := range frontier {
			parents, reached := c.parentsOf(res, p)
			if reached {
				if level+1 > limit {
					return limit
				}
				return level + 1
			}
			for _, q := range parents {
				if !visited[q.ID()] {
					visited[q.ID()] = true
					next = append(next, q)
				}
			}
		}
		frontier = next
	}
	return limit
}

func branchesOf(deps []branch.ControlDependency) []*branch.Branch {
	out := make([]*branch.Branch, 0, len(deps))
	for _, cd := range deps {
		out = append(out, cd.Branch)
	}
	return out
}
