package fitness

import (
	"context"
	"fmt"
	"time"

	"github.com/zjy-dev/covfit/internal/branch"
	"github.com/zjy-dev/covfit/internal/execution"
	"github.com/zjy-dev/covfit/internal/goal"
	"github.com/zjy-dev/covfit/internal/metrics"
)

// TryCatchFitness scores exception-handler branches exactly like BranchFitness but counts
// them under their own criterion.
type TryCatchFitness struct {
	*BranchFitness
}

// NewTryCatchFitness wraps a goal on a branch instrumented around an exception handler.
func NewTryCatchFitness(g *goal.BranchGoal, runner execution.Runner, m *metrics.Metrics) (*TryCatchFitness, error) {
	if g == nil {
		return nil, fmt.Errorf("try/catch fitness needs a goal")
	}
	if g.IsRoot() || g.Branch().Kind() != branch.KindTryCatch {
		return nil, fmt.Errorf("goal %s is not on a try/catch branch", g)
	}
	bf, err := NewBranchFitness(g, runner, m)
	if err != nil {
		return nil, err
	}
	return &TryCatchFitness{BranchFitness: bf}, nil
}

func (f *TryCatchFitness) Criterion() string { return CriterionTryCatch }

// Evaluate implements TestFitness under the try/catch criterion.
func (f *TryCatchFitness) Evaluate(ctx context.Context, tc execution.TestCase) (Evaluation, error) {
	return evaluate(ctx, f, f.runner, f.metrics, tc)
}

// Score implements TestFitness under the try/catch criterion.
func (f *TryCatchFitness) Score(tc execution.TestCase, res *execution.Result) (Evaluation, error) {
	return score(f, f.metrics, tc, res, time.Now())
}

// Compare orders try/catch goals by line and sorts them after other criteria by name.
func (f *TryCatchFitness) Compare(other TestFitness) int {
	return compareWithin(f, other)
}

func (f *TryCatchFitness) String() string {
	return "TryCatch " + f.goal.String()
}
