// Package fitness adapts coverage goals into fitness functions for the search loop.
package fitness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zjy-dev/covfit/internal/distance"
	"github.com/zjy-dev/covfit/internal/execution"
	"github.com/zjy-dev/covfit/internal/goal"
	"github.com/zjy-dev/covfit/internal/logger"
	"github.com/zjy-dev/covfit/internal/metrics"
)

// Criterion names.
const (
	CriterionBranch   = "branch"
	CriterionTryCatch = "trycatch"
)

// Evaluation is the score of one candidate against one goal.
type Evaluation struct {
	Test     execution.TestCase
	Distance distance.ControlFlowDistance
	Fitness  float64
	Covered  bool

	// Err is set when the candidate could not be scored: its run failed or its result
	// contradicted the static model. Such evaluations carry the worst fitness.
	Err error
}

// TestFitness is a fitness function for one coverage goal. Lower is better; zero covers.
type TestFitness interface {
	// Criterion returns the coverage criterion the goal is counted under.
	Criterion() string

	// Goal returns the wrapped coverage goal.
	Goal() *goal.BranchGoal

	// Evaluate runs tc and scores the run.
	Evaluate(ctx context.Context, tc execution.TestCase) (Evaluation, error)

	// Score scores an existing result of tc.
	Score(tc execution.TestCase, res *execution.Result) (Evaluation, error)

	// Compare orders fitness functions of mixed criteria consistently.
	Compare(other TestFitness) int

	String() string
}

// BranchFitness scores candidates by their control-flow distance to a branch goal.
type BranchFitness struct {
	goal    *goal.BranchGoal
	runner  execution.Runner
	metrics *metrics.Metrics
}

// NewBranchFitness wraps g. runner may be nil when only Score is used.
func NewBranchFitness(g *goal.BranchGoal, runner execution.Runner, m *metrics.Metrics) (*BranchFitness, error) {
	if g == nil {
		return nil, fmt.Errorf("branch fitness needs a goal")
	}
	return &BranchFitness{goal: g, runner: runner, metrics: m}, nil
}

func (f *BranchFitness) Criterion() string       { return CriterionBranch }
func (f *BranchFitness) Goal() *goal.BranchGoal { return f.goal }

// Evaluate implements TestFitness. Only cancellation is returned as an error; a failed
// run is reported in the evaluation with the worst fitness.
func (f *BranchFitness) Evaluate(ctx context.Context, tc execution.TestCase) (Evaluation, error) {
	return evaluate(ctx, f, f.runner, f.metrics, tc)
}

// Score implements TestFitness.
func (f *BranchFitness) Score(tc execution.TestCase, res *execution.Result) (Evaluation, error) {
	return score(f, f.metrics, tc, res, time.Now())
}

// Compare implements TestFitness.
func (f *BranchFitness) Compare(other TestFitness) int {
	return compareWithin(f, other)
}

func (f *BranchFitness) String() string {
	return f.goal.String()
}

func evaluate(ctx context.Context, f TestFitness, runner execution.Runner, m *metrics.Metrics, tc execution.TestCase) (Evaluation, error) {
	if runner == nil {
		return Evaluation{}, fmt.Errorf("fitness %s has no test runner", f)
	}
	start := time.Now()
	res, err := runner.Run(ctx, tc)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Evaluation{}, ctxErr
		}
		logger.Warn("[Fitness] Test %s failed to run for %s: %v", tc.ID, f, err)
		m.ObserveEvaluation(f.Criterion(), metrics.OutcomeError, 0, time.Since(start))
		return worst(f, tc, fmt.Errorf("failed to run test %s: %w", tc.ID, err)), nil
	}
	return score(f, m, tc, res, start)
}

func score(f TestFitness, m *metrics.Metrics, tc execution.TestCase, res *execution.Result, start time.Time) (Evaluation, error) {
	d, err := f.Goal().Distance(res)
	if err != nil {
		var iv *distance.InvariantViolationError
		if !errors.As(err, &iv) {
			return Evaluation{}, err
		}
		logger.Warn("[Fitness] Invariant violation scoring test %s for %s: %v", tc.ID, f, err)
		m.ObserveEvaluation(f.Criterion(), metrics.OutcomeViolation, 0, time.Since(start))
		return worst(f, tc, err), nil
	}

	ev := Evaluation{
		Test:     tc,
		Distance: d,
		Fitness:  d.Fitness(),
		Covered:  d.Fitness() == 0,
	}
	outcome := metrics.OutcomeUncovered
	if ev.Covered {
		outcome = metrics.OutcomeCovered
		logger.Debug("[Fitness] Test %s covers %s", tc.ID, f)
	}
	m.ObserveEvaluation(f.Criterion(), outcome, d.ApproachLevel, time.Since(start))
	return ev, nil
}

func worst(f TestFitness, tc execution.TestCase, err error) Evaluation {
	d := f.Goal().WorstDistance()
	return Evaluation{
		Test:     tc,
		Distance: d,
		Fitness:  d.Fitness(),
		Err:      err,
	}
}

// compareWithin orders f against other by goal line when both belong to the same
// criterion, and by criterion name otherwise.
func compareWithin(f, other TestFitness) int {
	if other.Criterion() == f.Criterion() {
		return f.Goal().Compare(other.Goal())
	}
	return strings.Compare(f.Criterion(), other.Criterion())
}
