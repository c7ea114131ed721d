package fitness

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/zjy-dev/covfit/internal/execution"
	"github.com/zjy-dev/covfit/internal/logger"
)

// DefaultParallelism is the number of candidates evaluated at once.
const DefaultParallelism = 4

// Evaluator scores a population against one fitness function concurrently.
type Evaluator struct {
	parallelism int
}

// NewEvaluator creates an evaluator running at most parallelism candidates at once.
func NewEvaluator(parallelism int) *Evaluator {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Evaluator{parallelism: parallelism}
}

// EvaluateAll evaluates every test against f. The result is in input order.
// A candidate that fails to run or violates an invariant gets the worst fitness without
// affecting the others; only cancellation aborts the population.
func (e *Evaluator) EvaluateAll(ctx context.Context, f TestFitness, tests []execution.TestCase) ([]Evaluation, error) {
	out := make([]Evaluation, len(tests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for i, tc := range tests {
		g.Go(func() error {
			ev, err := f.Evaluate(gctx, tc)
			if err != nil {
				return fmt.Errorf("evaluating test %s: %w", tc.ID, err)
			}
			out[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	covered := 0
	for _, ev := range out {
		if ev.Covered {
			covered++
		}
	}
	logger.Debug("[Evaluator] %s: %d/%d candidates cover the goal", f, covered, len(tests))
	return out, nil
}

// Best returns the evaluation with the lowest fitness. Ties keep the earliest candidate;
// secondary criteria such as test length belong to the caller.
func Best(evals []Evaluation) (Evaluation, bool) {
	if len(evals) == 0 {
		return Evaluation{}, false
	}
	best := evals[0]
	for _, ev := range evals[1:] {
		if ev.Fitness < best.Fitness {
			best = ev
		}
	}
	return best, true
}
