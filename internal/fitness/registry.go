package fitness

import (
	"fmt"
	"sort"

	"github.com/zjy-dev/covfit/internal/branch"
	"github.com/zjy-dev/covfit/internal/distance"
	"github.com/zjy-dev/covfit/internal/execution"
	"github.com/zjy-dev/covfit/internal/goal"
	"github.com/zjy-dev/covfit/internal/metrics"
)

// GoalFactory generates the goals of a criterion for a set of methods.
type GoalFactory func(calc *distance.Calculator, methods []branch.MethodRef) ([]*goal.BranchGoal, error)

// Factory wraps one goal as a fitness function of a criterion.
type Factory func(g *goal.BranchGoal, runner execution.Runner, m *metrics.Metrics) (TestFitness, error)

// Criterion ties goal generation to fitness construction.
type Criterion struct {
	Goals   GoalFactory
	Fitness Factory
}

var (
	registry = make(map[string]Criterion)
)

func init() {
	Register(CriterionBranch, Criterion{
		Goals: goal.BranchGoals,
		Fitness: func(g *goal.BranchGoal, runner execution.Runner, m *metrics.Metrics) (TestFitness, error) {
			return NewBranchFitness(g, runner, m)
		},
	})
	Register(CriterionTryCatch, Criterion{
		Goals: goal.TryCatchGoals,
		Fitness: func(g *goal.BranchGoal, runner execution.Runner, m *metrics.Metrics) (TestFitness, error) {
			return NewTryCatchFitness(g, runner, m)
		},
	})
}

// Register adds a criterion to the registry.
func Register(name string, c Criterion) {
	registry[name] = c
}

// Lookup returns a registered criterion.
func Lookup(name string) (Criterion, error) {
	c, ok := registry[name]
	if !ok {
		return Criterion{}, fmt.Errorf("coverage criterion not found: %s", name)
	}
	return c, nil
}

// New creates a fitness function of the named criterion for g.
func New(name string, g *goal.BranchGoal, runner execution.Runner, m *metrics.Metrics) (TestFitness, error) {
	c, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.Fitness(g, runner, m)
}

// Criteria lists the registered criterion names in sorted order.
func Criteria() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
