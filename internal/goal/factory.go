package goal

import (
	"github.com/zjy-dev/covfit/internal/branch"
	"github.com/zjy-dev/covfit/internal/distance"
	"github.com/zjy-dev/covfit/internal/logger"
)

// BranchGoals returns a true and a false goal for every predicate branch of methods, and a
// root goal for every method without predicate branches. Try/catch branches are skipped;
// they belong to TryCatchGoals.
func BranchGoals(calc *distance.Calculator, methods []branch.MethodRef) ([]*BranchGoal, error) {
	reg := calc.Analysis().Registry()
	var goals []*BranchGoal
	for _, m := range methods {
		predicates := 0
		for _, b := range reg.BranchesOf(m) {
			if b.Kind() != branch.KindPredicate {
				continue
			}
			predicates++
			pair, err := bothOutcomes(calc, b)
			if err != nil {
				return nil, err
			}
			goals = append(goals, pair...)
		}
		if predicates == 0 {
			g, err := NewRoot(calc, m.ClassName, m.MethodName)
			if err != nil {
				return nil, err
			}
			goals = append(goals, g)
		}
	}
	logger.Info("[Goals] Generated %d branch goals for %d methods", len(goals), len(methods))
	return goals, nil
}

// TryCatchGoals returns a true and a false goal for every branch instrumented around an
// exception handler.
func TryCatchGoals(calc *distance.Calculator, methods []branch.MethodRef) ([]*BranchGoal, error) {
	reg := calc.Analysis().Registry()
	var goals []*BranchGoal
	for _, m := range methods {
		for _, b := range reg.BranchesOf(m) {
			if b.Kind() != branch.KindTryCatch {
				continue
			}
			pair, err := bothOutcomes(calc, b)
			if err != nil {
				return nil, err
			}
			goals = append(goals, pair...)
		}
	}
	logger.Info("[Goals] Generated %d try/catch goals for %d methods", len(goals), len(methods))
	return goals, nil
}

func bothOutcomes(calc *distance.Calculator, b *branch.Branch) ([]*BranchGoal, error) {
	t, err := New(calc, b, true, b.ClassName(), b.MethodName())
	if err != nil {
		return nil, err
	}
	f, err := New(calc, b, false, b.ClassName(), b.MethodName())
	if err != nil {
		return nil, err
	}
	return []*BranchGoal{t, f}, nil
}
