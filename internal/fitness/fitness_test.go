package fitness

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/covfit/internal/analysis"
	"github.com/zjy-dev/covfit/internal/branch"
	"github.com/zjy-dev/covfit/internal/distance"
	"github.com/zjy-dev/covfit/internal/execution"
	"github.com/zjy-dev/covfit/internal/goal"
	"github.com/zjy-dev/covfit/internal/metrics"
)

const cls = "com.example.Calc"

const testModel = `
methods:
  - {class: com.example.Calc, method: check, first_line: 10}
branches:
  - {key: outer, class: com.example.Calc, method: check, instruction: 2, line: 11, comparison: gt}
  - key: handler
    class: com.example.Calc
    method: check
    instruction: 9
    line: 14
    kind: trycatch
    depends_on: [{branch: outer, value: true}]
  - {key: late, class: com.example.Calc, method: check, instruction: 12, line: 30, comparison: eq}
`

// MockRunner is a mock implementation of execution.Runner.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, tc execution.TestCase) (*execution.Result, error) {
	args := m.Called(ctx, tc)
	res, _ := args.Get(0).(*execution.Result)
	return res, args.Error(1)
}

type env struct {
	graph *analysis.Graph
	calc  *distance.Calculator
	outer *branch.Branch
	hdl   *branch.Branch
	late  *branch.Branch
}

func newEnv(t *testing.T) *env {
	t.Helper()
	g, err := analysis.Parse([]byte(testModel))
	require.NoError(t, err)
	e := &env{graph: g, calc: distance.NewCalculator(g, distance.DefaultOptions())}
	e.outer, _ = g.BranchByKey("outer")
	e.hdl, _ = g.BranchByKey("handler")
	e.late, _ = g.BranchByKey("late")
	return e
}

func (e *env) goal(t *testing.T, b *branch.Branch, value bool) *goal.BranchGoal {
	t.Helper()
	g, err := goal.New(e.calc, b, value, cls, "check")
	require.NoError(t, err)
	return g
}

func (e *env) hitOuter(x float64) *execution.Result {
	return execution.NewResult().Enter(cls, "check").
		AddEvaluation(e.outer.ID(), x > 0, execution.Operands{Left: x, Right: 0})
}

func TestBranchFitness_Evaluate(t *testing.T) {
	e := newEnv(t)
	runner := new(MockRunner)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, 0)

	f, err := NewBranchFitness(e.goal(t, e.outer, true), runner, m)
	require.NoError(t, err)

	covering := execution.TestCase{ID: "covering"}
	missing := execution.TestCase{ID: "missing"}
	runner.On("Run", mock.Anything, covering).Return(e.hitOuter(3), nil)
	runner.On("Run", mock.Anything, missing).Return(e.hitOuter(-5), nil)

	ev, err := f.Evaluate(context.Background(), covering)
	require.NoError(t, err)
	assert.True(t, ev.Covered)
	assert.Equal(t, 0.0, ev.Fitness)
	assert.NoError(t, ev.Err)

	ev, err = f.Evaluate(context.Background(), missing)
	require.NoError(t, err)
	assert.False(t, ev.Covered)
	assert.InDelta(t, distance.Normalize(5), ev.Fitness, 1e-12)
	assert.Equal(t, missing, ev.Test)

	runner.AssertExpectations(t)
	assert.Equal(t, 1.0, counterValue(t, reg, "branch", "covered"))
	assert.Equal(t, 1.0, counterValue(t, reg, "branch", "uncovered"))
}

func TestBranchFitness_FailuresAreIsolated(t *testing.T) {
	e := newEnv(t)
	runner := new(MockRunner)
	f, err := NewBranchFitness(e.goal(t, e.outer, true), runner, nil)
	require.NoError(t, err)
	worstFitness := float64(distance.DefaultMaxApproachLevel) + 1

	t.Run("run failure", func(t *testing.T) {
		tc := execution.TestCase{ID: "crash"}
		runner.On("Run", mock.Anything, tc).Return(nil, errors.New("segfault")).Once()

		ev, err := f.Evaluate(context.Background(), tc)
		require.NoError(t, err)
		assert.Equal(t, worstFitness, ev.Fitness)
		assert.ErrorContains(t, ev.Err, "segfault")
	})

	t.Run("invariant violation", func(t *testing.T) {
		// outer recorded as true with x = -5 contradicts x > 0.
		bad := execution.NewResult().Enter(cls, "check").
			AddEvaluation(e.outer.ID(), true, execution.Operands{Left: -5})
		ev, err := f.Score(execution.TestCase{ID: "bad"}, bad)
		require.NoError(t, err)
		assert.Equal(t, worstFitness, ev.Fitness)
		assert.False(t, ev.Covered)
		var iv *distance.InvariantViolationError
		assert.True(t, errors.As(ev.Err, &iv))
	})

	t.Run("cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		tc := execution.TestCase{ID: "slow"}
		runner.On("Run", mock.Anything, tc).Return(nil, context.Canceled).Once()

		_, err := f.Evaluate(ctx, tc)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("no runner", func(t *testing.T) {
		scoreOnly, err := NewBranchFitness(e.goal(t, e.outer, true), nil, nil)
		require.NoError(t, err)
		_, err = scoreOnly.Evaluate(context.Background(), execution.TestCase{ID: "x"})
		assert.ErrorContains(t, err, "no test runner")
	})
}

func TestTryCatchFitness(t *testing.T) {
	e := newEnv(t)

	_, err := NewTryCatchFitness(e.goal(t, e.outer, true), nil, nil)
	assert.ErrorContains(t, err, "not on a try/catch branch")
	root, err := goal.NewRoot(e.calc, cls, "check")
	require.NoError(t, err)
	_, err = NewTryCatchFitness(root, nil, nil)
	assert.Error(t, err)

	reg := prometheus.NewRegistry()
	tcf, err := NewTryCatchFitness(e.goal(t, e.hdl, true), nil, metrics.New(reg, 0))
	require.NoError(t, err)
	bf, err := NewBranchFitness(e.goal(t, e.hdl, true), nil, nil)
	require.NoError(t, err)

	// The handler was never reached, but its guard was hit.
	res := e.hitOuter(-1)
	got, err := tcf.Score(execution.TestCase{ID: "t"}, res)
	require.NoError(t, err)
	want, err := bf.Score(execution.TestCase{ID: "t"}, res)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, distance.ControlFlowDistance{ApproachLevel: 1, BranchDistance: 1}, got.Distance)

	assert.Equal(t, CriterionTryCatch, tcf.Criterion())
	assert.True(t, strings.HasPrefix(tcf.String(), "TryCatch "))
	assert.Equal(t, 1.0, counterValue(t, reg, "trycatch", "uncovered"))
}

func TestCompare_MixedCriteria(t *testing.T) {
	e := newEnv(t)
	late, _ := NewBranchFitness(e.goal(t, e.late, true), nil, nil)   // line 30
	early, _ := NewBranchFitness(e.goal(t, e.outer, true), nil, nil) // line 11
	hdlT, _ := NewTryCatchFitness(e.goal(t, e.hdl, true), nil, nil)  // line 14
	hdlF, _ := NewTryCatchFitness(e.goal(t, e.hdl, false), nil, nil) // line 14

	assert.Negative(t, early.Compare(late))
	assert.Zero(t, hdlT.Compare(hdlF))

	// Across criteria the name decides, regardless of line.
	assert.Negative(t, late.Compare(hdlT))
	assert.Positive(t, hdlT.Compare(late))
	assert.Positive(t, hdlT.Compare(early))

	all := []TestFitness{hdlT, late, early, hdlF}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Compare(all[j]) < 0 })
	assert.Equal(t, []TestFitness{early, late, hdlT, hdlF}, all)
}

func TestRegistry(t *testing.T) {
	e := newEnv(t)

	assert.Subset(t, Criteria(), []string{CriterionBranch, CriterionTryCatch})

	f, err := New(CriterionBranch, e.goal(t, e.outer, true), nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &BranchFitness{}, f)

	f, err = New(CriterionTryCatch, e.goal(t, e.hdl, false), nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &TryCatchFitness{}, f)

	_, err = New("mutation", e.goal(t, e.outer, true), nil, nil)
	assert.ErrorContains(t, err, "coverage criterion not found")

	c, err := Lookup(CriterionTryCatch)
	require.NoError(t, err)
	goals, err := c.Goals(e.calc, e.graph.Methods())
	require.NoError(t, err)
	assert.Len(t, goals, 2)

	called := false
	Register("test_criterion", Criterion{
		Fitness: func(g *goal.BranchGoal, runner execution.Runner, m *metrics.Metrics) (TestFitness, error) {
			called = true
			return NewBranchFitness(g, runner, m)
		},
	})
	defer delete(registry, "test_criterion")
	_, err = New("test_criterion", e.goal(t, e.outer, true), nil, nil)
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestEvaluator_EvaluateAll(t *testing.T) {
	e := newEnv(t)
	runner := new(MockRunner)
	f, err := NewBranchFitness(e.goal(t, e.outer, true), runner, nil)
	require.NoError(t, err)

	xs := []float64{-50, -1, 7, -3}
	tests := make([]execution.TestCase, len(xs))
	for i, x := range xs {
		tests[i] = execution.TestCase{ID: string(rune('a' + i))}
		runner.On("Run", mock.Anything, tests[i]).Return(e.hitOuter(x), nil)
	}
	broken := execution.TestCase{ID: "broken"}
	runner.On("Run", mock.Anything, broken).Return(nil, errors.New("timeout"))
	tests = append(tests, broken)

	evals, err := NewEvaluator(2).EvaluateAll(context.Background(), f, tests)
	require.NoError(t, err)
	require.Len(t, evals, 5)
	for i, ev := range evals {
		assert.Equal(t, tests[i], ev.Test)
	}
	assert.InDelta(t, distance.Normalize(50), evals[0].Fitness, 1e-12)
	assert.True(t, evals[2].Covered)
	assert.Error(t, evals[4].Err)

	best, ok := Best(evals)
	require.True(t, ok)
	assert.Equal(t, "c", best.Test.ID)
	runner.AssertExpectations(t)
}

func TestEvaluator_Cancelled(t *testing.T) {
	e := newEnv(t)
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).Return(nil, context.Canceled)
	f, err := NewBranchFitness(e.goal(t, e.outer, true), runner, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewEvaluator(0).EvaluateAll(ctx, f, []execution.TestCase{{ID: "a"}, {ID: "b"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBest(t *testing.T) {
	_, ok := Best(nil)
	assert.False(t, ok)

	best, ok := Best([]Evaluation{
		{Test: execution.TestCase{ID: "a"}, Fitness: 0.5},
		{Test: execution.TestCase{ID: "b"}, Fitness: 0.2},
		{Test: execution.TestCase{ID: "c"}, Fitness: 0.2},
	})
	require.True(t, ok)
	assert.Equal(t, "b", best.Test.ID)
}

func counterValue(t *testing.T, reg *prometheus.Registry, criterion, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "covfit_evaluations_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["criterion"] == criterion && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
