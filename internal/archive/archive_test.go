package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zjy-dev/covfit/internal/analysis"
	"github.com/zjy-dev/covfit/internal/distance"
	"github.com/zjy-dev/covfit/internal/execution"
	"github.com/zjy-dev/covfit/internal/fitness"
	"github.com/zjy-dev/covfit/internal/goal"
)

const testModel = `
methods:
  - {class: C, method: m, first_line: 1}
  - {class: C, method: n, first_line: 50}
branches:
  - {key: outer, class: C, method: m, instruction: 1, line: 2, comparison: gt}
  - key: inner
    class: C
    method: m
    instruction: 2
    line: 3
    comparison: eq
    depends_on: [{branch: outer, value: true}]
  - {key: other, class: C, method: m, instruction: 3, line: 9, comparison: lt}
`

type goals struct {
	all                                  []*goal.BranchGoal
	outerT, outerF, innerT, otherT, root *goal.BranchGoal
}

func newGoals(t *testing.T) goals {
	t.Helper()
	g, err := analysis.Parse([]byte(testModel))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	calc := distance.NewCalculator(g, distance.DefaultOptions())
	mk := func(key string, value bool) *goal.BranchGoal {
		b, ok := g.BranchByKey(key)
		if !ok {
			t.Fatalf("missing branch %s", key)
		}
		bg, err := goal.New(calc, b, value, "C", "m")
		if err != nil {
			t.Fatalf("goal.New() failed: %v", err)
		}
		return bg
	}
	root, err := goal.NewRoot(calc, "C", "n")
	if err != nil {
		t.Fatalf("goal.NewRoot() failed: %v", err)
	}
	gs := goals{
		outerT: mk("outer", true),
		outerF: mk("outer", false),
		innerT: mk("inner", true),
		otherT: mk("other", true),
		root:   root,
	}
	gs.all = []*goal.BranchGoal{gs.outerT, gs.outerF, gs.innerT, gs.otherT, gs.root}
	return gs
}

func TestArchive_NewAndLoad(t *testing.T) {
	gs := newGoals(t)
	path := filepath.Join(t.TempDir(), "nested", "archive.json")

	a, err := New(path)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	a.Record(gs.outerT, execution.TestCase{ID: "t1", Args: []string{"3"}})
	a.Record(gs.root, execution.TestCase{ID: "t2"})

	if err := a.Save(""); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Archive file not created: %v", err)
	}

	a2, err := New(path)
	if err != nil {
		t.Fatalf("Loading existing archive failed: %v", err)
	}
	tc, found := a2.TestFor(gs.outerT)
	if !found || tc.ID != "t1" || len(tc.Args) != 1 || tc.Args[0] != "3" {
		t.Errorf("Expected t1 [3] for %s, got %+v (found=%v)", gs.outerT, tc, found)
	}
	if !a2.IsCovered(gs.root) {
		t.Errorf("Expected root goal to be covered after reload")
	}
	if a2.IsCovered(gs.outerF) {
		t.Errorf("Opposite outcome must not be covered")
	}
	if a2.Len() != 2 {
		t.Errorf("Expected 2 covered goals, got %d", a2.Len())
	}
}

func TestArchive_RecordKeepsFirst(t *testing.T) {
	gs := newGoals(t)
	a, _ := New("")

	if !a.Record(gs.innerT, execution.TestCase{ID: "first"}) {
		t.Error("First Record should return true")
	}
	if a.Record(gs.innerT, execution.TestCase{ID: "second"}) {
		t.Error("Second Record of the same goal should return false")
	}
	if tc, _ := a.TestFor(gs.innerT); tc.ID != "first" {
		t.Errorf("Expected first covering test to be kept, got %s", tc.ID)
	}
}

func TestArchive_RecordEvaluations(t *testing.T) {
	gs := newGoals(t)
	a, _ := New("")

	evals := []fitness.Evaluation{
		{Test: execution.TestCase{ID: "a"}, Fitness: 0.4},
		{Test: execution.TestCase{ID: "b"}, Covered: true},
		{Test: execution.TestCase{ID: "c"}, Covered: true},
	}
	if !a.RecordEvaluations(gs.otherT, evals) {
		t.Fatal("Expected a covering evaluation to be recorded")
	}
	if tc, _ := a.TestFor(gs.otherT); tc.ID != "b" {
		t.Errorf("Expected b, got %s", tc.ID)
	}
	if a.RecordEvaluations(gs.outerF, evals[:1]) {
		t.Error("No evaluation covers, nothing should be recorded")
	}
}

func TestArchive_SeedsFor(t *testing.T) {
	gs := newGoals(t)
	a, _ := New("")
	a.Record(gs.outerT, execution.TestCase{ID: "t-outer"})
	a.Record(gs.otherT, execution.TestCase{ID: "t-other"})
	a.Record(gs.root, execution.TestCase{ID: "t-root"})

	// inner depends on outer, so tests covering outer are seeds for inner.
	seeds := a.SeedsFor(gs.innerT, gs.all)
	if len(seeds) != 1 || seeds[0].ID != "t-outer" {
		t.Errorf("Expected [t-outer], got %+v", seeds)
	}

	// Both outcomes of outer connect to inner, which is uncovered.
	if seeds := a.SeedsFor(gs.outerF, gs.all); len(seeds) != 0 {
		t.Errorf("Expected no seeds for outer=false, got %+v", seeds)
	}

	// The same test covering two connected goals is suggested once.
	a.Record(gs.innerT, execution.TestCase{ID: "t-outer"})
	if seeds := a.SeedsFor(gs.outerF, gs.all); len(seeds) != 1 {
		t.Errorf("Expected one deduplicated seed, got %+v", seeds)
	}
}

func TestArchive_SaveWithoutPath(t *testing.T) {
	a, _ := New("")
	if err := a.Save(""); err == nil {
		t.Error("Save() without a path should fail")
	}
}

func TestArchive_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Error("New() should fail on a corrupt archive")
	}
}
