// Package archive remembers which test first covered each goal, and suggests seeds for
// goals that are still open.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zjy-dev/covfit/internal/execution"
	"github.com/zjy-dev/covfit/internal/fitness"
	"github.com/zjy-dev/covfit/internal/goal"
)

// Key identifies a goal inside an archive. It is derived from the goal's persisted form,
// so it stays stable across processes that load the same model.
func Key(g *goal.BranchGoal) string {
	rec := g.Encode()
	return fmt.Sprintf("%s.%s#%d:%t", rec.Class, rec.Method, rec.BranchID, rec.Value)
}

// Archive maps covered goals to the first test that covered them.
// It supports persistence to JSON so a search can resume.
type Archive struct {
	mu sync.RWMutex

	// GoalToTest maps each covered goal key to the first covering test
	GoalToTest map[string]execution.TestCase `json:"goal_to_test"`

	// path is the file path for persistence
	path string
}

// New creates an archive. If path names an existing file, it is loaded.
func New(path string) (*Archive, error) {
	a := &Archive{
		GoalToTest: make(map[string]execution.TestCase),
		path:       path,
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := a.Load(path); err != nil {
				return nil, fmt.Errorf("failed to load existing archive: %w", err)
			}
		}
	}

	return a, nil
}

// Record stores tc as the covering test of g. It returns true if g was not covered before.
func (a *Archive) Record(g *goal.BranchGoal, tc execution.TestCase) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := Key(g)
	if _, exists := a.GoalToTest[key]; exists {
		return false
	}
	a.GoalToTest[key] = tc
	return true
}

// RecordEvaluations stores the first covering evaluation of g, if any.
func (a *Archive) RecordEvaluations(g *goal.BranchGoal, evals []fitness.Evaluation) bool {
	for _, ev := range evals {
		if ev.Covered {
			return a.Record(g, ev.Test)
		}
	}
	return false
}

// TestFor returns the test that first covered g.
func (a *Archive) TestFor(g *goal.BranchGoal) (execution.TestCase, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tc, ok := a.GoalToTest[Key(g)]
	return tc, ok
}

// IsCovered reports whether g has a covering test.
func (a *Archive) IsCovered(g *goal.BranchGoal) bool {
	_, ok := a.TestFor(g)
	return ok
}

// Len returns the number of covered goals.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.GoalToTest)
}

// SeedsFor returns the covering tests of goals connected to target, in goals order and
// without duplicates. These are promising starting points for covering target.
func (a *Archive) SeedsFor(target *goal.BranchGoal, goals []*goal.BranchGoal) []execution.TestCase {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var seeds []execution.TestCase
	seen := make(map[string]bool)
	for _, g := range goals {
		if g.Equal(target) || !target.IsConnectedTo(g) {
			continue
		}
		tc, ok := a.GoalToTest[Key(g)]
		if !ok || seen[tc.ID] {
			continue
		}
		seen[tc.ID] = true
		seeds = append(seeds, tc)
	}
	return seeds
}

// Save persists the archive to disk. An empty path uses the path given to New.
func (a *Archive) Save(path string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if path == "" {
		path = a.path
	}
	if path == "" {
		return fmt.Errorf("no path specified for saving")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal archive: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}

	return nil
}

// Load loads the archive from disk.
func (a *Archive) Load(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read archive file: %w", err)
	}

	if err := json.Unmarshal(data, a); err != nil {
		return fmt.Errorf("failed to unmarshal archive: %w", err)
	}
	if a.GoalToTest == nil {
		a.GoalToTest = make(map[string]execution.TestCase)
	}

	a.path = path
	return nil
}
