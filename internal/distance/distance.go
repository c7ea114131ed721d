// Package distance computes how far a test execution is from covering a branch outcome
// or a method entry, as an (approach level, branch distance) pair.
package distance

import (
	"fmt"
	"math"
)

// ControlFlowDistance is the two-part distance to a coverage goal.
// ApproachLevel counts unsatisfied control dependencies; BranchDistance is the
// normalized closeness of the target predicate to flipping, in [0, 1].
type ControlFlowDistance struct {
	ApproachLevel  int     `json:"approach_level"`
	BranchDistance float64 `json:"branch_distance"`
}

// Zero is the distance of a covered goal.
var Zero = ControlFlowDistance{}

// Compare orders distances lexicographically: approach level first, then branch distance.
// It returns -1, 0 or +1.
func (d ControlFlowDistance) Compare(other ControlFlowDistance) int {
	switch {
	case d.ApproachLevel < other.ApproachLevel:
		return -1
	case d.ApproachLevel > other.ApproachLevel:
		return 1
	case d.BranchDistance < other.BranchDistance:
		return -1
	case d.BranchDistance > other.BranchDistance:
		return 1
	}
	return 0
}

// Fitness folds the pair into one scalar. Branch distance stays within [0, 1], so it
// never crosses an approach-level boundary.
func (d ControlFlowDistance) Fitness() float64 {
	return float64(d.ApproachLevel) + d.BranchDistance
}

// IsCovered reports whether both components are zero.
func (d ControlFlowDistance) IsCovered() bool {
	return d.ApproachLevel == 0 && d.BranchDistance == 0
}

func (d ControlFlowDistance) String() string {
	return fmt.Sprintf("[approach %d, branch %.6f]", d.ApproachLevel, d.BranchDistance)
}

// Normalize maps a non-negative gap into [0, 1) as d/(d+1). Infinite and NaN gaps map to 1.
func Normalize(d float64) float64 {
	if math.IsNaN(d) || math.IsInf(d, 1) {
		return 1
	}
	if d <= 0 {
		return 0
	}
	return d / (d + 1)
}

// InvariantViolationError reports an execution result that contradicts the static model.
// It points at a bug in the instrumentation layer; the evaluation that hit it should be
// scored as worst, and the search continues.
type InvariantViolationError struct {
	BranchID int
	Reason   string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation at branch %d: %s", e.BranchID, e.Reason)
}

func violation(id int, format string, args ...any) *InvariantViolationError {
	return &InvariantViolationError{BranchID: id, Reason: fmt.Sprintf(format, args...)}
}
