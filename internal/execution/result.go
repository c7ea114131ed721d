// Package execution models the outcome of running one candidate test: the ordered trace
// of branch evaluations, the methods entered, and an uncaught exception if any.
package execution

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/zjy-dev/covfit/internal/branch"
)

// Operands is the snapshot of a predicate's inputs at one evaluation.
// Left and Right are the compared values; for a switch, Left is the selector and
// Cases are the labels of the case arms.
type Operands struct {
	Left  float64   `json:"left"`
	Right float64   `json:"right"`
	Cases []float64 `json:"cases,omitempty"`
}

// Evaluation is one hit of a branch in the trace.
type Evaluation struct {
	BranchID int      `json:"branch_id"`
	Value    bool     `json:"value"`
	Operands Operands `json:"operands"`
}

// ExceptionRecord locates an uncaught exception.
type ExceptionRecord struct {
	ClassName  string `json:"class"`
	MethodName string `json:"method"`
	LineNumber int    `json:"line"`
	Type       string `json:"type,omitempty"`
}

// Result is the record of one test run. Once handed to the fitness engine it is only read.
type Result struct {
	trace     []Evaluation
	entered   map[branch.MethodRef]struct{}
	exception *ExceptionRecord
}

// NewResult creates an empty result to be filled by an instrumentation layer.
func NewResult() *Result {
	return &Result{entered: make(map[branch.MethodRef]struct{})}
}

// AddEvaluation appends a branch hit to the trace.
func (r *Result) AddEvaluation(branchID int, value bool, ops Operands) *Result {
	r.trace = append(r.trace, Evaluation{BranchID: branchID, Value: value, Operands: ops})
	return r
}

// Enter marks a method as entered.
func (r *Result) Enter(className, methodName string) *Result {
	r.entered[branch.MethodRef{ClassName: className, MethodName: methodName}] = struct{}{}
	return r
}

// SetException records the uncaught exception that ended the run.
func (r *Result) SetException(rec ExceptionRecord) *Result {
	r.exception = &rec
	return r
}

// Trace returns the ordered branch evaluations. Callers must not modify it.
func (r *Result) Trace() []Evaluation {
	return r.trace
}

// Entered reports whether className.methodName was entered during the run.
func (r *Result) Entered(className, methodName string) bool {
	_, ok := r.entered[branch.MethodRef{ClassName: className, MethodName: methodName}]
	return ok
}

// EnteredMethods returns the entered methods sorted by class, then method.
func (r *Result) EnteredMethods() []branch.MethodRef {
	out := make([]branch.MethodRef, 0, len(r.entered))
	for m := range r.entered {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClassName != out[j].ClassName {
			return out[i].ClassName < out[j].ClassName
		}
		return out[i].MethodName < out[j].MethodName
	})
	return out
}

// Exception returns the uncaught exception record, or nil.
func (r *Result) Exception() *ExceptionRecord {
	return r.exception
}

// resultFile is the JSON form written by instrumented test harnesses.
type resultFile struct {
	Trace     []Evaluation       `json:"trace"`
	Entered   []branch.MethodRef `json:"entered"`
	Exception *ExceptionRecord   `json:"exception,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultFile{
		Trace:     r.trace,
		Entered:   r.EnteredMethods(),
		Exception: r.exception,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Result) UnmarshalJSON(data []byte) error {
	var f resultFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	r.trace = f.Trace
	r.entered = make(map[branch.MethodRef]struct{}, len(f.Entered))
	for _, m := range f.Entered {
		r.entered[m] = struct{}{}
	}
	r.exception = f.Exception
	return nil
}

// ReadResultFile loads a JSON trace written by an instrumented run.
func ReadResultFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}
	r := NewResult()
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace %s: %w", path, err)
	}
	return r, nil
}
