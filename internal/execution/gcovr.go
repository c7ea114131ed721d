package execution

import (
	"fmt"

	"github.com/zjy-dev/gcovr-json-util/v2/pkg/gcovr"
)

// ReadGcovrReport parses a gcovr JSON report (gcovr --json).
func ReadGcovrReport(path string) (*gcovr.GcovrReport, error) {
	report, err := gcovr.ParseReport(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gcovr report: %w", err)
	}
	return report, nil
}

// MergeGcovr marks as entered every function the gcovr report shows as executed:
// functions with a positive execution count, and functions with at least one covered
// line. classOf maps a report file path to the class name used by the static model;
// functions are keyed by demangled name when gcovr provides one.
// It returns the number of methods newly marked.
func (r *Result) MergeGcovr(report *gcovr.GcovrReport, classOf func(filePath string) string) (int, error) {
	if report == nil {
		return 0, nil
	}
	marked := 0
	for _, file := range report.Files {
		class := classFor(file.FilePath, classOf)
		for _, fn := range file.Functions {
			if fn.ExecutionCount > 0 && r.markEntered(class, fn.DemangledName, fn.Name) {
				marked++
			}
		}
	}

	// Older reports carry no execution counts; line counts still show partial coverage.
	uncovered, err := gcovr.FindUncoveredLines(report)
	if err != nil {
		return marked, fmt.Errorf("failed to analyze gcovr report: %w", err)
	}
	return marked + r.MergeUncovered(uncovered, classOf), nil
}

// MergeUncovered marks as entered every function of an uncovered-lines report that has
// at least one covered line. It returns the number of methods newly marked.
func (r *Result) MergeUncovered(report *gcovr.UncoveredReport, classOf func(filePath string) string) int {
	if report == nil {
		return 0
	}
	marked := 0
	for _, file := range report.Files {
		class := classFor(file.FilePath, classOf)
		for _, fn := range file.UncoveredFunctions {
			if fn.CoveredLines <= 0 {
				continue
			}
			if r.markEntered(class, fn.DemangledName, fn.FunctionName) {
				marked++
			}
		}
	}
	return marked
}

func classFor(filePath string, classOf func(string) string) string {
	if classOf == nil {
		return filePath
	}
	return classOf(filePath)
}

func (r *Result) markEntered(class, demangled, mangled string) bool {
	name := demangled
	if name == "" {
		name = mangled
	}
	if r.Entered(class, name) {
		return false
	}
	r.Enter(class, name)
	return true
}
