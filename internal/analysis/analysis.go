// Package analysis holds the static model the fitness engine consults: method entry
// lines, control dependencies between instructions and branches, and the branch registry.
package analysis

import (
	"fmt"

	"github.com/zjy-dev/covfit/internal/branch"
)

// UnknownLine is returned by FirstLineNumberOfMethod for methods the model does not know.
const UnknownLine = -1

// StaticAnalysis is the read-only view of a program's control structure.
type StaticAnalysis interface {
	// Registry returns the branch registry of the analysis session.
	Registry() *branch.Registry

	// FirstLineNumberOfMethod returns the line of a method's first instruction.
	FirstLineNumberOfMethod(className, methodName string) int

	// ControlDependenciesOf returns the (branch, value) edges b is directly control-dependent on.
	// An empty result means b executes whenever its method is entered.
	ControlDependenciesOf(b *branch.Branch) []branch.ControlDependency

	// IsDirectlyControlDependentOn reports whether instr depends on b taking either value.
	IsDirectlyControlDependentOn(instr branch.Instruction, b *branch.Branch) bool

	// EntryDependenciesOf returns the branches that guard calls into a method.
	// An empty result means a test can invoke the method directly.
	EntryDependenciesOf(className, methodName string) []branch.ControlDependency
}

type instrKey struct {
	method branch.MethodRef
	id     int
}

func keyOf(instr branch.Instruction) instrKey {
	return instrKey{method: instr.Method(), id: instr.ID}
}

type methodInfo struct {
	firstLine int
	entryDeps []branch.ControlDependency
}

// Graph is an in-memory StaticAnalysis.
// It is populated once, then only read; concurrent readers need no locking.
type Graph struct {
	registry *branch.Registry
	methods  map[branch.MethodRef]*methodInfo
	order    []branch.MethodRef
	deps     map[instrKey][]branch.ControlDependency
	byInstr  map[instrKey]*branch.Branch
	byKey    map[string]*branch.Branch
}

// NewGraph creates an empty model whose branches are registered in reg.
func NewGraph(reg *branch.Registry) *Graph {
	return &Graph{
		registry: reg,
		methods:  make(map[branch.MethodRef]*methodInfo),
		deps:     make(map[instrKey][]branch.ControlDependency),
		byInstr:  make(map[instrKey]*branch.Branch),
		byKey:    make(map[string]*branch.Branch),
	}
}

// Registry returns the session registry.
func (g *Graph) Registry() *branch.Registry {
	return g.registry
}

// AddMethod declares a method and the line of its first instruction.
func (g *Graph) AddMethod(className, methodName string, firstLine int) error {
	ref := branch.MethodRef{ClassName: className, MethodName: methodName}
	if className == "" || methodName == "" {
		return fmt.Errorf("method needs class and name, got %q", ref.String())
	}
	if _, exists := g.methods[ref]; exists {
		return fmt.Errorf("method %s declared twice", ref)
	}
	g.methods[ref] = &methodInfo{firstLine: firstLine}
	g.order = append(g.order, ref)
	return nil
}

// AddBranch registers b. Its method must already be declared, and no other branch of
// the method may sit on the same instruction: control dependencies are keyed by it.
func (g *Graph) AddBranch(b *branch.Branch) (int, error) {
	if _, ok := g.methods[b.Method()]; !ok {
		return branch.NoBranch, fmt.Errorf("branch %s belongs to undeclared method %s", b, b.Method())
	}
	k := keyOf(b.Instruction())
	if other, ok := g.byInstr[k]; ok && other != b {
		return branch.NoBranch, fmt.Errorf("instruction %d of %s already holds branch %s", k.id, k.method, other)
	}
	id, err := g.registry.Register(b)
	if err != nil {
		return branch.NoBranch, err
	}
	g.byInstr[k] = b
	return id, nil
}

// AddControlDependency records that instr executes only when parent evaluates to value.
func (g *Graph) AddControlDependency(instr branch.Instruction, parent *branch.Branch, value bool) error {
	if err := g.checkRegistered(parent); err != nil {
		return err
	}
	k := keyOf(instr)
	for _, cd := range g.deps[k] {
		if cd.Branch == parent && cd.Value == value {
			return nil
		}
	}
	g.deps[k] = append(g.deps[k], branch.ControlDependency{Branch: parent, Value: value})
	return nil
}

// AddEntryDependency records that calls into m happen only when parent evaluates to value.
func (g *Graph) AddEntryDependency(m branch.MethodRef, parent *branch.Branch, value bool) error {
	info, ok := g.methods[m]
	if !ok {
		return fmt.Errorf("entry dependency on undeclared method %s", m)
	}
	if err := g.checkRegistered(parent); err != nil {
		return err
	}
	info.entryDeps = append(info.entryDeps, branch.ControlDependency{Branch: parent, Value: value})
	return nil
}

func (g *Graph) checkRegistered(b *branch.Branch) error {
	if b == nil {
		return fmt.Errorf("control dependency on nil branch")
	}
	got, err := g.registry.Lookup(b.ID())
	if err != nil {
		return fmt.Errorf("control dependency on unregistered branch %s: %w", b, err)
	}
	if got != b {
		return fmt.Errorf("control dependency on branch %s from another session", b)
	}
	return nil
}

// Methods returns declared methods in declaration order.
func (g *Graph) Methods() []branch.MethodRef {
	out := make([]branch.MethodRef, len(g.order))
	copy(out, g.order)
	return out
}

// BranchByKey returns a branch by the key it was given in a model file.
func (g *Graph) BranchByKey(key string) (*branch.Branch, bool) {
	b, ok := g.byKey[key]
	return b, ok
}

// FirstLineNumberOfMethod implements StaticAnalysis.
func (g *Graph) FirstLineNumberOfMethod(className, methodName string) int {
	info, ok := g.methods[branch.MethodRef{ClassName: className, MethodName: methodName}]
	if !ok {
		return UnknownLine
	}
	return info.firstLine
}

// ControlDependenciesOf implements StaticAnalysis.
func (g *Graph) ControlDependenciesOf(b *branch.Branch) []branch.ControlDependency {
	if b == nil {
		return nil
	}
	return g.deps[keyOf(b.Instruction())]
}

// IsDirectlyControlDependentOn implements StaticAnalysis.
func (g *Graph) IsDirectlyControlDependentOn(instr branch.Instruction, b *branch.Branch) bool {
	for _, cd := range g.deps[keyOf(instr)] {
		if cd.Branch.Equal(b) {
			return true
		}
	}
	return false
}

// EntryDependenciesOf implements StaticAnalysis.
func (g *Graph) EntryDependenciesOf(className, methodName string) []branch.ControlDependency {
	info, ok := g.methods[branch.MethodRef{ClassName: className, MethodName: methodName}]
	if !ok {
		return nil
	}
	return info.entryDeps
}
