package analysis

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/zjy-dev/covfit/internal/branch"
	"github.com/zjy-dev/covfit/internal/logger"
)

// modelNamespace seeds session ids derived from model file contents.
var modelNamespace = uuid.MustParse("6f1c3c52-3a53-4bd4-9d0e-5d7f3f3c1a10")

// DependencySpec references a branch by model key.
type DependencySpec struct {
	Branch string `yaml:"branch"`
	Value  bool   `yaml:"value"`
}

// MethodSpec is a method entry in a model file.
type MethodSpec struct {
	Class             string           `yaml:"class"`
	Method            string           `yaml:"method"`
	FirstLine         int              `yaml:"first_line"`
	EntryDependencies []DependencySpec `yaml:"entry_dependencies,omitempty"`
}

// BranchSpec is a branch entry in a model file.
type BranchSpec struct {
	Key         string           `yaml:"key"`
	Class       string           `yaml:"class"`
	Method      string           `yaml:"method"`
	Instruction int              `yaml:"instruction"`
	Line        int              `yaml:"line"`
	Comparison  string           `yaml:"comparison"`
	Kind        string           `yaml:"kind,omitempty"`
	DependsOn   []DependencySpec `yaml:"depends_on,omitempty"`
}

// ModelSpec is the on-disk form of a static model.
// Branches are registered in file order, so registry ids are stable for a given file.
type ModelSpec struct {
	Methods  []MethodSpec `yaml:"methods"`
	Branches []BranchSpec `yaml:"branches"`
}

// LoadFile reads a YAML model file.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", path, err)
	}
	logger.Info("[Analysis] Loaded %d methods and %d branches from %s (session %s)",
		len(g.order), g.registry.Len(), path, g.registry.Session())
	return g, nil
}

// Parse builds a Graph from YAML. The registry session id is derived from the bytes,
// so parsing the same model twice yields interchangeable sessions.
func Parse(data []byte) (*Graph, error) {
	var spec ModelSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}
	reg := branch.NewRegistryWithSession(uuid.NewSHA1(modelNamespace, data))
	return Build(spec, reg)
}

// Build turns a ModelSpec into a Graph registered in reg.
func Build(spec ModelSpec, reg *branch.Registry) (*Graph, error) {
	g := NewGraph(reg)

	for _, m := range spec.Methods {
		if err := g.AddMethod(m.Class, m.Method, m.FirstLine); err != nil {
			return nil, err
		}
	}

	for _, bs := range spec.Branches {
		if bs.Key == "" {
			return nil, fmt.Errorf("branch at %s.%s:%d has no key", bs.Class, bs.Method, bs.Line)
		}
		if _, dup := g.byKey[bs.Key]; dup {
			return nil, fmt.Errorf("duplicate branch key %q", bs.Key)
		}
		cmp, err := branch.ParseComparison(bs.Comparison)
		if err != nil {
			return nil, fmt.Errorf("branch %q: %w", bs.Key, err)
		}
		kind := branch.Kind(bs.Kind)
		switch kind {
		case "", branch.KindPredicate, branch.KindTryCatch:
		default:
			return nil, fmt.Errorf("branch %q: unknown kind %q", bs.Key, bs.Kind)
		}
		b := branch.New(branch.Instruction{
			ID:         bs.Instruction,
			ClassName:  bs.Class,
			MethodName: bs.Method,
			LineNumber: bs.Line,
		}, cmp, kind)
		if _, err := g.AddBranch(b); err != nil {
			return nil, fmt.Errorf("branch %q: %w", bs.Key, err)
		}
		g.byKey[bs.Key] = b
	}

	// Dependencies may point forward, so resolve them after all branches exist.
	for _, bs := range spec.Branches {
		child := g.byKey[bs.Key]
		for _, d := range bs.DependsOn {
			parent, ok := g.byKey[d.Branch]
			if !ok {
				return nil, fmt.Errorf("branch %q depends on unknown branch %q", bs.Key, d.Branch)
			}
			if err := g.AddControlDependency(child.Instruction(), parent, d.Value); err != nil {
				return nil, err
			}
		}
	}

	for _, m := range spec.Methods {
		ref := branch.MethodRef{ClassName: m.Class, MethodName: m.Method}
		for _, d := range m.EntryDependencies {
			parent, ok := g.byKey[d.Branch]
			if !ok {
				return nil, fmt.Errorf("method %s entry depends on unknown branch %q", ref, d.Branch)
			}
			if err := g.AddEntryDependency(ref, parent, d.Value); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}
