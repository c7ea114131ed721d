package branch

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zjy-dev/covfit/internal/logger"
)

// NotFoundError is returned when a branch id does not resolve in a registry.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string {
	if e.ID == NoBranch {
		return "branch not found: id -1 is reserved for \"no branch\""
	}
	return fmt.Sprintf("branch not found: id %d", e.ID)
}

// Registry maps stable integer ids to the branches of one analysis session.
// It is written during analysis and read concurrently during the search.
type Registry struct {
	mu       sync.RWMutex
	session  uuid.UUID
	branches []*Branch
	byMethod map[MethodRef][]*Branch
}

// NewRegistry creates a registry with a random session id.
func NewRegistry() *Registry {
	return NewRegistryWithSession(uuid.New())
}

// NewRegistryWithSession creates a registry bound to a known session id.
// Two registries built from the same analysis input may share a session id so that
// persisted goals decode across processes.
func NewRegistryWithSession(session uuid.UUID) *Registry {
	return &Registry{
		session:  session,
		byMethod: make(map[MethodRef][]*Branch),
	}
}

// Session returns the registry's session id.
func (r *Registry) Session() uuid.UUID {
	return r.session
}

// Register assigns the next id to b and stores it.
// Registering the same instance again returns its existing id.
func (r *Registry) Register(b *Branch) (int, error) {
	if b == nil {
		return NoBranch, fmt.Errorf("cannot register nil branch")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b.id != NoBranch {
		if b.session == r.session && b.id < len(r.branches) && r.branches[b.id] == b {
			return b.id, nil
		}
		return NoBranch, fmt.Errorf("branch %s already belongs to session %s", b, b.session)
	}

	b.id = len(r.branches)
	b.session = r.session
	r.branches = append(r.branches, b)
	m := b.Method()
	r.byMethod[m] = append(r.byMethod[m], b)

	logger.Debug("[Registry] Registered %s in %s.%s", b, m.ClassName, m.MethodName)
	return b.id, nil
}

// Lookup resolves an id. The NoBranch sentinel and unknown ids yield *NotFoundError.
func (r *Registry) Lookup(id int) (*Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id < 0 || id >= len(r.branches) {
		return nil, &NotFoundError{ID: id}
	}
	return r.branches[id], nil
}

// Len returns the number of registered branches.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.branches)
}

// Branches returns all branches in id order.
func (r *Registry) Branches() []*Branch {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Branch, len(r.branches))
	copy(out, r.branches)
	return out
}

// BranchesOf returns the branches of one method in id order.
func (r *Registry) BranchesOf(m MethodRef) []*Branch {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Branch, len(r.byMethod[m]))
	copy(out, r.byMethod[m])
	return out
}
