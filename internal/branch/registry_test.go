package branch

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBranch(instr int, line int) *Branch {
	return New(Instruction{
		ID:         instr,
		ClassName:  "com.example.Foo",
		MethodName: "foo(I)V",
		LineNumber: line,
	}, CompareGt, KindPredicate)
}

// TestRegistry_RegisterAssignsSequentialIDs tests id assignment and lookup.
func TestRegistry_RegisterAssignsSequentialIDs(t *testing.T) {
	reg := NewRegistry()
	b0 := newTestBranch(3, 10)
	b1 := newTestBranch(7, 12)

	id0, err := reg.Register(b0)
	require.NoError(t, err)
	id1, err := reg.Register(b1)
	require.NoError(t, err)

	assert.Equal(t, 0, id0)
	assert.Equal(t, 1, id1)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, reg.Session(), b0.Session())

	got, err := reg.Lookup(1)
	require.NoError(t, err)
	assert.Same(t, b1, got)
}

// TestRegistry_RegisterIsIdempotent tests that re-registering an instance keeps its id.
func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	b := newTestBranch(3, 10)

	first, err := reg.Register(b)
	require.NoError(t, err)
	second, err := reg.Register(b)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, reg.Len())
}

// TestRegistry_RejectsForeignBranch tests that a branch cannot move between sessions.
func TestRegistry_RejectsForeignBranch(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	br := newTestBranch(3, 10)

	_, err := a.Register(br)
	require.NoError(t, err)

	_, err = b.Register(br)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already belongs to session")
	assert.Equal(t, 0, b.Len())
}

// TestRegistry_LookupNotFound tests the sentinel and unknown ids.
func TestRegistry_LookupNotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(newTestBranch(1, 5))
	require.NoError(t, err)

	for _, id := range []int{NoBranch, 1, 42, -7} {
		_, err := reg.Lookup(id)
		var nf *NotFoundError
		require.True(t, errors.As(err, &nf), "id %d", id)
		assert.Equal(t, id, nf.ID)
	}
}

// TestRegistry_BranchesOf tests per-method grouping.
func TestRegistry_BranchesOf(t *testing.T) {
	reg := NewRegistry()
	b0 := newTestBranch(1, 5)
	other := New(Instruction{ID: 1, ClassName: "com.example.Foo", MethodName: "bar()V", LineNumber: 30}, CompareEq, KindPredicate)
	b1 := newTestBranch(4, 8)
	for _, b := range []*Branch{b0, other, b1} {
		_, err := reg.Register(b)
		require.NoError(t, err)
	}

	got := reg.BranchesOf(MethodRef{ClassName: "com.example.Foo", MethodName: "foo(I)V"})
	assert.Equal(t, []*Branch{b0, b1}, got)
	assert.Len(t, reg.Branches(), 3)
}

// TestRegistry_SessionOverride tests registries sharing a deterministic session.
func TestRegistry_SessionOverride(t *testing.T) {
	session := uuid.NewSHA1(uuid.NameSpaceOID, []byte("model"))
	a := NewRegistryWithSession(session)
	b := NewRegistryWithSession(session)
	assert.Equal(t, a.Session(), b.Session())
	assert.NotEqual(t, a.Session(), NewRegistry().Session())
}

// TestRegistry_ConcurrentRegister tests that concurrent registration yields unique ids.
func TestRegistry_ConcurrentRegister(t *testing.T) {
	reg := NewRegistry()
	const n = 64

	var wg sync.WaitGroup
	ids := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := reg.Register(newTestBranch(i, i+1))
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Equal(t, n, reg.Len())
}

// TestBranch_Equal tests branch identity.
func TestBranch_Equal(t *testing.T) {
	reg := NewRegistry()
	b0 := newTestBranch(1, 5)
	b1 := newTestBranch(2, 6)
	_, _ = reg.Register(b0)
	_, _ = reg.Register(b1)

	assert.True(t, b0.Equal(b0))
	assert.False(t, b0.Equal(b1))
	assert.False(t, b0.Equal(nil))
	var nilBranch *Branch
	assert.True(t, nilBranch.Equal(nil))
}

func TestParseComparison(t *testing.T) {
	tests := []struct {
		in      string
		want    Comparison
		wantErr bool
	}{
		{"GT", CompareGt, false},
		{" nonnull ", CompareNonNull, false},
		{"", CompareBool, false},
		{"between", "", true},
	}
	for _, tt := range tests {
		got, err := ParseComparison(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
