package mutator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Add_DenseIDs(t *testing.T) {
	p := NewPool("/tmp/mutators")

	a1 := p.Add(0)
	a2 := p.Add(0)
	a3 := p.Add(5)

	assert.Equal(t, 0, a1.MutatorID)
	assert.Equal(t, 1, a2.MutatorID, "mutator ids are dense within a seed")
	assert.Equal(t, 0, a3.MutatorID, "another seed starts over at zero")

	assert.Equal(t, 0, a1.GlobalIndex)
	assert.Equal(t, 1, a2.GlobalIndex)
	assert.Equal(t, 2, a3.GlobalIndex)
	assert.Equal(t, 3, p.Len())
}

func TestPool_Add_FilePath(t *testing.T) {
	p := NewPool("/tmp/mutators")
	a := p.Add(7)
	a2 := p.Add(7)
	assert.Equal(t, filepath.Join("/tmp/mutators", "7_0.py"), a.FilePath)
	assert.Equal(t, filepath.Join("/tmp/mutators", "7_1.py"), a2.FilePath)
}

func TestPool_RandomSelect(t *testing.T) {
	p := NewPool("/tmp/mutators")
	assert.Nil(t, p.RandomSelect(), "empty pool yields nil")

	a := p.Add(0)
	for i := 0; i < 10; i++ {
		require.Same(t, a, p.RandomSelect())
	}

	p.Add(1)
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		seen[p.RandomSelect().GlobalIndex] = true
	}
	assert.Len(t, seen, 2, "both artifacts should be selectable")
}

func TestPool_RecordError(t *testing.T) {
	p := NewPool("/tmp/mutators")
	a := p.Add(0)
	assert.False(t, a.ErrorFlag)

	p.RecordError(a)
	p.RecordError(a)
	assert.True(t, a.ErrorFlag)
	assert.Equal(t, 2, a.ErrorCount)
}
