package util

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferEvictsOldest(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 3; i++ {
		assert.False(t, r.Push(i))
	}
	assert.True(t, r.Push(4))
	assert.Equal(t, []int{2, 3, 4}, r.Snapshot())
	assert.Equal(t, 3, r.Len())

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())

	r.Push(9)
	assert.Equal(t, []int{9}, r.Snapshot())
}

func TestRingBufferMinimumCapacity(t *testing.T) {
	r := NewRingBuffer[string](0)
	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"b"}, r.Snapshot())
}

func TestResolvePath(t *testing.T) {
	base := t.TempDir()
	assert.Equal(t, filepath.Join(base, "agents"), ResolvePath(base, "agents"))
	abs := filepath.Join(base, "elsewhere")
	assert.Equal(t, abs, ResolvePath("/ignored", abs))
}

func TestWriteJSONFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "x.json")
	require.NoError(t, WriteJSONFile(path, map[string]int{"n": 1}))
	assert.FileExists(t, path)
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 3*time.Second, Seconds(3, time.Minute))
	assert.Equal(t, time.Minute, Seconds(0, time.Minute))
}
