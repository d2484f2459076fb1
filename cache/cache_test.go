package cache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/contour/mesh"
)

func tetra(label int32, offset float64) []mesh.Manifold {
	return []mesh.Manifold{{
		Label: label,
		Color: [3]uint8{200, 40, 10},
		Vertices: []r3.Vec{
			{X: offset, Y: 0, Z: 0},
			{X: offset + 1, Y: 0, Z: 0},
			{X: offset, Y: 1, Z: 0},
			{X: offset, Y: 0, Z: 1},
		},
		Triangles: [][3]int32{{0, 2, 1}, {0, 1, 3}, {0, 3, 2}, {1, 2, 3}},
	}}
}

var meshOpts = []cmp.Option{cmpopts.EquateApprox(0, 1e-12), cmpopts.EquateEmpty()}

func TestSetThenGet(t *testing.T) {
	c, err := New(t.TempDir(), 4)
	require.NoError(t, err)

	meshA := tetra(1, 0)
	_, err = c.Set(7, meshA)
	require.NoError(t, err)

	e, err := c.Get(7)
	require.NoError(t, err)
	got, err := e.Manifolds()
	require.NoError(t, err)

	if diff := cmp.Diff(meshA, got, meshOpts...); diff != "" {
		t.Errorf("mesh mismatch (-want +got):\n%s", diff)
	}
}

func TestGetAfterUnloadReloadsFromFile(t *testing.T) {
	c, err := New(t.TempDir(), 1)
	require.NoError(t, err)

	meshA := tetra(1, 0)
	_, err = c.Set(7, meshA)
	require.NoError(t, err)
	_, err = c.Set(8, tetra(2, 5))
	require.NoError(t, err)

	evicted := c.Unload()
	assert.Equal(t, 1, evicted)

	e7, err := c.Get(7)
	require.NoError(t, err)
	assert.True(t, e7.IsLoaded())

	got, err := e7.Manifolds()
	require.NoError(t, err)
	if diff := cmp.Diff(meshA, got, meshOpts...); diff != "" {
		t.Errorf("reloaded mesh mismatch (-want +got):\n%s", diff)
	}
	assert.FileExists(t, e7.File())
}

func TestPeekDoesNotReload(t *testing.T) {
	c, err := New(t.TempDir(), 1)
	require.NoError(t, err)

	e7, err := c.Set(7, tetra(1, 0))
	require.NoError(t, err)
	ms, err := e7.Peek()
	require.NoError(t, err)
	assert.Len(t, ms, 1)

	_, err = c.Set(8, tetra(2, 5))
	require.NoError(t, err)
	require.Equal(t, 1, c.Unload())

	_, err = e7.Peek()
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.False(t, e7.IsLoaded())
}

func TestUnloadKeepsMostRecentlyTouched(t *testing.T) {
	c, err := New(t.TempDir(), 2)
	require.NoError(t, err)

	for f := 0; f < 4; f++ {
		_, err := c.Set(f, tetra(1, float64(f)))
		require.NoError(t, err)
	}
	// Touch frame 0 so it becomes the most recent.
	_, err = c.Get(0)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Unload())
	assert.Equal(t, 2, c.Resident())

	loaded := map[int]bool{}
	for _, f := range c.Frames() {
		c.mu.Lock()
		e := c.elements[f]
		c.mu.Unlock()
		loaded[f] = e.IsLoaded()
	}
	assert.Equal(t, map[int]bool{0: true, 1: false, 2: false, 3: true}, loaded)
	assert.Equal(t, 4, c.Len(), "evicted frames keep their backing files")
}

func TestUnloadWithinBoundIsNoop(t *testing.T) {
	c, err := New(t.TempDir(), 8)
	require.NoError(t, err)
	_, err = c.Set(1, tetra(1, 0))
	require.NoError(t, err)

	assert.Equal(t, 0, c.Unload())
	assert.Equal(t, 1, c.Resident())
}

func TestGetMissingFrame(t *testing.T) {
	c, err := New(t.TempDir(), 2)
	require.NoError(t, err)

	_, err = c.Get(3)
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestGetWithMissingBackingFileStaysUnloaded(t *testing.T) {
	c, err := New(t.TempDir(), 1)
	require.NoError(t, err)

	e, err := c.Set(1, tetra(1, 0))
	require.NoError(t, err)
	_, err = c.Set(2, tetra(2, 0))
	require.NoError(t, err)
	c.Unload()
	require.False(t, e.IsLoaded())

	require.NoError(t, os.Remove(e.File()))

	_, err = c.Get(1)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, e.IsLoaded())
}

func TestSetOverwrites(t *testing.T) {
	c, err := New(t.TempDir(), 2)
	require.NoError(t, err)

	_, err = c.Set(4, tetra(1, 0))
	require.NoError(t, err)
	meshB := tetra(1, 3)
	_, err = c.Set(4, meshB)
	require.NoError(t, err)

	e, err := c.Get(4)
	require.NoError(t, err)
	e.Unload()
	got, err := e.Manifolds()
	require.NoError(t, err)
	if diff := cmp.Diff(meshB, got, meshOpts...); diff != "" {
		t.Errorf("overwritten mesh mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, c.Len())
}

func TestClearRemovesFiles(t *testing.T) {
	c, err := New(t.TempDir(), 2)
	require.NoError(t, err)

	e, err := c.Set(1, tetra(1, 0))
	require.NoError(t, err)
	file := e.File()

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.NoFileExists(t, file)
	_, err = c.Get(1)
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestConcurrentAccess(t *testing.T) {
	c, err := New(t.TempDir(), 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				f := (w + i) % 6
				if _, err := c.Set(f, tetra(int32(f+1), float64(f))); err != nil {
					t.Error(err)
					return
				}
				c.Unload()
				e, err := c.Get(f)
				if err != nil {
					t.Error(err)
					return
				}
				if _, err := e.Manifolds(); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 6, c.Len())
	c.Unload()
	assert.LessOrEqual(t, c.Resident(), 3)
}

func TestElementMethodsTrackResidency(t *testing.T) {
	c, err := New(t.TempDir(), 1)
	require.NoError(t, err)

	e7, err := c.Set(7, tetra(1, 0))
	require.NoError(t, err)
	e8, err := c.Set(8, tetra(2, 5))
	require.NoError(t, err)
	require.Equal(t, 1, c.Unload())
	require.False(t, e7.IsLoaded())

	// Reload 7 and drop 8 through the elements themselves.
	_, err = e7.Manifolds()
	require.NoError(t, err)
	e8.Unload()

	assert.Equal(t, 1, c.Resident())
	assert.Equal(t, 0, c.Unload())
	assert.True(t, e7.IsLoaded())

	e9, err := c.Set(9, tetra(3, 9))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Resident())
	assert.Equal(t, 1, c.Unload(), "7 is the older resident frame")
	assert.False(t, e7.IsLoaded())
	assert.True(t, e9.IsLoaded())

	require.NoError(t, e8.Load())
	assert.Equal(t, 2, c.Resident())
}

func TestClearedElementStaysGone(t *testing.T) {
	c, err := New(t.TempDir(), 2)
	require.NoError(t, err)

	e, err := c.Set(1, tetra(1, 0))
	require.NoError(t, err)
	c.Clear()

	assert.ErrorIs(t, e.Load(), ErrNotCached)
	assert.Equal(t, 0, c.Resident())

	// A new Set starts a fresh element.
	e2, err := c.Set(1, tetra(1, 0))
	require.NoError(t, err)
	assert.NotSame(t, e, e2)
	assert.Equal(t, 1, c.Resident())
}

func TestConcurrentSetClearUnload(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1)
	require.NoError(t, err)

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					f := (w*10 + i) % 8
					if _, err := c.Set(f, tetra(int32(f+1), float64(f))); err != nil {
						t.Error(err)
						return
					}
				}
			}(w)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				c.Clear()
				c.Unload()
			}
		}()
		wg.Wait()

		c.Unload()
		require.LessOrEqual(t, c.Resident(), 1, "round %d", round)

		// Every backing file on disk belongs to a cached frame.
		files, err := filepath.Glob(filepath.Join(dir, "*.mesh.gz"))
		require.NoError(t, err)
		want := make([]string, 0, c.Len())
		for _, f := range c.Frames() {
			want = append(want, c.fileFor(f))
		}
		assert.ElementsMatch(t, want, files, "round %d", round)
	}
}
