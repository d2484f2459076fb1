// Package cache keeps per-frame surface snapshots for playback, backed by one file per frame.
//
// Each Element has its own lock guarding its loaded state, mesh and file. The Cache index
// (frame -> element, access stamps) has a separate lock. Callers never hold the index lock
// while acquiring an element lock; file I/O happens under the element lock only, so other
// elements stay accessible while one is being read or written. An element lock may be held
// while taking the index lock, never the other way round; this keeps the index's record of
// resident frames in step with each element's loaded state.
package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pthm-cable/contour/mesh"
)

// ErrNotCached is returned by Get for a frame that was never Set.
var ErrNotCached = errors.New("frame not cached")

// ErrNotLoaded is returned by Peek for an element whose mesh has been evicted.
var ErrNotLoaded = errors.New("frame not loaded")

// Element is one cached frame.
type Element struct {
	cache     *Cache
	mu        sync.Mutex
	frame     int
	file      string
	loaded    bool
	removed   bool // dropped by Clear
	manifolds []mesh.Manifold
}

// Frame returns the frame index.
func (e *Element) Frame() int { return e.frame }

// File returns the backing file path.
func (e *Element) File() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file
}

// IsLoaded reports whether the mesh is resident.
func (e *Element) IsLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Manifolds returns the frame's meshes, loading them from the backing file if needed.
func (e *Element) Manifolds() ([]mesh.Manifold, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(); err != nil {
		return nil, err
	}
	e.cache.touch(e)
	return e.manifolds, nil
}

// Peek returns the resident meshes without touching the backing file.
func (e *Element) Peek() ([]mesh.Manifold, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil, fmt.Errorf("frame %d: %w", e.frame, ErrNotLoaded)
	}
	return e.manifolds, nil
}

// Load reads the backing file if the element is not resident.
func (e *Element) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(); err != nil {
		return err
	}
	e.cache.touch(e)
	return nil
}

// Unload drops the resident mesh but keeps the file path for a later reload.
func (e *Element) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unloadLocked()
	e.cache.forget(e)
}

func (e *Element) loadLocked() error {
	if e.removed {
		return fmt.Errorf("frame %d: %w", e.frame, ErrNotCached)
	}
	if e.loaded {
		return nil
	}
	blob, err := os.ReadFile(e.file)
	if err != nil {
		return fmt.Errorf("loading frame %d: %w", e.frame, err)
	}
	ms, err := decodeManifolds(blob)
	if err != nil {
		return fmt.Errorf("decoding frame %d: %w", e.frame, err)
	}
	e.manifolds = ms
	e.loaded = true
	return nil
}

func (e *Element) unloadLocked() {
	e.manifolds = nil
	e.loaded = false
}

func (e *Element) setLocked(ms []mesh.Manifold) error {
	blob, err := encodeManifolds(ms)
	if err != nil {
		return fmt.Errorf("encoding frame %d: %w", e.frame, err)
	}
	if err := os.WriteFile(e.file, blob, 0644); err != nil {
		return fmt.Errorf("writing frame %d: %w", e.frame, err)
	}
	e.manifolds = ms
	e.loaded = true
	return nil
}

// Cache maps frame indices to lazily loaded surface snapshots.
type Cache struct {
	dir         string
	maxElements int

	mu       sync.Mutex
	elements map[int]*Element
	stamps   map[int]uint64 // loaded frames still in elements -> last access counter
	counter  uint64
}

// New creates a cache writing backing files under dir and keeping at most
// maxElements meshes resident after Unload.
func New(dir string, maxElements int) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	if maxElements < 1 {
		maxElements = 32
	}
	return &Cache{
		dir:         dir,
		maxElements: maxElements,
		elements:    make(map[int]*Element),
		stamps:      make(map[int]uint64),
	}, nil
}

// Dir returns the backing directory.
func (c *Cache) Dir() string { return c.dir }

// Len returns the number of cached frames, resident or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.elements)
}

// Resident returns the number of frames whose mesh is in memory.
func (c *Cache) Resident() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stamps)
}

// Frames returns the cached frame indices in ascending order.
func (c *Cache) Frames() []int {
	c.mu.Lock()
	frames := make([]int, 0, len(c.elements))
	for f := range c.elements {
		frames = append(frames, f)
	}
	c.mu.Unlock()
	sort.Ints(frames)
	return frames
}

func (c *Cache) fileFor(frame int) string {
	return filepath.Join(c.dir, fmt.Sprintf("frame%06d.mesh.gz", frame))
}

// Set stores (or overwrites) the meshes for a frame and writes the backing file.
func (c *Cache) Set(frame int, ms []mesh.Manifold) (*Element, error) {
	for {
		c.mu.Lock()
		e, ok := c.elements[frame]
		if !ok {
			e = &Element{cache: c, frame: frame, file: c.fileFor(frame)}
			c.elements[frame] = e
		}
		c.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			// Cleared since the lookup; the next lookup creates a fresh element.
			e.mu.Unlock()
			continue
		}
		err := e.setLocked(ms)
		if err == nil {
			c.touch(e)
		}
		e.mu.Unlock()
		return e, err
	}
}

// Get returns the element for a frame, loading its mesh from disk if it was evicted.
// A missing or unreadable backing file is reported and the element stays unloaded.
func (c *Cache) Get(frame int) (*Element, error) {
	c.mu.Lock()
	e, ok := c.elements[frame]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("frame %d: %w", frame, ErrNotCached)
	}

	if err := e.Load(); err != nil {
		return e, err
	}
	return e, nil
}

// touch marks a loaded element as the most recently used. Elements no longer in the
// index are ignored. The caller holds e.mu.
func (c *Cache) touch(e *Element) {
	c.mu.Lock()
	if c.elements[e.frame] == e {
		c.counter++
		c.stamps[e.frame] = c.counter
	}
	c.mu.Unlock()
}

// forget drops an unloaded element from the resident set. The caller holds e.mu.
func (c *Cache) forget(e *Element) {
	c.mu.Lock()
	if c.elements[e.frame] == e {
		delete(c.stamps, e.frame)
	}
	c.mu.Unlock()
}

// Unload evicts the least recently touched resident meshes until at most maxElements remain.
// Returns the number of elements evicted.
func (c *Cache) Unload() int {
	type victim struct {
		frame int
		stamp uint64
		elem  *Element
	}

	c.mu.Lock()
	if len(c.stamps) <= c.maxElements {
		c.mu.Unlock()
		return 0
	}
	resident := make([]victim, 0, len(c.stamps))
	for f, s := range c.stamps {
		if e := c.elements[f]; e != nil {
			resident = append(resident, victim{frame: f, stamp: s, elem: e})
		}
	}
	c.mu.Unlock()

	if len(resident) <= c.maxElements {
		return 0
	}
	sort.Slice(resident, func(i, j int) bool { return resident[i].stamp < resident[j].stamp })
	victims := resident[:len(resident)-c.maxElements]

	evicted := 0
	for _, v := range victims {
		v.elem.mu.Lock()
		c.mu.Lock()
		// Skip frames touched again or cleared since selection.
		current, ok := c.stamps[v.frame]
		fresh := ok && current == v.stamp && c.elements[v.frame] == v.elem
		if fresh {
			delete(c.stamps, v.frame)
		}
		c.mu.Unlock()
		if fresh {
			v.elem.unloadLocked()
			evicted++
		}
		v.elem.mu.Unlock()
	}

	if evicted > 0 {
		slog.Debug("cache unload", "evicted", evicted, "resident", c.Resident())
	}
	return evicted
}

// Clear empties the cache and removes every backing file.
func (c *Cache) Clear() {
	c.mu.Lock()
	elems := make([]*Element, 0, len(c.elements))
	for _, e := range c.elements {
		elems = append(elems, e)
	}
	c.elements = make(map[int]*Element)
	c.stamps = make(map[int]uint64)
	c.mu.Unlock()

	for _, e := range elems {
		e.mu.Lock()
		e.unloadLocked()
		e.removed = true
		if err := os.Remove(e.file); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("removing cache file", "file", e.file, "error", err)
		}
		e.mu.Unlock()
	}
}

// encodeManifolds compresses meshes using gob encoding and gzip compression.
func encodeManifolds(ms []mesh.Manifold) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(ms); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeManifolds decompresses and decodes meshes from a gob+gzip blob.
func decodeManifolds(blob []byte) ([]mesh.Manifold, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty mesh blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var ms []mesh.Manifold
	if err := gob.NewDecoder(gz).Decode(&ms); err != nil {
		return nil, fmt.Errorf("failed to decode meshes: %w", err)
	}
	return ms, nil
}
