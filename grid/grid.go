// Package grid provides the dense 3D fields shared by a segmentation run.
package grid

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// Coord is an integer lattice position.
type Coord struct {
	I, J, K int
}

// Add returns c shifted by o.
func (c Coord) Add(o Coord) Coord {
	return Coord{c.I + o.I, c.J + o.J, c.K + o.K}
}

// Offsets6 are the face-neighbour offsets in a fixed order.
var Offsets6 = [6]Coord{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// Dims is the size of a lattice. I runs over rows, J over cols, K over slices.
type Dims struct {
	Rows   int `yaml:"rows"`
	Cols   int `yaml:"cols"`
	Slices int `yaml:"slices"`
}

// Len returns the number of cells.
func (d Dims) Len() int { return d.Rows * d.Cols * d.Slices }

// Index returns the linear index of (i,j,k). No bounds checks.
func (d Dims) Index(i, j, k int) int {
	return (k*d.Cols+j)*d.Rows + i
}

// IndexOf returns the linear index of c.
func (d Dims) IndexOf(c Coord) int { return d.Index(c.I, c.J, c.K) }

// Coord returns the lattice position of a linear index.
func (d Dims) Coord(index int) Coord {
	i := index % d.Rows
	index /= d.Rows
	return Coord{I: i, J: index % d.Cols, K: index / d.Cols}
}

// InBounds reports whether (i,j,k) lies inside the lattice.
func (d Dims) InBounds(i, j, k int) bool {
	return i >= 0 && j >= 0 && k >= 0 && i < d.Rows && j < d.Cols && k < d.Slices
}

// Clamp replicates the border for out-of-range positions.
func (d Dims) Clamp(i, j, k int) (int, int, int) {
	return clampInt(i, d.Rows-1), clampInt(j, d.Cols-1), clampInt(k, d.Slices-1)
}

// Center returns the geometric centre of the lattice in cell units.
func (d Dims) Center() r3.Vec {
	return r3.Vec{X: float64(d.Rows-1) / 2, Y: float64(d.Cols-1) / 2, Z: float64(d.Slices-1) / 2}
}

func clampInt(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// Scalar is a float32 field (level set, pressure image).
type Scalar struct {
	Dims
	Data []float32
}

// NewScalar allocates a zeroed scalar field.
func NewScalar(d Dims) *Scalar {
	return &Scalar{Dims: d, Data: make([]float32, d.Len())}
}

// At returns the value at (i,j,k).
func (s *Scalar) At(i, j, k int) float32 { return s.Data[s.Index(i, j, k)] }

// Set stores v at (i,j,k).
func (s *Scalar) Set(i, j, k int, v float32) { s.Data[s.Index(i, j, k)] = v }

// AtClamped returns the value at the nearest in-bounds position.
func (s *Scalar) AtClamped(i, j, k int) float32 {
	i, j, k = s.Clamp(i, j, k)
	return s.Data[s.Index(i, j, k)]
}

// Fill sets every cell to v.
func (s *Scalar) Fill(v float32) {
	for i := range s.Data {
		s.Data[i] = v
	}
}

// Clone returns a deep copy.
func (s *Scalar) Clone() *Scalar {
	c := &Scalar{Dims: s.Dims, Data: make([]float32, len(s.Data))}
	copy(c.Data, s.Data)
	return c
}

// CopyFrom overwrites s with o. Dimensions must match.
func (s *Scalar) CopyFrom(o *Scalar) { copy(s.Data, o.Data) }

// MinMax returns the smallest and largest values in the field.
func (s *Scalar) MinMax() (float64, float64) {
	if len(s.Data) == 0 {
		return 0, 0
	}
	vals := make([]float64, len(s.Data))
	for i, v := range s.Data {
		vals[i] = float64(v)
	}
	return floats.Min(vals), floats.Max(vals)
}

// Labels is an int32 object-id field. 0 is background.
type Labels struct {
	Dims
	Data []int32
}

// NewLabels allocates a background-filled label field.
func NewLabels(d Dims) *Labels {
	return &Labels{Dims: d, Data: make([]int32, d.Len())}
}

// At returns the label at (i,j,k).
func (l *Labels) At(i, j, k int) int32 { return l.Data[l.Index(i, j, k)] }

// Set stores v at (i,j,k).
func (l *Labels) Set(i, j, k int, v int32) { l.Data[l.Index(i, j, k)] = v }

// AtClamped returns the label at the nearest in-bounds position.
func (l *Labels) AtClamped(i, j, k int) int32 {
	i, j, k = l.Clamp(i, j, k)
	return l.Data[l.Index(i, j, k)]
}

// Clone returns a deep copy.
func (l *Labels) Clone() *Labels {
	c := &Labels{Dims: l.Dims, Data: make([]int32, len(l.Data))}
	copy(c.Data, l.Data)
	return c
}

// CopyFrom overwrites l with o. Dimensions must match.
func (l *Labels) CopyFrom(o *Labels) { copy(l.Data, o.Data) }

// Distinct returns the sorted set of non-zero labels present.
func (l *Labels) Distinct() []int32 {
	seen := make(map[int32]bool)
	var out []int32
	for _, v := range l.Data {
		if v != 0 && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sortInt32(out)
	return out
}

func sortInt32(a []int32) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

// Vector is an r3.Vec field used for advection.
type Vector struct {
	Dims
	Data []r3.Vec
}

// NewVector allocates a zero vector field.
func NewVector(d Dims) *Vector {
	return &Vector{Dims: d, Data: make([]r3.Vec, d.Len())}
}

// At returns the vector at (i,j,k).
func (v *Vector) At(i, j, k int) r3.Vec { return v.Data[v.Index(i, j, k)] }

// Set stores x at (i,j,k).
func (v *Vector) Set(i, j, k int, x r3.Vec) { v.Data[v.Index(i, j, k)] = x }

// Clone returns a deep copy.
func (v *Vector) Clone() *Vector {
	c := &Vector{Dims: v.Dims, Data: make([]r3.Vec, len(v.Data))}
	copy(c.Data, v.Data)
	return c
}

// SameDims reports whether every field shares the same dimensions.
func SameDims(d Dims, others ...Dims) bool {
	for _, o := range others {
		if o != d {
			return false
		}
	}
	return true
}
