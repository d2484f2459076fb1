package volume

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/contour/grid"
)

// Sphere is a labelled spherical seed in cell units.
type Sphere struct {
	Label  int32
	Center r3.Vec
	Radius float64
}

// LabelSpheres rasterises seeds into a label field and an unsigned distance field.
// Earlier seeds win where spheres overlap. Distances are to the nearest sphere surface.
func LabelSpheres(d grid.Dims, seeds []Sphere) (*grid.Labels, *grid.Scalar) {
	labels := grid.NewLabels(d)
	dist := grid.NewScalar(d)
	for k := 0; k < d.Slices; k++ {
		for j := 0; j < d.Cols; j++ {
			for i := 0; i < d.Rows; i++ {
				p := r3.Vec{X: float64(i), Y: float64(j), Z: float64(k)}
				idx := d.Index(i, j, k)
				best := math.Inf(1)
				for _, s := range seeds {
					r := r3.Norm(r3.Sub(p, s.Center))
					if r <= s.Radius && labels.Data[idx] == 0 {
						labels.Data[idx] = s.Label
					}
					best = math.Min(best, math.Abs(r-s.Radius))
				}
				if math.IsInf(best, 1) {
					best = 0
				}
				dist.Data[idx] = float32(best)
			}
		}
	}
	return labels, dist
}

// NoisePressure fills a pressure image in [0,1] with value-noise FBM.
func NoisePressure(d grid.Dims, seed uint32, scale float64, octaves int) *grid.Scalar {
	out := grid.NewScalar(d)
	if octaves < 1 {
		octaves = 1
	}
	for k := 0; k < d.Slices; k++ {
		w := (float64(k) + 0.5) / float64(d.Slices)
		for j := 0; j < d.Cols; j++ {
			v := (float64(j) + 0.5) / float64(d.Cols)
			for i := 0; i < d.Rows; i++ {
				u := (float64(i) + 0.5) / float64(d.Rows)
				out.Set(i, j, k, float32(fbm3D(u, v, w, scale, octaves, seed)))
			}
		}
	}
	return out
}

// fbm3D sums octaves of value noise, halving amplitude and doubling frequency.
func fbm3D(u, v, w, freq float64, octaves int, seed uint32) float64 {
	sum, amp, norm := 0.0, 0.5, 0.0
	for o := 0; o < octaves; o++ {
		sum += amp * valueNoise3D(u*freq, v*freq, w*freq, seed)
		norm += amp
		freq *= 2
		amp *= 0.5
	}
	return sum / norm
}

func valueNoise3D(x, y, z float64, seed uint32) float64 {
	ix, iy, iz := math.Floor(x), math.Floor(y), math.Floor(z)
	fx, fy, fz := smoothstep(x-ix), smoothstep(y-iy), smoothstep(z-iz)
	i, j, k := int(ix), int(iy), int(iz)

	lerp := func(a, b, t float64) float64 { return a + (b-a)*t }
	c00 := lerp(hash3D(i, j, k, seed), hash3D(i+1, j, k, seed), fx)
	c10 := lerp(hash3D(i, j+1, k, seed), hash3D(i+1, j+1, k, seed), fx)
	c01 := lerp(hash3D(i, j, k+1, seed), hash3D(i+1, j, k+1, seed), fx)
	c11 := lerp(hash3D(i, j+1, k+1, seed), hash3D(i+1, j+1, k+1, seed), fx)
	return lerp(lerp(c00, c10, fy), lerp(c01, c11, fy), fz)
}

func hash3D(ix, iy, iz int, seed uint32) float64 {
	h := uint32(ix)*374761393 + uint32(iy)*668265263 + uint32(iz)*2246822519 + seed*1442695041
	h = (h ^ (h >> 13)) * 1274126177
	h ^= h >> 16
	return float64(h&0x00FFFFFF) / float64(0x01000000)
}

func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

// Gradient returns the central-difference gradient of s, one-sided at the border.
func Gradient(s *grid.Scalar) *grid.Vector {
	d := s.Dims
	out := grid.NewVector(d)
	diff := func(lo, hi float32, span int) float64 {
		if span == 0 {
			return 0
		}
		return float64(hi-lo) / float64(span)
	}
	for k := 0; k < d.Slices; k++ {
		for j := 0; j < d.Cols; j++ {
			for i := 0; i < d.Rows; i++ {
				i0, j0, k0 := d.Clamp(i-1, j-1, k-1)
				i1, j1, k1 := d.Clamp(i+1, j+1, k+1)
				out.Set(i, j, k, r3.Vec{
					X: diff(s.At(i0, j, k), s.At(i1, j, k), i1-i0),
					Y: diff(s.At(i, j0, k), s.At(i, j1, k), j1-j0),
					Z: diff(s.At(i, j, k0), s.At(i, j, k1), k1-k0),
				})
			}
		}
	}
	return out
}
