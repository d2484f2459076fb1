package segmentation

import (
	"math"
	"testing"

	"github.com/pthm-cable/contour/grid"
)

// neighbourhood fills a 3x3x3 stencil from fn(dx, dy, dz).
func neighbourhood(fn func(dx, dy, dz int) float64) *[27]float64 {
	var phi [27]float64
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				phi[(dx+1)+3*(dy+1)+9*(dz+1)] = fn(dx, dy, dz)
			}
		}
	}
	return &phi
}

func TestMeanCurvatureSingleVoxel(t *testing.T) {
	phi := neighbourhood(func(dx, dy, dz int) float64 {
		if dx == 0 && dy == 0 && dz == 0 {
			return -0.5
		}
		return 0.5
	})
	if k := meanCurvature(phi); math.Abs(k-6) > 1e-3 {
		t.Errorf("isolated voxel curvature = %v, want 6", k)
	}
}

func TestMeanCurvaturePlane(t *testing.T) {
	phi := neighbourhood(func(dx, dy, dz int) float64 { return float64(dx) + 0.3 })
	if k := meanCurvature(phi); math.Abs(k) > 1e-9 {
		t.Errorf("plane curvature = %v, want 0", k)
	}
}

func TestMeanCurvatureFlatIsFinite(t *testing.T) {
	phi := neighbourhood(func(dx, dy, dz int) float64 { return 2 })
	if k := meanCurvature(phi); k != 0 || math.IsNaN(k) {
		t.Errorf("flat field curvature = %v, want 0", k)
	}
}

func TestMeanCurvatureSphereSign(t *testing.T) {
	// Signed distance to a sphere of radius 4 centred 4 cells along -x: convex, so positive.
	phi := neighbourhood(func(dx, dy, dz int) float64 {
		x := float64(dx) + 4
		return math.Sqrt(x*x+float64(dy*dy+dz*dz)) - 4
	})
	k := meanCurvature(phi)
	if k <= 0 {
		t.Fatalf("convex curvature = %v, want positive", k)
	}
	if math.Abs(k-0.5) > 0.1 {
		t.Errorf("curvature = %v, want about 2/r = 0.5", k)
	}
}

func TestUpwindGradientUnitSlope(t *testing.T) {
	phi := neighbourhood(func(dx, dy, dz int) float64 { return float64(dy) })
	for _, F := range []float64{1, -1} {
		if g := upwindGradient(phi, F); math.Abs(g-1) > 1e-12 {
			t.Errorf("upwind gradient (F=%v) = %v, want 1", F, g)
		}
	}
}

func TestUpwindGradientPicksUpwindSide(t *testing.T) {
	// A kink: slope 1 behind, slope 3 ahead along z.
	phi := neighbourhood(func(dx, dy, dz int) float64 {
		if dz > 0 {
			return 3
		}
		return float64(dz)
	})
	if g := upwindGradient(phi, 1); math.Abs(g-1) > 1e-12 {
		t.Errorf("expanding front should look backward, got %v", g)
	}
	if g := upwindGradient(phi, -1); math.Abs(g-3) > 1e-12 {
		t.Errorf("shrinking front should look forward, got %v", g)
	}
}

func TestAdvectionUpwind(t *testing.T) {
	phi := neighbourhood(func(dx, dy, dz int) float64 {
		if dx > 0 {
			return 5
		}
		return float64(dx)
	})
	if v := advection(phi, 2, 0, 0); math.Abs(v-2) > 1e-12 {
		t.Errorf("positive flow uses the backward difference: got %v, want 2", v)
	}
	if v := advection(phi, -1, 0, 0); math.Abs(v+5) > 1e-12 {
		t.Errorf("negative flow uses the forward difference: got %v, want -5", v)
	}
}

func TestCellDeltaAddSortsAndDedupes(t *testing.T) {
	var c cellDelta
	for _, l := range []int32{7, 0, 3, 7, 9, 3, 1} {
		c.add(l)
	}
	want := []int32{1, 3, 7, 9}
	if c.n != len(want) {
		t.Fatalf("n = %d, want %d", c.n, len(want))
	}
	for i, l := range want {
		if c.labels[i] != l {
			t.Errorf("labels[%d] = %d, want %d", i, c.labels[i], l)
		}
	}
}

func TestPressureNormalisation(t *testing.T) {
	d := grid.Dims{Rows: 3, Cols: 1, Slices: 1}
	img := grid.NewScalar(d)
	copy(img.Data, []float32{0, 0.5, 1})

	params := paramTable{
		1: {PressureWeight: 1, TargetPressure: 0.5},
		2: {PressureWeight: 1, TargetPressure: 1},
	}
	fc := &forceContext{
		pressure: img,
		params:   params,
		norms:    newPressureNorms(params, 0, 1),
	}

	for i, want := range []float64{-1, 0, 1} {
		if got := fc.pressureAt(i, 1); math.Abs(got-want) > 1e-6 {
			t.Errorf("object 1 pressure at %d = %v, want %v", i, got, want)
		}
	}
	// Target at the top of the range: everything below maps to [-1, 0].
	if got := fc.pressureAt(0, 2); math.Abs(got+1) > 1e-6 {
		t.Errorf("object 2 pressure at 0 = %v, want -1", got)
	}
	if got := fc.pressureAt(2, 2); got != 0 {
		t.Errorf("object 2 pressure at target = %v, want 0", got)
	}

	fc.pressure = nil
	if got := fc.pressureAt(0, 1); got != 1 {
		t.Errorf("without an image pressure should be 1, got %v", got)
	}
}

func TestEvaluateCandidates(t *testing.T) {
	// Background cell 1 sits between objects 4 and 2.
	f, labels, _ := lineFields([]int32{4, 0, 2}, nil)
	b := newNarrowBand(f, 2)
	b.Rebuild(nil, labels)

	fc := &forceContext{
		f:       f,
		entries: b.Entries(),
		params:  paramTable{2: {PressureWeight: 1}, 4: {PressureWeight: 1}},
		maxDist: 3,
	}
	deltas := make([]cellDelta, b.Len())
	fc.evaluateRange(0, b.Len(), deltas)

	cd := deltas[b.slot[1]-1]
	if cd.n != 2 || cd.labels[0] != 2 || cd.labels[1] != 4 {
		t.Fatalf("candidates = %v, want [2 4]", cd.labels[:cd.n])
	}
	for k := 0; k < cd.n; k++ {
		if cd.delta[k] >= 0 {
			t.Errorf("inflating object %d should lower its level set, got %v", cd.labels[k], cd.delta[k])
		}
	}
}
