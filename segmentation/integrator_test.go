package segmentation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/contour/config"
	"github.com/pthm-cable/contour/grid"
	"github.com/pthm-cable/contour/volume"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	cfg.Evolve.Workers = 1
	cfg.Evolve.MaxSteps = 0
	cfg.Forces = config.ForcesConfig{}
	cfg.Cache.Every = 1
	return cfg
}

func sphereContour(t *testing.T, cfg *config.Config, d grid.Dims, spheres ...volume.Sphere) *MultiActiveContour {
	t.Helper()
	labels, dist := volume.LabelSpheres(d, spheres)
	mc := New(t.Name(), cfg, nil)
	mc.SetInitialLabels(labels)
	mc.SetInitialDistanceField(dist)
	if err := mc.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(mc.Cleanup)
	return mc
}

func twoSpheres(d grid.Dims, gap float64) []volume.Sphere {
	c := d.Center()
	return []volume.Sphere{
		{Label: 1, Center: r3.Vec{X: c.X - gap, Y: c.Y, Z: c.Z}, Radius: 3},
		{Label: 2, Center: r3.Vec{X: c.X + gap, Y: c.Y, Z: c.Z}, Radius: 3},
	}
}

func TestClaimKeepsOwnInterior(t *testing.T) {
	l, d := claim(1, []int32{1, 2}, []float64{-0.1, -0.9})
	if l != 1 || d != 0.1 {
		t.Errorf("claim = (%d, %v), want object 1 to keep its cell at 0.1", l, d)
	}
}

func TestClaimBackgroundGoesToMostNegative(t *testing.T) {
	if l, d := claim(0, []int32{1, 2}, []float64{-0.1, -0.3}); l != 2 || d != 0.3 {
		t.Errorf("claim = (%d, %v), want (2, 0.3)", l, d)
	}
	if l, _ := claim(0, []int32{1, 2}, []float64{-0.2, -0.2}); l != 1 {
		t.Errorf("tie should go to the smaller id, got %d", l)
	}
}

func TestClaimVacatedCell(t *testing.T) {
	// Object 1 left the cell; object 2 has not reached it.
	l, d := claim(1, []int32{1, 2}, []float64{0.2, 0.4})
	if l != 0 || d != 0.2 {
		t.Errorf("claim = (%d, %v), want background at 0.2", l, d)
	}
	// Object 2 moves into the vacated cell.
	if l, _ := claim(1, []int32{1, 2}, []float64{0.2, -0.05}); l != 2 {
		t.Errorf("vacated cell should go to object 2, got %d", l)
	}
}

func TestEvolveEmptyBand(t *testing.T) {
	cfg := testConfig(t)
	d := grid.Dims{Rows: 8, Cols: 8, Slices: 8}
	mc := New("empty", cfg, nil)
	mc.SetInitialLabels(grid.NewLabels(d))
	if err := mc.Init(); err != nil {
		t.Fatal(err)
	}
	defer mc.Cleanup()

	if step := mc.Evolve(0.5); step != 0 {
		t.Errorf("empty band step = %v, want 0", step)
	}
	if mc.Step() {
		t.Error("Step should report completion on an empty band")
	}
	if mc.Iteration() != 0 {
		t.Errorf("iteration = %d, want 0", mc.Iteration())
	}
}

func TestEvolveBeforeInit(t *testing.T) {
	mc := New("uninitialized", testConfig(t), nil)
	if step := mc.Evolve(0.5); step != 0 {
		t.Errorf("step before Init = %v, want 0", step)
	}
}

func TestEvolveRespectsCFL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Band.CFL = 0.4
	cfg.Band.ReinitInterval = 5
	d := grid.Dims{Rows: 24, Cols: 16, Slices: 16}
	mc := sphereContour(t, cfg, d, twoSpheres(d, 5)...)
	mc.SetPressureWeight(1)
	mc.SetCurvature(0.2)

	for i := 0; i < 25; i++ {
		step := mc.Evolve(10)
		if step <= 0 || step > 10 {
			t.Fatalf("step %d = %v", i, step)
		}
		last := mc.LastStep()
		if last.MaxChange > cfg.Band.CFL+1e-6 {
			t.Fatalf("step %d changed the level set by %v > CFL %v", i, last.MaxChange, cfg.Band.CFL)
		}
		if mc.State() != Idle {
			t.Fatalf("state after Evolve = %v", mc.State())
		}
		checkBand(t, mc.Band())
	}
	if mc.Iteration() != 25 {
		t.Errorf("iteration = %d, want 25", mc.Iteration())
	}
}

func TestDeleteElementsAfterEvolveKeepsBand(t *testing.T) {
	cfg := testConfig(t)
	d := grid.Dims{Rows: 16, Cols: 16, Slices: 16}
	mc := sphereContour(t, cfg, d, volume.Sphere{Label: 1, Center: d.Center(), Radius: 5})
	mc.SetPressureWeight(1)

	for i := 0; i < 3; i++ {
		mc.Evolve(1)
	}
	size := mc.Band().Len()
	if n := mc.Band().DeleteElements(); n != 0 {
		t.Errorf("delete after Evolve removed %d, want 0", n)
	}
	if mc.Band().Len() != size {
		t.Errorf("band size %d, want %d", mc.Band().Len(), size)
	}
	checkBand(t, mc.Band())
}

func TestEvolveStepCappedByMaxStep(t *testing.T) {
	cfg := testConfig(t)
	d := grid.Dims{Rows: 16, Cols: 16, Slices: 16}
	mc := sphereContour(t, cfg, d, volume.Sphere{Label: 1, Center: d.Center(), Radius: 4})
	mc.SetPressureWeight(0.01)

	if step := mc.Evolve(0.25); step != 0.25 {
		t.Errorf("slow front step = %v, want the 0.25 cap", step)
	}
}

func runSteps(t *testing.T, workers, threshold, steps int) (*grid.Scalar, *grid.Labels) {
	t.Helper()
	cfg := testConfig(t)
	cfg.Evolve.Workers = workers
	cfg.Evolve.ParallelThreshold = threshold
	cfg.Band.ReinitInterval = 7
	d := grid.Dims{Rows: 20, Cols: 14, Slices: 12}
	mc := sphereContour(t, cfg, d, twoSpheres(d, 4)...)
	mc.SetPressureWeight(1)
	mc.SetCurvature(0.3)
	mc.SetPressureImage(volume.NoisePressure(d, 3, 3, 2))
	mc.SetTargetPressure(0.4)

	for i := 0; i < steps; i++ {
		mc.Evolve(0.5)
	}
	return mc.LevelSet().Clone(), mc.Labels().Clone()
}

func TestEvolveDeterministic(t *testing.T) {
	ls1, lb1 := runSteps(t, 1, 0, 30)
	ls2, lb2 := runSteps(t, 1, 0, 30)
	if diff := cmp.Diff(ls1.Data, ls2.Data); diff != "" {
		t.Fatalf("level sets differ between identical runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(lb1.Data, lb2.Data); diff != "" {
		t.Fatalf("labels differ between identical runs (-first +second):\n%s", diff)
	}
}

func TestEvolveParallelMatchesSerial(t *testing.T) {
	ls1, lb1 := runSteps(t, 1, 0, 20)
	ls4, lb4 := runSteps(t, 4, 1, 20)
	if diff := cmp.Diff(ls1.Data, ls4.Data); diff != "" {
		t.Fatalf("parallel level set differs from serial (-serial +parallel):\n%s", diff)
	}
	if diff := cmp.Diff(lb1.Data, lb4.Data); diff != "" {
		t.Fatalf("parallel labels differ from serial (-serial +parallel):\n%s", diff)
	}
}

func TestReinitializeIdempotentAfterEvolve(t *testing.T) {
	cfg := testConfig(t)
	cfg.Band.ReinitInterval = 0
	d := grid.Dims{Rows: 20, Cols: 16, Slices: 16}
	mc := sphereContour(t, cfg, d, twoSpheres(d, 4)...)
	mc.SetPressureWeight(1)
	mc.SetCurvature(0.5)
	for i := 0; i < 12; i++ {
		mc.Evolve(0.5)
	}

	b := mc.Band()
	b.Reinitialize()
	once := mc.LevelSet().Clone()
	onceLabels := mc.Labels().Clone()
	b.Reinitialize()

	if diff := cmp.Diff(once.Data, mc.LevelSet().Data); diff != "" {
		t.Errorf("second reinitialize changed the level set:\n%s", diff)
	}
	if diff := cmp.Diff(onceLabels.Data, mc.Labels().Data); diff != "" {
		t.Errorf("reinitialize changed labels:\n%s", diff)
	}
	checkBand(t, b)
}

func TestObjectsNeverOverlapWhenInflating(t *testing.T) {
	cfg := testConfig(t)
	d := grid.Dims{Rows: 24, Cols: 12, Slices: 12}
	mc := sphereContour(t, cfg, d, twoSpheres(d, 5)...)
	mc.SetPressureWeight(1)

	prev := mc.Labels().Clone()
	for i := 0; i < 40; i++ {
		mc.Evolve(0.5)
		cur := mc.Labels()
		for idx, l := range prev.Data {
			if l != 0 && cur.Data[idx] != l {
				t.Fatalf("step %d: cell %d of object %d was taken by %d", i, idx, l, cur.Data[idx])
			}
		}
		prev = cur.Clone()
	}
}
