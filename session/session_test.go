package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gocarina/gocsv"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/contour/config"
	"github.com/pthm-cable/contour/grid"
	"github.com/pthm-cable/contour/telemetry"
	"github.com/pthm-cable/contour/volume"
)

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Grid = grid.Dims{Rows: 20, Cols: 12, Slices: 12}
	cfg.Seeds = []config.SeedConfig{
		{Label: 1, X: 5, Y: 5.5, Z: 5.5, Radius: 3},
		{Label: 2, X: 14, Y: 5.5, Z: 5.5, Radius: 3},
	}
	cfg.Evolve.Workers = 1
	cfg.Evolve.MaxSteps = 6
	cfg.Telemetry.StatsEvery = 2
	return cfg
}

func TestSessionWritesRunOutput(t *testing.T) {
	out := t.TempDir()
	s, err := New(smallConfig(t), Options{Name: "small", OutputDir: out, CacheDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	steps := 0
	for s.Step() {
		steps++
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if steps != 5 {
		t.Errorf("Step returned true %d times, want 5", steps)
	}

	f, err := os.Open(filepath.Join(out, "steps.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var records []telemetry.StepRecord
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 6 {
		t.Fatalf("steps.csv has %d rows, want 6", len(records))
	}
	for i, r := range records {
		if r.Iteration != i+1 || r.Step <= 0 || r.Objects != 2 {
			t.Errorf("row %d = %+v", i, r)
		}
	}

	wf, err := os.Open(filepath.Join(out, "windows.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer wf.Close()
	var windows []telemetry.WindowStats
	if err := gocsv.UnmarshalFile(wf, &windows); err != nil {
		t.Fatal(err)
	}
	if len(windows) != 3 {
		t.Errorf("windows.csv has %d rows, want 3", len(windows))
	}

	data, err := os.ReadFile(filepath.Join(out, "run.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	var m telemetry.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m.RunID == "" || m.Iterations != 6 || !m.Completed || len(m.Remaining) != 2 {
		t.Errorf("manifest = %+v", m)
	}

	labels, err := volume.ReadLabels(filepath.Join(out, "labels.vol.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if labels.Dims != (grid.Dims{Rows: 20, Cols: 12, Slices: 12}) {
		t.Errorf("final labels dims = %+v", labels.Dims)
	}
	ls, err := volume.ReadScalar(filepath.Join(out, "levelset.vol.gz"))
	if err != nil {
		t.Fatal(err)
	}
	for idx, l := range labels.Data {
		if l != 0 && ls.Data[idx] > 0 {
			t.Fatalf("cell %d inside object %d has positive level set %v", idx, l, ls.Data[idx])
		}
	}
}

func TestSessionReadsVolumes(t *testing.T) {
	dir := t.TempDir()
	d := grid.Dims{Rows: 12, Cols: 12, Slices: 12}
	labels, dist := volume.LabelSpheres(d, []volume.Sphere{{Label: 5, Center: d.Center(), Radius: 3}})
	pressure := volume.NoisePressure(d, 7, 2, 2)

	paths := map[string]string{
		"labels":   filepath.Join(dir, "labels.vol.gz"),
		"distance": filepath.Join(dir, "distance.vol.gz"),
		"pressure": filepath.Join(dir, "pressure.vol.gz"),
	}
	if err := volume.WriteLabels(paths["labels"], labels); err != nil {
		t.Fatal(err)
	}
	if err := volume.WriteScalar(paths["distance"], dist); err != nil {
		t.Fatal(err)
	}
	if err := volume.WriteScalar(paths["pressure"], pressure); err != nil {
		t.Fatal(err)
	}

	cfg := smallConfig(t)
	s, err := New(cfg, Options{
		LabelsPath:   paths["labels"],
		DistancePath: paths["distance"],
		PressurePath: paths["pressure"],
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	mc := s.Contour()
	if mc.Dims() != d {
		t.Errorf("contour dims = %+v, want the volume's %+v", mc.Dims(), d)
	}
	if mc.PressureImage() == nil {
		t.Error("pressure image not loaded")
	}
	if ids := mc.Objects().IDs(); len(ids) != 1 || ids[0] != 5 {
		t.Errorf("objects = %v, want [5]", ids)
	}
	if s.RunID() != "" {
		t.Error("output is disabled, run id should be empty")
	}
	s.Step()
}

func TestSessionRejectsMismatchedPressure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pressure.vol.gz")
	if err := volume.WriteScalar(path, grid.NewScalar(grid.Dims{Rows: 4, Cols: 4, Slices: 4})); err != nil {
		t.Fatal(err)
	}
	if _, err := New(smallConfig(t), Options{PressurePath: path}); err == nil {
		t.Error("expected an error for a pressure image of the wrong size")
	}
}

func TestSessionNeedsSeeds(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Seeds = nil
	if _, err := New(cfg, Options{}); err == nil {
		t.Error("expected an error without seeds or a label volume")
	}
}
