// Package session drives a contour run from configuration: it loads or synthesises the input
// volumes, steps the contour with phase timing and feeds step records, windows, bookmarks and
// the run manifest to the telemetry output.
package session

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/contour/cache"
	"github.com/pthm-cable/contour/config"
	"github.com/pthm-cable/contour/grid"
	"github.com/pthm-cable/contour/segmentation"
	"github.com/pthm-cable/contour/telemetry"
	"github.com/pthm-cable/contour/volume"
)

// Options are the per-run settings that do not belong in the config file.
type Options struct {
	Name         string
	LabelsPath   string // initial label volume (empty = config seeds)
	DistancePath string // initial distance volume (optional)
	PressurePath string // pressure image (empty = noise if enabled, else none)
	OutputDir    string // CSV logs, manifest and final volumes (empty = disabled)
	CacheDir     string // overrides cache.dir
	LogStats     bool
}

// Session owns one contour and its telemetry.
type Session struct {
	cfg      *config.Config
	contour  *segmentation.MultiActiveContour
	cache    *cache.Cache
	logStats bool

	perf      *telemetry.PerfCollector
	collector *telemetry.Collector
	bookmarks *telemetry.BookmarkDetector
	output    *telemetry.OutputManager
	manifest  telemetry.Manifest

	lastIteration int
}

// New loads the inputs, initialises the contour and opens the output directory.
func New(cfg *config.Config, opts Options) (*Session, error) {
	if opts.Name == "" {
		opts.Name = "contour"
	}
	labels, dist, err := loadSeeds(cfg, opts)
	if err != nil {
		return nil, err
	}
	pressure, err := loadPressure(cfg, opts, labels.Dims)
	if err != nil {
		return nil, err
	}

	cacheDir := cfg.Cache.Dir
	if opts.CacheDir != "" {
		cacheDir = opts.CacheDir
	}
	var c *cache.Cache
	if cacheDir != "" {
		if c, err = cache.New(cacheDir, cfg.Cache.MaxElements); err != nil {
			return nil, err
		}
	}

	s := &Session{
		cfg:       cfg,
		cache:     c,
		logStats:  opts.LogStats,
		perf:      telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		collector: telemetry.NewCollector(cfg.Telemetry.StatsEvery),
		bookmarks: telemetry.NewBookmarkDetector(8),
	}

	s.contour = segmentation.New(opts.Name, cfg, c)
	s.contour.SetInitialLabels(labels)
	s.contour.SetInitialDistanceField(dist)
	s.contour.SetPressureImage(pressure)
	s.contour.SetPerf(s.perf)
	if err := s.contour.Init(); err != nil {
		return nil, err
	}

	if s.output, err = telemetry.NewOutputManager(opts.OutputDir); err != nil {
		s.contour.Cleanup()
		return nil, err
	}
	if err := s.output.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config snapshot", "error", err)
	}

	d := s.contour.Dims()
	s.manifest = telemetry.Manifest{
		Name:     opts.Name,
		Started:  time.Now().UTC(),
		Rows:     d.Rows,
		Cols:     d.Cols,
		Slices:   d.Slices,
		Objects:  s.contour.Objects().IDs(),
		CacheDir: cacheDir,
	}
	if err := s.output.WriteManifest(s.manifest); err != nil {
		slog.Error("failed to write manifest", "error", err)
	}
	return s, nil
}

// loadSeeds reads the initial volumes, or rasterises the configured seed spheres.
func loadSeeds(cfg *config.Config, opts Options) (*grid.Labels, *grid.Scalar, error) {
	if opts.LabelsPath == "" {
		if len(cfg.Seeds) == 0 {
			return nil, nil, fmt.Errorf("no label volume and no seeds configured")
		}
		spheres := make([]volume.Sphere, len(cfg.Seeds))
		for i, sd := range cfg.Seeds {
			spheres[i] = volume.Sphere{
				Label:  sd.Label,
				Center: r3.Vec{X: sd.X, Y: sd.Y, Z: sd.Z},
				Radius: sd.Radius,
			}
		}
		labels, dist := volume.LabelSpheres(cfg.Grid, spheres)
		return labels, dist, nil
	}

	labels, err := volume.ReadLabels(opts.LabelsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading labels: %w", err)
	}
	var dist *grid.Scalar
	if opts.DistancePath != "" {
		if dist, err = volume.ReadScalar(opts.DistancePath); err != nil {
			return nil, nil, fmt.Errorf("reading distance field: %w", err)
		}
	}
	return labels, dist, nil
}

func loadPressure(cfg *config.Config, opts Options, d grid.Dims) (*grid.Scalar, error) {
	if opts.PressurePath != "" {
		img, err := volume.ReadScalar(opts.PressurePath)
		if err != nil {
			return nil, fmt.Errorf("reading pressure image: %w", err)
		}
		return img, nil
	}
	if cfg.Pressure.Enabled {
		return volume.NoisePressure(d, cfg.Pressure.Seed, cfg.Pressure.Scale, cfg.Pressure.Octaves), nil
	}
	return nil, nil
}

// Contour returns the underlying contour.
func (s *Session) Contour() *segmentation.MultiActiveContour { return s.contour }

// Perf returns the phase timer, for frame timing in the slice viewer.
func (s *Session) Perf() *telemetry.PerfCollector { return s.perf }

// RunID returns the output run id, or "" when output is disabled.
func (s *Session) RunID() string { return s.output.RunID() }

// Step advances the contour one iteration and records telemetry.
// Returns false once the contour is complete.
func (s *Session) Step() bool {
	s.perf.StartStep()
	more := s.contour.Step()
	s.perf.StartPhase(telemetry.PhaseTelemetry)
	if it := s.contour.Iteration(); it != s.lastIteration {
		s.lastIteration = it
		s.perf.AddCells(s.contour.LastStep().ActiveCells)
		s.recordStep()
	}
	s.perf.EndStep()
	return more
}

func (s *Session) recordStep() {
	last := s.contour.LastStep()
	rec := telemetry.StepRecord{
		Iteration:     last.Iteration,
		Time:          last.Time,
		Step:          last.Step,
		ActiveCells:   last.ActiveCells,
		Added:         last.Added,
		Removed:       last.Removed,
		Objects:       last.Objects,
		MaxDelta:      last.MaxDelta,
		MaxChange:     last.MaxChange,
		Reinitialized: last.Reinitialized,
		Vanished:      len(last.Destroyed),
	}

	s.collector.Record(rec)
	if err := s.output.WriteStep(rec); err != nil {
		slog.Error("failed to write step", "error", err)
	}
	if s.logStats && s.cfg.Telemetry.StatsEvery > 0 && rec.Iteration%s.cfg.Telemetry.StatsEvery == 0 {
		slog.Info("step", "stats", rec)
	}
	s.flushTelemetry(rec)
}

// Close writes the final manifest and volumes and releases the contour.
func (s *Session) Close() error {
	defer s.contour.Cleanup()

	s.manifest.Finished = time.Now().UTC()
	s.manifest.Remaining = s.contour.Objects().IDs()
	s.manifest.Iterations = s.contour.Iteration()
	s.manifest.Time = s.contour.Time()
	s.manifest.Completed = s.contour.Completed()
	if err := s.output.WriteManifest(s.manifest); err != nil {
		slog.Error("failed to write manifest", "error", err)
	}

	if dir := s.output.Dir(); dir != "" {
		if err := volume.WriteScalar(filepath.Join(dir, "levelset.vol.gz"), s.contour.UnionLevelSet()); err != nil {
			slog.Error("failed to write level set", "error", err)
		}
		if err := volume.WriteLabels(filepath.Join(dir, "labels.vol.gz"), s.contour.Labels()); err != nil {
			slog.Error("failed to write labels", "error", err)
		}
	}

	slog.Info("session closed",
		"run_id", s.output.RunID(),
		"iterations", s.manifest.Iterations,
		"time", s.manifest.Time,
		"remaining", len(s.manifest.Remaining),
		"cache_failures", s.contour.CacheFailures(),
	)
	return s.output.Close()
}
