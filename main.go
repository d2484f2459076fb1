package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/pthm-cable/contour/config"
	"github.com/pthm-cable/contour/session"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	labelsPath := flag.String("labels", "", "Initial label volume (empty = seeds from config)")
	distancePath := flag.String("distance", "", "Initial distance volume (optional)")
	pressurePath := flag.String("pressure", "", "Pressure image volume (empty = noise if enabled)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, manifest and final volumes")
	cacheDir := flag.String("cache-dir", "", "Surface cache directory (overrides config)")
	maxSteps := flag.Int("max-steps", -1, "Stop after N steps (0 = until the band empties, -1 = use config)")
	workers := flag.Int("workers", -1, "Speed evaluation workers (0 = GOMAXPROCS, -1 = use config)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	if *maxSteps >= 0 {
		cfg.Evolve.MaxSteps = *maxSteps
	}
	if *workers >= 0 {
		cfg.Evolve.Workers = *workers
	}

	s, err := session.New(cfg, session.Options{
		LabelsPath:   *labelsPath,
		DistancePath: *distancePath,
		PressurePath: *pressurePath,
		OutputDir:    *outputDir,
		CacheDir:     *cacheDir,
		LogStats:     *logStats,
	})
	if err != nil {
		slog.Error("failed to start run", "error", err)
		os.Exit(1)
	}

	slog.Info("starting segmentation",
		"run_id", s.RunID(),
		"max_steps", cfg.Evolve.MaxSteps,
		"workers", cfg.Evolve.Workers,
		"band", s.Contour().Band().Len(),
	)

	for s.Step() {
	}

	if err := s.Close(); err != nil {
		slog.Error("failed to close run output", "error", err)
		os.Exit(1)
	}
}
