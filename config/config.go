// Package config provides configuration loading and access for segmentation runs.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/contour/grid"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all run configuration parameters.
type Config struct {
	Grid      grid.Dims       `yaml:"grid"`
	Band      BandConfig      `yaml:"band"`
	Evolve    EvolveConfig    `yaml:"evolve"`
	Forces    ForcesConfig    `yaml:"forces"`
	Seeds     []SeedConfig    `yaml:"seeds"`
	Pressure  PressureConfig  `yaml:"pressure"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Viewer    ViewerConfig    `yaml:"viewer"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// BandConfig holds narrow band parameters.
type BandConfig struct {
	MaxLayers      int     `yaml:"max_layers"`      // Layers kept on each side of a zero crossing
	ReinitInterval int     `yaml:"reinit_interval"` // Steps between full reinitializations (0 = never)
	CFL            float64 `yaml:"cfl"`             // Max level-set change per step in grid units (<= 1)
}

// EvolveConfig holds time integration parameters.
type EvolveConfig struct {
	MaxStep           float64 `yaml:"max_step"`           // Requested upper bound on the time step
	MaxSteps          int     `yaml:"max_steps"`          // Stop after N steps (0 = until the band empties)
	Workers           int     `yaml:"workers"`            // Speed evaluation workers (0 = GOMAXPROCS, 1 = serial)
	ParallelThreshold int     `yaml:"parallel_threshold"` // Minimum band size for parallel evaluation
	ClampSpeed        bool    `yaml:"clamp_speed"`        // Clamp the pressure speed to MaxSpeed
	MaxSpeed          float64 `yaml:"max_speed"`
}

// ForcesConfig holds the default per-object force weights.
type ForcesConfig struct {
	PressureWeight  float64 `yaml:"pressure_weight"`
	CurvatureWeight float64 `yaml:"curvature_weight"`
	AdvectionWeight float64 `yaml:"advection_weight"`
	TargetPressure  float64 `yaml:"target_pressure"`
}

// SeedConfig describes a spherical seed used when no label volume is given.
type SeedConfig struct {
	Label  int32   `yaml:"label"`
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Z      float64 `yaml:"z"`
	Radius float64 `yaml:"radius"`
}

// PressureConfig holds synthetic pressure image parameters.
type PressureConfig struct {
	Enabled bool    `yaml:"enabled"` // Generate a noise pressure image when none is supplied
	Seed    uint32  `yaml:"seed"`
	Scale   float64 `yaml:"scale"`   // Base noise frequency
	Octaves int     `yaml:"octaves"` // FBM octaves
}

// CacheConfig holds surface cache parameters.
type CacheConfig struct {
	Dir         string `yaml:"dir"`          // Backing directory (empty = no caching)
	MaxElements int    `yaml:"max_elements"` // Resident meshes before eviction
	Every       int    `yaml:"every"`        // Cache a surface every N steps
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	OutputDir  string `yaml:"output_dir"`
	StatsEvery int    `yaml:"stats_every"` // Log stats every N steps
	PerfWindow int    `yaml:"perf_window"` // Steps averaged by the perf collector
}

// ViewerConfig holds slice viewer settings.
type ViewerConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	TargetFPS int `yaml:"target_fps"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	MaxDistance float32 // Out-of-band distance value, MaxLayers+1
	CFL32       float32
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()

	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	if c.Band.MaxLayers < 1 {
		c.Band.MaxLayers = 3
	}
	if c.Band.CFL <= 0 || c.Band.CFL > 1 {
		c.Band.CFL = 0.5
	}
	if c.Evolve.MaxSpeed <= 0 {
		c.Evolve.MaxSpeed = 0.999
	}
	if c.Cache.MaxElements < 1 {
		c.Cache.MaxElements = 32
	}
	if c.Cache.Every < 1 {
		c.Cache.Every = 1
	}
	if c.Telemetry.PerfWindow < 1 {
		c.Telemetry.PerfWindow = 60
	}

	c.Derived.MaxDistance = float32(c.Band.MaxLayers + 1)
	c.Derived.CFL32 = float32(c.Band.CFL)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
