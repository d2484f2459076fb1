// Package telemetry provides step timing, per-step and windowed CSV records,
// bookmarks and run manifests for contour runs.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/contour/config"
)

// Manifest describes a run. It is written to run.yaml at start and rewritten at the end.
type Manifest struct {
	RunID      string    `yaml:"run_id"`
	Name       string    `yaml:"name"`
	Started    time.Time `yaml:"started"`
	Finished   time.Time `yaml:"finished,omitempty"`
	Rows       int       `yaml:"rows"`
	Cols       int       `yaml:"cols"`
	Slices     int       `yaml:"slices"`
	Objects    []int32   `yaml:"objects"`
	Remaining  []int32   `yaml:"remaining,omitempty"`
	Iterations int       `yaml:"iterations"`
	Time       float64   `yaml:"time"`
	Completed  bool      `yaml:"completed"`
	CacheDir   string    `yaml:"cache_dir,omitempty"`
}

// csvSink is one CSV file that writes its header with the first record.
type csvSink struct {
	file          *os.File
	headerWritten bool
}

func (s *csvSink) write(records any) error {
	if !s.headerWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, s.file); err != nil {
			return err
		}
		s.headerWritten = true
		return nil
	}
	// Subsequent writes skip headers
	return gocsv.MarshalWithoutHeaders(records, s.file)
}

// OutputManager handles structured run output with CSV logging.
type OutputManager struct {
	dir   string
	runID string

	steps     csvSink
	windows   csvSink
	perf      csvSink
	bookmarks csvSink
}

var outputFiles = []string{"steps.csv", "windows.csv", "perf.csv", "bookmarks.csv"}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	// Create output directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir, runID: uuid.NewString()}
	sinks := []*csvSink{&om.steps, &om.windows, &om.perf, &om.bookmarks}
	for i, name := range outputFiles {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", name, err)
		}
		sinks[i].file = f
	}

	return om, nil
}

// RunID returns the unique id of this run, or "" when output is disabled.
func (om *OutputManager) RunID() string {
	if om == nil {
		return ""
	}
	return om.runID
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	configPath := filepath.Join(om.dir, "config.yaml")
	return cfg.WriteYAML(configPath)
}

// WriteManifest saves the run manifest to run.yaml, stamping it with the run id.
func (om *OutputManager) WriteManifest(m Manifest) error {
	if om == nil {
		return nil
	}
	m.RunID = om.runID
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(om.dir, "run.yaml"), data, 0644); err != nil {
		return fmt.Errorf("writing run.yaml: %w", err)
	}
	return nil
}

// WriteStep writes a step record to steps.csv.
func (om *OutputManager) WriteStep(r StepRecord) error {
	if om == nil {
		return nil
	}
	if err := om.steps.write([]StepRecord{r}); err != nil {
		return fmt.Errorf("writing step: %w", err)
	}
	return nil
}

// WriteWindow writes a window stats record to windows.csv.
func (om *OutputManager) WriteWindow(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := om.windows.write([]WindowStats{stats}); err != nil {
		return fmt.Errorf("writing window: %w", err)
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int) error {
	if om == nil {
		return nil
	}
	if err := om.perf.write([]PerfStatsCSV{stats.ToCSV(windowEnd)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteBookmark writes a bookmark record to bookmarks.csv.
func (om *OutputManager) WriteBookmark(b Bookmark) error {
	if om == nil {
		return nil
	}
	if err := om.bookmarks.write([]Bookmark{b}); err != nil {
		return fmt.Errorf("writing bookmark: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, s := range []*csvSink{&om.steps, &om.windows, &om.perf, &om.bookmarks} {
		if s.file == nil {
			continue
		}
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}
	return firstErr
}
