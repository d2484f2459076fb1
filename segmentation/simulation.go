package segmentation

import (
	"fmt"
	"log/slog"
)

// Simulation is an iterative process driven one step at a time by a host loop.
type Simulation interface {
	Name() string
	// Init prepares the simulation. It must be called once before Step.
	Init() error
	// Step advances one iteration and returns false once the simulation is complete.
	Step() bool
	// Cleanup releases resources. The simulation must not be stepped afterwards.
	Cleanup()
	Iteration() int
	Time() float64
}

var _ Simulation = (*MultiActiveContour)(nil)

// Run initialises sim and steps it until it completes. after is called following every
// step; returning false stops the run early. Cleanup always runs once Init succeeded.
func Run(sim Simulation, after func(Simulation) bool) error {
	if err := sim.Init(); err != nil {
		return fmt.Errorf("initializing %s: %w", sim.Name(), err)
	}
	defer sim.Cleanup()

	for {
		more := sim.Step()
		if after != nil && !after(sim) {
			slog.Info("run stopped", "name", sim.Name(), "iteration", sim.Iteration())
			return nil
		}
		if !more {
			break
		}
	}
	slog.Info("run complete", "name", sim.Name(), "iteration", sim.Iteration(), "time", sim.Time())
	return nil
}
