// Slice viewer - steps a contour run and shows one z slice with force sliders.
//
// Usage: go run ./cmd/sliceviewer -config run.yaml
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"os"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/contour/camera"
	"github.com/pthm-cable/contour/config"
	"github.com/pthm-cable/contour/segmentation"
	"github.com/pthm-cable/contour/session"
	"github.com/pthm-cable/contour/volume"
)

const previewSize = 560

// ForceParams holds the slider values applied to every object.
type ForceParams struct {
	Pressure  float32
	Target    float32
	Curvature float32
	Advection float32
}

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	labelsPath := flag.String("labels", "", "Initial label volume (empty = seeds from config)")
	pressurePath := flag.String("pressure", "", "Pressure image volume")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs")
	flag.Parse()

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	s, err := session.New(cfg, session.Options{
		Name:         "sliceviewer",
		LabelsPath:   *labelsPath,
		PressurePath: *pressurePath,
		OutputDir:    *outputDir,
	})
	if err != nil {
		slog.Error("failed to start run", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	mc := s.Contour()
	if img := mc.PressureImage(); img != nil {
		mc.SetVectorField(volume.Gradient(img), cfg.Forces.AdvectionWeight)
	}
	d := mc.Dims()

	width, height := cfg.Viewer.Width, cfg.Viewer.Height
	panelWidth := width - previewSize - 30
	rl.InitWindow(int32(width), int32(height), "Contour Slice Viewer")
	defer rl.CloseWindow()
	rl.SetTargetFPS(int32(cfg.Viewer.TargetFPS))

	params := ForceParams{
		Pressure:  float32(cfg.Forces.PressureWeight),
		Target:    float32(cfg.Forces.TargetPressure),
		Curvature: float32(cfg.Forces.CurvatureWeight),
		Advection: float32(cfg.Forces.AdvectionWeight),
	}

	// Texture is rows x cols of the current slice
	img := rl.GenImageColor(d.Rows, d.Cols, rl.Black)
	texture := rl.LoadTextureFromImage(img)
	rl.UnloadImage(img)
	defer rl.UnloadTexture(texture)
	pixels := make([]color.RGBA, d.Rows*d.Cols)

	cam := camera.New(previewSize, previewSize, d.Rows, d.Cols)
	slice := d.Slices / 2
	running := true
	done := false

	for !rl.WindowShouldClose() {
		s.Perf().RecordFrame()

		if running && !done {
			done = !s.Step()
		} else if rl.IsKeyPressed(rl.KeyN) && !done {
			done = !s.Step()
		}

		handleCameraInput(cam)

		renderSlice(mc, slice, pixels)
		rl.UpdateTexture(texture, pixels)

		rl.BeginDrawing()
		rl.ClearBackground(rl.RayWhite)

		// Visible part of the slice, placed where the camera puts it
		minX, minY, maxX, maxY := cam.VisibleWorldBounds()
		sx0, sy0 := cam.WorldToScreen(minX, minY)
		sx1, sy1 := cam.WorldToScreen(maxX, maxY)
		rl.DrawTexturePro(
			texture,
			rl.Rectangle{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY},
			rl.Rectangle{X: 10 + sx0, Y: 10 + sy0, Width: sx1 - sx0, Height: sy1 - sy0},
			rl.Vector2{X: 0, Y: 0},
			0,
			rl.White,
		)
		rl.DrawRectangleLines(10, 10, previewSize, previewSize, rl.DarkGray)

		// Stats
		last := mc.LastStep()
		perf := s.Perf().Stats()
		statsY := int32(previewSize + 25)
		rl.DrawText(fmt.Sprintf("Iteration: %d  Time: %.2f  Step: %.3f", mc.Iteration(), mc.Time(), last.Step), 15, statsY, 16, rl.DarkGray)
		rl.DrawText(fmt.Sprintf("Band: %d  Objects: %d  +%d -%d", mc.Band().Len(), mc.Objects().Len(), last.Added, last.Removed), 15, statsY+20, 16, rl.DarkGray)
		rl.DrawText(fmt.Sprintf("%.0f FPS  %.0f steps/s  %.0f cells/s  %s", perf.FPS, perf.StepsPerSecond, perf.CellsPerSecond, mc.State()), 15, statsY+40, 16, rl.DarkGray)
		mouse := rl.GetMousePosition()
		if i, j, ok := cam.CellAt(mouse.X-10, mouse.Y-10); ok && mouse.X < 10+previewSize && mouse.Y < 10+previewSize {
			idx := d.Index(i, j, slice)
			rl.DrawText(fmt.Sprintf("Cell (%d, %d, %d)  label %d  distance %.3f", i, j, slice,
				mc.Labels().Data[idx], mc.LevelSet().Data[idx]), 15, statsY+60, 16, rl.DarkGray)
		}
		if done {
			rl.DrawText("Complete", 15, statsY+80, 16, rl.Maroon)
		}

		// Control panel
		panelX := float32(previewSize + 20)
		panelY := float32(10)

		rl.DrawText("Forces", int32(panelX), int32(panelY), 20, rl.DarkGray)
		panelY += 35

		slider := func(label, lo, hi string, value, minV, maxV float32) float32 {
			rl.DrawText(label, int32(panelX), int32(panelY), 14, rl.Gray)
			panelY += 18
			v := gui.SliderBar(
				rl.Rectangle{X: panelX, Y: panelY, Width: float32(panelWidth - 80), Height: 20},
				lo, hi, value, minV, maxV,
			)
			rl.DrawText(fmt.Sprintf("%.2f", v), int32(panelX+float32(panelWidth-70)), int32(panelY+2), 16, rl.DarkGray)
			panelY += 35
			return v
		}

		if v := slider("Pressure weight", "-2", "2", params.Pressure, -2, 2); v != params.Pressure {
			params.Pressure = v
			mc.SetPressureWeight(float64(v))
		}
		if v := slider("Target pressure", "0", "1", params.Target, 0, 1); v != params.Target {
			params.Target = v
			mc.SetTargetPressure(float64(v))
		}
		if v := slider("Curvature weight", "0", "2", params.Curvature, 0, 2); v != params.Curvature {
			params.Curvature = v
			mc.SetCurvature(float64(v))
		}
		if v := slider("Advection weight", "0", "2", params.Advection, 0, 2); v != params.Advection {
			params.Advection = v
			mc.SetAdvection(float64(v))
		}

		// Separator
		rl.DrawLine(int32(panelX), int32(panelY), int32(panelX)+int32(panelWidth)-20, int32(panelY), rl.LightGray)
		panelY += 15

		if v := slider("Slice (z)", "0", fmt.Sprint(d.Slices-1), float32(slice), 0, float32(d.Slices-1)); int(v) != slice {
			slice = int(v)
		}

		// Buttons
		if gui.Button(rl.Rectangle{X: panelX, Y: panelY, Width: 120, Height: 30}, toggleText(running, "Pause", "Run")) {
			running = !running
		}
		if gui.Button(rl.Rectangle{X: panelX + 130, Y: panelY, Width: 120, Height: 30}, "Step") && !done {
			done = !s.Step()
		}
		panelY += 45

		// Object legend
		for _, l := range mc.Objects().IDs() {
			c, _ := mc.Objects().Color(l)
			r, g, b := c.RGB255()
			st, _ := mc.Objects().Stats(l)
			rl.DrawRectangle(int32(panelX), int32(panelY), 14, 14, rl.Color{R: r, G: g, B: b, A: 255})
			rl.DrawText(fmt.Sprintf("object %d  band %d  boundary %d", l, st.BandCells, st.BoundaryCells), int32(panelX+20), int32(panelY), 14, rl.DarkGray)
			panelY += 18
		}

		rl.DrawText("N: single step while paused  Wheel/+/-: zoom  Arrows: pan  Home: reset view", int32(panelX), int32(height-30), 12, rl.LightGray)

		rl.EndDrawing()
	}
}

// handleCameraInput processes slice pan/zoom controls.
func handleCameraInput(cam *camera.Camera) {
	// Pan speed in screen pixels, so the same at every zoom
	panSpeed := float32(8.0)

	if rl.IsKeyDown(rl.KeyRight) {
		cam.Pan(panSpeed, 0)
	}
	if rl.IsKeyDown(rl.KeyLeft) {
		cam.Pan(-panSpeed, 0)
	}
	if rl.IsKeyDown(rl.KeyDown) {
		cam.Pan(0, panSpeed)
	}
	if rl.IsKeyDown(rl.KeyUp) {
		cam.Pan(0, -panSpeed)
	}

	if wheelMove := rl.GetMouseWheelMove(); wheelMove != 0 {
		cam.ZoomBy(1 + wheelMove*0.1)
	}
	if rl.IsKeyPressed(rl.KeyEqual) || rl.IsKeyPressed(rl.KeyKpAdd) {
		cam.ZoomBy(1.25)
	}
	if rl.IsKeyPressed(rl.KeyMinus) || rl.IsKeyPressed(rl.KeyKpSubtract) {
		cam.ZoomBy(0.8)
	}
	if rl.IsKeyPressed(rl.KeyHome) {
		cam.Reset()
	}
}

func toggleText(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}

// renderSlice colours one z slice: objects in their colour, background grey, both darkened
// with distance from the nearest interface.
func renderSlice(mc *segmentation.MultiActiveContour, k int, pixels []color.RGBA) {
	d := mc.Dims()
	levelSet := mc.LevelSet()
	labels := mc.Labels()
	maxDist := float64(mc.Band().MaxLayers() + 1)

	for j := 0; j < d.Cols; j++ {
		for i := 0; i < d.Rows; i++ {
			idx := d.Index(i, j, k)
			shade := 1 - 0.6*math.Min(float64(levelSet.Data[idx])/maxDist, 1)

			r, g, b := uint8(90), uint8(90), uint8(100)
			if l := labels.Data[idx]; l != 0 {
				if c, ok := mc.Objects().Color(l); ok {
					r, g, b = c.RGB255()
				}
			}
			pixels[j*d.Rows+i] = color.RGBA{
				R: uint8(float64(r) * shade),
				G: uint8(float64(g) * shade),
				B: uint8(float64(b) * shade),
				A: 255,
			}
		}
	}
}
