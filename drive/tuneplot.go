package drive

import (
	"fmt"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/openmech/godrive/drive/encoder"
)

// SpeedPoint is one telemetry sample of a recorded step response.
type SpeedPoint struct {
	TimeS float64
	RPM   float64
}

// StepResponse runs a fresh conductor against the simulator, applies a
// setpoint step and records the measured speed for the given duration. Used
// from the dev shell to eyeball a gain set before it goes near hardware.
func StepResponse(cfg DriveConfig, setpoint int64, duration time.Duration) ([]SpeedPoint, error) {
	cfg.Driver.Kind = DriverSim
	(&cfg).ClampRanges()

	dec := encoder.NewDecoder(false)
	sim := NewSimulatedDrive(dec, cfg)
	defer sim.Close()

	conductor := NewConductor(cfg, dec, sim)
	conductor.SetSetpoint(setpoint)
	conductor.Enable()

	period := time.Duration(cfg.Control.PeriodMs) * time.Millisecond
	steps := int(duration / period)
	if steps < 1 {
		return nil, fmt.Errorf("duration %v shorter than one control period", duration)
	}

	points := make([]SpeedPoint, 0, steps)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for i := 0; i < steps; i++ {
		<-ticker.C
		conductor.Step()

		snap := conductor.Snapshot()
		points = append(points, SpeedPoint{
			TimeS: float64(i) * period.Seconds(),
			RPM:   float64(snap.MeasuredRPM),
		})
	}

	return points, nil
}

// WriteStepPlot renders a recorded step response to a PNG, with the setpoint
// drawn as a reference line.
func WriteStepPlot(points []SpeedPoint, setpoint int64, path string) error {
	if len(points) == 0 {
		return fmt.Errorf("nothing to plot")
	}

	p := plot.New()
	p.Title.Text = "step response"
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "speed (RPM)"

	speed := make(plotter.XYs, len(points))
	target := make(plotter.XYs, len(points))
	for i, pt := range points {
		speed[i].X = pt.TimeS
		speed[i].Y = pt.RPM
		target[i].X = pt.TimeS
		target[i].Y = float64(setpoint)
	}

	speedLine, err := plotter.NewLine(speed)
	if err != nil {
		return err
	}
	targetLine, err := plotter.NewLine(target)
	if err != nil {
		return err
	}
	targetLine.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}

	p.Add(speedLine, targetLine)
	p.Legend.Add("measured", speedLine)
	p.Legend.Add("setpoint", targetLine)

	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
