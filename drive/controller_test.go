package drive

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/openmech/godrive/drive/control"
	"github.com/openmech/godrive/drive/encoder"
)

type testDriver struct {
	mu   sync.Mutex
	last control.Command
	sets int
}

func (d *testDriver) SetOutput(cmd control.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = cmd
	d.sets++
	return nil
}

func (d *testDriver) EStop() error { return d.SetOutput(control.Command{}) }
func (d *testDriver) Close() error { return nil }

func (d *testDriver) lastCmd() control.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// testConfig uses a 1-tick measurement window so every control period is a
// window boundary, and unity Kp with no I/D so efforts are easy to predict:
// effort == setpoint - feedback.
func testConfig() DriveConfig {
	cfg := DriveConfig{
		Version: 1,
		Control: ControlConfig{
			PeriodMs:      1,
			FracBits:      16,
			Kp:            1 << 16,
			IntegralClamp: 100000,
			OutputMax:     10000,
			DeadZone:      350,
			Mode:          ModeVelocity,
		},
		Encoder: EncoderConfig{
			CountsPerRev: 600,
			WindowTicks:  1,
		},
		Stall: StallConfig{
			ThresholdRPM: 30,
			HoldMs:       10,
		},
		Driver: DriverConfig{Kind: DriverSim},
	}
	(&cfg).ClampRanges()
	return cfg
}

// quadSpinner feeds hand-rolled quadrature edges into a decoder, keeping the
// phase sequence consistent across calls.
type quadSpinner struct {
	dec *encoder.Decoder
	idx int
}

var quadPhases = [4][2]bool{{false, false}, {false, true}, {true, true}, {true, false}}

func (q *quadSpinner) spin(counts int) {
	step := 1
	if counts < 0 {
		step = -1
		counts = -counts
	}
	for i := 0; i < counts; i++ {
		q.idx = (q.idx + step + 4) % 4
		p := quadPhases[q.idx]
		q.dec.Transition(p[0], p[1])
	}
}

func TestConductorTracking(t *testing.T) {
	Convey("a disabled conductor outputs nothing", t, func() {
		dec := encoder.NewDecoder(false)
		driver := new(testDriver)
		c := NewConductor(testConfig(), dec, driver)

		c.SetSetpoint(1000)
		for i := 0; i < 5; i++ {
			c.Step()
		}

		So(driver.lastCmd(), ShouldResemble, control.Command{})
		So(c.Snapshot().State, ShouldEqual, "idle")
	})

	Convey("commanded direction matches the sign of the error", t, func() {
		dec := encoder.NewDecoder(false)
		driver := new(testDriver)
		c := NewConductor(testConfig(), dec, driver)
		c.Enable()

		Convey("positive setpoint drives forward", func() {
			c.SetSetpoint(1000)
			c.Step()
			cmd := driver.lastCmd()
			So(cmd.Forward, ShouldBeTrue)
			So(cmd.Duty, ShouldEqual, 1000) // Kp=1, feedback 0
		})

		Convey("negative setpoint drives reverse", func() {
			c.SetSetpoint(-1000)
			c.Step()
			cmd := driver.lastCmd()
			So(cmd.Forward, ShouldBeFalse)
			So(cmd.Duty, ShouldEqual, 1000)
		})
	})

	Convey("errors inside the dead zone command zero duty", t, func() {
		dec := encoder.NewDecoder(false)
		driver := new(testDriver)
		c := NewConductor(testConfig(), dec, driver)
		c.Enable()
		c.SetSetpoint(100) // Kp=1 -> effort 100, below the 350 dead zone

		c.Step()
		So(driver.lastCmd().Duty, ShouldEqual, 0)
	})

	Convey("measured speed feeds back into the loop", t, func() {
		dec := encoder.NewDecoder(false)
		driver := new(testDriver)
		c := NewConductor(testConfig(), dec, driver)
		spinner := &quadSpinner{dec: dec}
		c.Enable()
		c.SetSetpoint(1000)

		c.Step() // first window after enable is suppressed

		// 600 cpr at a 1 ms window: 5 counts/period is 500 RPM
		spinner.spin(5)
		c.Step()
		So(c.Snapshot().MeasuredRPM, ShouldEqual, 500)

		spinner.spin(5)
		c.Step()
		So(driver.lastCmd().Duty, ShouldEqual, 500) // err = 1000 - 500
	})
}

func TestConductorStallFault(t *testing.T) {
	Convey("a commanded but motionless drive faults and latches", t, func() {
		dec := encoder.NewDecoder(false)
		driver := new(testDriver)
		c := NewConductor(testConfig(), dec, driver) // stall hold: 10 periods
		c.Enable()
		c.SetSetpoint(1000)

		for period := 1; period <= 9; period++ {
			c.Step()
			So(c.Snapshot().State, ShouldEqual, "running")
		}

		c.Step() // 10th consecutive stalled period
		snap := c.Snapshot()
		So(snap.State, ShouldEqual, "fault")
		So(snap.FaultLatched, ShouldBeTrue)
		So(driver.lastCmd(), ShouldResemble, control.Command{})

		Convey("the fault survives the encoder waking up", func() {
			spinner := &quadSpinner{dec: dec}
			for i := 0; i < 20; i++ {
				spinner.spin(8)
				c.Step()
			}
			So(c.Snapshot().FaultLatched, ShouldBeTrue)
			So(driver.lastCmd(), ShouldResemble, control.Command{})

			Convey("until an explicit disable/enable cycle", func() {
				c.Disable()
				c.Step()
				So(c.Snapshot().State, ShouldEqual, "idle")
				So(c.Snapshot().FaultLatched, ShouldBeFalse)

				c.Enable()
				c.Step()
				So(c.Snapshot().State, ShouldEqual, "running")
			})
		})
	})
}

func TestConductorBraking(t *testing.T) {
	Convey("disabling at speed brakes until near zero", t, func() {
		dec := encoder.NewDecoder(false)
		driver := new(testDriver)
		c := NewConductor(testConfig(), dec, driver)
		spinner := &quadSpinner{dec: dec}

		c.Enable()
		c.SetSetpoint(500)
		c.Step() // suppressed first window
		spinner.spin(5)
		c.Step()
		So(c.Snapshot().MeasuredRPM, ShouldEqual, 500)

		c.Disable()
		spinner.spin(5)
		c.Step()
		So(c.Snapshot().State, ShouldEqual, "braking")
		So(driver.lastCmd(), ShouldResemble, control.Command{Brake: true})

		Convey("holds brake while still turning", func() {
			for _, counts := range []int{4, 3, 2, 1} {
				spinner.spin(counts)
				c.Step()
				So(c.Snapshot().State, ShouldEqual, "braking")
				So(driver.lastCmd().Brake, ShouldBeTrue)
			}

			Convey("and settles to idle once stopped", func() {
				c.Step() // no motion: measured speed 0
				So(c.Snapshot().State, ShouldEqual, "idle")
				So(driver.lastCmd(), ShouldResemble, control.Command{})
			})
		})
	})
}

func TestConductorRetune(t *testing.T) {
	Convey("retuning is refused while enabled", t, func() {
		dec := encoder.NewDecoder(false)
		c := NewConductor(testConfig(), dec, new(testDriver))
		c.Enable()
		c.Step()

		err := c.Retune(testConfig().Control)
		So(err, ShouldEqual, ErrNotIdle)
	})

	Convey("retuning while idle swaps the gains", t, func() {
		dec := encoder.NewDecoder(false)
		driver := new(testDriver)
		c := NewConductor(testConfig(), dec, driver)

		newCfg := testConfig().Control
		newCfg.Kp = 2 << 16
		So(c.Retune(newCfg), ShouldBeNil)

		c.Enable()
		c.SetSetpoint(1000)
		c.Step()
		So(driver.lastCmd().Duty, ShouldEqual, 2000) // Kp=2 against feedback 0
	})
}

func TestConductorPositionMode(t *testing.T) {
	Convey("position mode regulates the accumulated count", t, func() {
		cfg := testConfig()
		cfg.Control.Mode = ModePosition
		dec := encoder.NewDecoder(false)
		driver := new(testDriver)
		c := NewConductor(cfg, dec, driver)
		spinner := &quadSpinner{dec: dec}

		c.Enable()
		c.SetSetpoint(400) // target: 400 counts past the enable baseline
		c.Step()
		So(driver.lastCmd().Duty, ShouldEqual, 400)

		spinner.spin(400)
		c.Step()
		So(driver.lastCmd().Duty, ShouldEqual, 0) // on target
	})
}
