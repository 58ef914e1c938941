package drive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openmech/godrive/drive/control"
	"github.com/openmech/godrive/drive/encoder"
)

var (
	ErrNotIdle = errors.New("drive must be disabled and idle")
)

// Driver is the actuation output stage: a CAN node, a serial board or the
// simulator. SetOutput is called once per control period and must not block
// on acknowledgements.
type Driver interface {
	SetOutput(cmd control.Command) error
	EStop() error
	Close() error
}

// Telemetry is the per-period diagnostics snapshot polled by collaborators:
// the shell, the HTTP API and the websocket stream.
type Telemetry struct {
	Tick         uint64 `json:"tick"`
	State        string `json:"state"`
	FaultLatched bool   `json:"fault_latched"`
	Enabled      bool   `json:"enabled"`
	SetpointRPM  int64  `json:"setpoint_rpm"`
	MeasuredRPM  int64  `json:"measured_rpm"`
	Duty         int64  `json:"duty"`
	Forward      bool   `json:"forward"`
	Brake        bool   `json:"brake"`
	EncoderCount int64  `json:"encoder_count"`
	NoiseEvents  int64  `json:"noise_events"`
}

// Conductor owns the periodic control chain: speed estimation, the PID
// engine, the actuation mapper and the supervisor all advance together once
// per control period on a single goroutine. The only state shared with other
// schedules is the encoder's atomic counter and the setpoint/enable inputs,
// which are sampled at period boundaries.
type Conductor struct {
	cfg    DriveConfig
	dec    *encoder.Decoder
	est    *encoder.SpeedEstimator
	pid    *control.PID
	sup    *control.Supervisor
	driver Driver

	setpoint atomic.Int64
	enabled  atomic.Bool

	// stepLock serialises the periodic task against the rare Retune call;
	// everything under it is otherwise owned by the periodic task
	stepLock  sync.Mutex
	lastSpeed encoder.SpeedSample
	baseline  int64
	ticks     uint64

	snapLock sync.RWMutex
	snap     Telemetry
}

func NewConductor(cfg DriveConfig, dec *encoder.Decoder, driver Driver) *Conductor {
	return &Conductor{
		cfg: cfg,
		dec: dec,
		est: encoder.NewSpeedEstimator(encoder.SpeedConfig{
			CountsPerRev: cfg.Encoder.CountsPerRev,
			WindowTicks:  cfg.Encoder.WindowTicks,
			PeriodMs:     cfg.Control.PeriodMs,
		}),
		pid: control.NewPID(control.PIDConfig{
			Kp:            cfg.Control.Kp,
			Ki:            cfg.Control.Ki,
			Kd:            cfg.Control.Kd,
			FracBits:      cfg.Control.FracBits,
			IntegralClamp: cfg.Control.IntegralClamp,
			OutputMax:     cfg.Control.OutputMax,
		}),
		sup: control.NewSupervisor(control.SupervisorConfig{
			DeadZone:    cfg.Control.DeadZone,
			NearZeroRPM: cfg.Stall.ThresholdRPM,
			StallTicks:  cfg.StallTicks(),
		}),
		driver: driver,
	}
}

func (c *Conductor) SetSetpoint(rpm int64) { c.setpoint.Store(rpm) }
func (c *Conductor) Setpoint() int64       { return c.setpoint.Load() }
func (c *Conductor) Enable()               { c.enabled.Store(true) }
func (c *Conductor) Disable()              { c.enabled.Store(false) }
func (c *Conductor) Enabled() bool         { return c.enabled.Load() }

// Run drives the control chain at the configured period until the context is
// cancelled, then cuts the output.
func (c *Conductor) Run(ctx context.Context) error {
	period := time.Duration(c.cfg.Control.PeriodMs) * time.Millisecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.driver.SetOutput(control.Command{})
			return ctx.Err()

		case <-ticker.C:
			c.Step()
		}
	}
}

// Step advances exactly one control period. Exported so tests and the
// step-response recorder can drive the chain without wall-clock time.
func (c *Conductor) Step() {
	c.stepLock.Lock()
	defer c.stepLock.Unlock()

	enable := c.enabled.Load()
	count := c.dec.Count()

	// disabled->enabled transition: zero the control history and rebase the
	// measurement window before anything runs on stale state
	if enable && c.sup.State() == control.StateIdle {
		c.pid.Reset()
		c.est.Rebase(count)
		c.baseline = count
		c.dec.TakeActivity()
	}

	if sample := c.est.Tick(count); sample.Valid {
		c.lastSpeed = sample
	}

	feedback := c.lastSpeed.RPM
	if c.cfg.Control.Mode == ModePosition {
		feedback = count - c.baseline
	}

	effort := c.pid.Step(c.setpoint.Load(), feedback, enable)
	cmd := control.MapActuation(effort, c.cfg.Control.DeadZone)

	final := c.sup.Resolve(enable, cmd, c.lastSpeed.RPM, c.dec.TakeActivity())
	c.driver.SetOutput(final)

	c.ticks++
	c.publish(final, enable)
}

// Snapshot returns the latest telemetry. Safe to call from any goroutine.
func (c *Conductor) Snapshot() Telemetry {
	c.snapLock.RLock()
	defer c.snapLock.RUnlock()
	return c.snap
}

// EStop disables the loop and cuts the output stage through the driver's
// acknowledged emergency path. The supervisor sequences Braking -> Idle as
// usual on the following periods.
func (c *Conductor) EStop() error {
	c.enabled.Store(false)
	return c.driver.EStop()
}

// Retune swaps the control-law numerics for a saved tuning profile. Only
// permitted while the drive is disabled and idle: configuration is immutable
// while running.
func (c *Conductor) Retune(cfg ControlConfig) error {
	c.stepLock.Lock()
	defer c.stepLock.Unlock()

	if c.enabled.Load() || c.sup.State() != control.StateIdle {
		return ErrNotIdle
	}

	c.cfg.Control = cfg
	(&c.cfg).ClampRanges()
	c.pid = control.NewPID(control.PIDConfig{
		Kp:            c.cfg.Control.Kp,
		Ki:            c.cfg.Control.Ki,
		Kd:            c.cfg.Control.Kd,
		FracBits:      c.cfg.Control.FracBits,
		IntegralClamp: c.cfg.Control.IntegralClamp,
		OutputMax:     c.cfg.Control.OutputMax,
	})
	c.sup = control.NewSupervisor(control.SupervisorConfig{
		DeadZone:    c.cfg.Control.DeadZone,
		NearZeroRPM: c.cfg.Stall.ThresholdRPM,
		StallTicks:  c.cfg.StallTicks(),
	})

	return nil
}

// Config returns the active configuration.
func (c *Conductor) Config() DriveConfig {
	c.stepLock.Lock()
	defer c.stepLock.Unlock()
	return c.cfg
}

func (c *Conductor) publish(final control.Command, enabled bool) {
	c.snapLock.Lock()
	defer c.snapLock.Unlock()

	c.snap = Telemetry{
		Tick:         c.ticks,
		State:        c.sup.State().String(),
		FaultLatched: c.sup.FaultLatched(),
		Enabled:      enabled,
		SetpointRPM:  c.setpoint.Load(),
		MeasuredRPM:  c.lastSpeed.RPM,
		Duty:         final.Duty,
		Forward:      final.Forward,
		Brake:        final.Brake,
		EncoderCount: c.dec.Count(),
		NoiseEvents:  c.dec.NoiseCount(),
	}
}
