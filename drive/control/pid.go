package control

// EngineState tracks where the PID engine is within its period cycle.
type EngineState int

const (
	EngineIdle EngineState = iota // waiting for enable
	EngineCompute
	EngineHold // computed this period, waiting for the next boundary
)

// PIDConfig holds the control-law parameters. Gains are scaled integers
// carrying FracBits fractional bits. OutputMax bounds the control effort
// symmetrically; IntegralClamp bounds the raw error accumulator.
type PIDConfig struct {
	Kp, Ki, Kd    int64
	FracBits      uint
	IntegralClamp int64
	OutputMax     int64
}

// PID is a fixed-point proportional-integral-derivative engine. It advances
// exactly once per control period via Step and is owned by the periodic task;
// it is not safe for concurrent use.
type PID struct {
	cfg PIDConfig

	state      EngineState
	integral   int64
	prevErr    int64
	lastErr    int64
	lastOutput int64

	// windup is set when the previous period's output saturated. While set,
	// the integral accumulator is frozen rather than clamped after the fact.
	windup bool
}

func NewPID(cfg PIDConfig) *PID {
	return &PID{cfg: cfg}
}

// Reset zeros the integral and derivative history. Called on the
// disabled->enabled transition so stale state never drives the output.
func (p *PID) Reset() {
	p.state = EngineIdle
	p.integral = 0
	p.prevErr = 0
	p.lastErr = 0
	p.lastOutput = 0
	p.windup = false
}

// Step advances the engine one control period and returns the clamped control
// effort. With enable low the engine idles and the effort is zero.
func (p *PID) Step(setpoint, feedback int64, enable bool) int64 {
	if !enable {
		p.state = EngineIdle
		p.lastOutput = 0
		return 0
	}
	p.state = EngineCompute

	err := setpoint - feedback

	pTerm := MulQ(err, p.cfg.Kp, p.cfg.FracBits)

	if !p.windup {
		p.integral = Clamp(p.integral+err, -p.cfg.IntegralClamp, p.cfg.IntegralClamp)
	}
	iTerm := MulQ(p.integral, p.cfg.Ki, p.cfg.FracBits)

	dTerm := MulQ(err-p.prevErr, p.cfg.Kd, p.cfg.FracBits)

	raw := pTerm + iTerm + dTerm
	out := Clamp(raw, -p.cfg.OutputMax, p.cfg.OutputMax)
	p.windup = out != raw

	p.prevErr = err
	p.lastErr = err
	p.lastOutput = out
	p.state = EngineHold

	return out
}

func (p *PID) State() EngineState { return p.state }

// Saturated reports whether the last computed output hit the clamp, i.e.
// whether anti-windup will freeze the accumulator on the next step.
func (p *PID) Saturated() bool { return p.windup }

func (p *PID) Integral() int64   { return p.integral }
func (p *PID) LastError() int64  { return p.lastErr }
func (p *PID) LastOutput() int64 { return p.lastOutput }
