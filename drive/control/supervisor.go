package control

// State is the supervisory state of the drive.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateBraking
	StateFault
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateBraking:
		return "braking"
	case StateFault:
		return "fault"
	default:
		return "unknown"
	}
}

// SupervisorConfig holds the thresholds for stall detection and brake release.
type SupervisorConfig struct {
	DeadZone    int64 // commanded magnitude above this counts towards a stall
	NearZeroRPM int64 // |speed| below this is treated as stopped
	StallTicks  int   // consecutive periods of commanded-but-motionless before faulting
}

// Supervisor sequences Idle -> Running -> Braking/Fault and holds final
// authority over the actuation command: its Resolve output always overrides
// the mapper's value in the Braking and Fault states. Owned by the periodic
// task; not safe for concurrent use.
type Supervisor struct {
	cfg SupervisorConfig

	state        State
	stallTicks   int
	faultLatched bool
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	return &Supervisor{cfg: cfg}
}

func (s *Supervisor) State() State        { return s.state }
func (s *Supervisor) FaultLatched() bool  { return s.faultLatched }
func (s *Supervisor) StallProgress() int  { return s.stallTicks }

// Resolve is evaluated last each control period. It takes the mapper's
// command, the measured speed and the encoder activity flag for the period,
// advances the state machine and returns the command that actually reaches
// the driver.
func (s *Supervisor) Resolve(enable bool, cmd Command, rpm int64, activity bool) Command {
	switch s.state {
	case StateIdle:
		if !enable {
			return Command{}
		}
		s.state = StateRunning
		s.stallTicks = 0
		return s.running(cmd, rpm, activity)

	case StateRunning:
		if !enable {
			s.state = StateBraking
			s.stallTicks = 0
			return Command{Brake: true}
		}
		return s.running(cmd, rpm, activity)

	case StateBraking:
		if abs64(rpm) < s.cfg.NearZeroRPM {
			s.state = StateIdle
			return Command{}
		}
		return Command{Brake: true}

	case StateFault:
		// latched until explicit disable; never auto-retried
		if !enable {
			s.state = StateIdle
			s.faultLatched = false
			s.stallTicks = 0
		}
		return Command{}
	}

	return Command{}
}

// running applies stall detection: effort commanded above the dead zone with
// no observed motion for StallTicks consecutive periods latches a fault.
func (s *Supervisor) running(cmd Command, rpm int64, activity bool) Command {
	if cmd.Duty > s.cfg.DeadZone && abs64(rpm) < s.cfg.NearZeroRPM && !activity {
		s.stallTicks++
	} else {
		s.stallTicks = 0
	}

	if s.stallTicks >= s.cfg.StallTicks {
		s.state = StateFault
		s.faultLatched = true
		return Command{}
	}

	return cmd
}
