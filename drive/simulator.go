package drive

import (
	"sync"
	"time"

	"github.com/openmech/godrive/drive/control"
	"github.com/openmech/godrive/drive/encoder"
)

const (
	simUpdateInterval = time.Millisecond
	simMaxRPM         = 3000 // shaft speed at 100% duty
	simTimeConstantMs = 80   // first-order plant time constant
	simBrakeFactor    = 4    // braking decays this much faster than coasting
)

// quadrature phase sequence emitted by the simulated encoder
var simPhases = [4][2]bool{
	{false, false},
	{false, true},
	{true, true},
	{true, false},
}

// SimulatedDrive is a stand-in for a real driver board plus motor: a
// first-order plant that spins a synthetic quadrature encoder into the
// decoder. Good enough for development shells, API work and step-response
// tuning without hardware on the bench.
type SimulatedDrive struct {
	dec *encoder.Decoder
	cpr int64

	mu  sync.Mutex
	cmd control.Command

	rpmMilli   int64 // current shaft speed, milli-RPM
	phaseIdx   int
	countFrac  int64 // accumulated sub-count motion, scaled by 60_000_000
	stop       chan struct{}
	closedOnce sync.Once
}

func NewSimulatedDrive(dec *encoder.Decoder, cfg DriveConfig) *SimulatedDrive {
	s := &SimulatedDrive{
		dec:  dec,
		cpr:  int64(cfg.Encoder.CountsPerRev),
		stop: make(chan struct{}),
	}

	dec.Prime(simPhases[0][0], simPhases[0][1])
	go s.update(cfg.Control.OutputMax)

	return s
}

func (s *SimulatedDrive) SetOutput(cmd control.Command) error {
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	return nil
}

func (s *SimulatedDrive) EStop() error {
	return s.SetOutput(control.Command{})
}

func (s *SimulatedDrive) Close() error {
	s.closedOnce.Do(func() { close(s.stop) })
	return nil
}

// update advances the plant once per simUpdateInterval: the shaft speed
// relaxes toward the commanded target, and the resulting motion is emitted as
// individual quadrature edges so the decoder sees exactly what real phase
// lines would produce.
func (s *SimulatedDrive) update(outputMax int64) {
	for {
		select {
		case <-s.stop:
			return
		case <-time.After(simUpdateInterval):
		}

		s.mu.Lock()
		cmd := s.cmd
		s.mu.Unlock()

		target := cmd.Duty * simMaxRPM * 1000 / outputMax
		if !cmd.Forward {
			target = -target
		}

		tc := int64(simTimeConstantMs)
		if cmd.Brake {
			target = 0
			tc /= simBrakeFactor
		}

		s.rpmMilli += (target - s.rpmMilli) / tc

		// milli-RPM -> encoder counts this millisecond, tracked at
		// 1/60_000_000 count resolution so slow speeds still move
		s.countFrac += s.rpmMilli * s.cpr
		steps := s.countFrac / 60_000_000
		s.countFrac -= steps * 60_000_000

		s.emit(steps)
	}
}

func (s *SimulatedDrive) emit(steps int64) {
	dir := 1
	if steps < 0 {
		dir = -1
		steps = -steps
	}

	for i := int64(0); i < steps; i++ {
		s.phaseIdx = (s.phaseIdx + dir + len(simPhases)) % len(simPhases)
		p := simPhases[s.phaseIdx]
		s.dec.Transition(p[0], p[1])
	}
}
