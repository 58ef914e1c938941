package encoder

// SpeedSample is one measurement window's output: a signed speed in RPM, the
// raw count delta it was derived from, and a validity flag that is true only
// on the control period the sample was produced.
type SpeedSample struct {
	RPM   int64
	Delta int64
	Valid bool
}

// SpeedConfig fixes the measurement geometry. The window is a whole multiple
// of the control period.
type SpeedConfig struct {
	CountsPerRev int
	WindowTicks  int
	PeriodMs     int
}

// SpeedEstimator differentiates the position counter over a fixed window.
// All arithmetic is integer with truncating division, so results are
// deterministic and reproducible bit-for-bit. Owned by the periodic task.
type SpeedEstimator struct {
	cfg SpeedConfig

	prevCount int64
	ticks     int
	primed    bool
	last      SpeedSample
}

func NewSpeedEstimator(cfg SpeedConfig) *SpeedEstimator {
	return &SpeedEstimator{cfg: cfg}
}

// Rebase resets the measurement baseline to the given count. The first window
// after a rebase has no trustworthy previous count, so it reports zero with
// validity suppressed.
func (e *SpeedEstimator) Rebase(count int64) {
	e.prevCount = count
	e.ticks = 0
	e.primed = false
	e.last = SpeedSample{}
}

// Tick advances one control period with the current counter snapshot. On a
// window boundary it computes and returns a valid sample; between boundaries
// the returned sample has Valid false.
func (e *SpeedEstimator) Tick(count int64) SpeedSample {
	e.ticks++
	if e.ticks < e.cfg.WindowTicks {
		return SpeedSample{}
	}
	e.ticks = 0

	delta := count - e.prevCount
	e.prevCount = count

	if !e.primed {
		e.primed = true
		e.last = SpeedSample{}
		return SpeedSample{}
	}

	// counts/window -> rev/min: delta * ms-per-minute over counts-per-rev
	// scaled by the window duration in ms
	den := int64(e.cfg.CountsPerRev) * int64(e.cfg.WindowTicks) * int64(e.cfg.PeriodMs)
	sample := SpeedSample{
		RPM:   delta * 60_000 / den,
		Delta: delta,
		Valid: true,
	}
	e.last = sample

	return sample
}

// Last returns the most recent boundary sample with its validity pulse
// cleared, for consumers that hold the measurement between windows.
func (e *SpeedEstimator) Last() SpeedSample {
	s := e.last
	s.Valid = false
	return s
}
