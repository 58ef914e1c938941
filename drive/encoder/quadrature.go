package encoder

import "sync/atomic"

// quadrature step lookup, indexed by prev<<2 | current where each sample is
// the two phase levels packed as A<<1 | B. Single-phase changes follow the
// standard gray sequence; an unchanged sample is a no-op; both phases changing
// at once is electrically possible noise and scored separately.
const stepNoise = 2

var stepTable = [16]int8{
	0b0000: 0, 0b0001: +1, 0b0010: -1, 0b0011: stepNoise,
	0b0100: -1, 0b0101: 0, 0b0110: stepNoise, 0b0111: +1,
	0b1000: +1, 0b1001: stepNoise, 0b1010: 0, 0b1011: -1,
	0b1100: stepNoise, 0b1101: -1, 0b1110: +1, 0b1111: 0,
}

// Decoder converts debounced two-phase samples into a signed running count.
// Transition is invoked from the edge-handler context while Count and
// TakeActivity are read on the periodic schedule, so the shared values are
// single atomics and never a multi-step read.
type Decoder struct {
	count atomic.Int64
	moved atomic.Bool
	noise atomic.Int64

	// prev is touched only by the single edge producer
	prev uint8

	sign int64
}

// NewDecoder creates a decoder. invert flips the count direction so that the
// counter sign always matches commanded-forward-positive regardless of how the
// motor and sensor are wired.
func NewDecoder(invert bool) *Decoder {
	d := &Decoder{sign: 1}
	if invert {
		d.sign = -1
	}
	return d
}

// Prime seeds the previous phase sample without counting, so the first real
// transition after startup is classified against the true line levels.
func (d *Decoder) Prime(a, b bool) {
	cur := uint8(0)
	if a {
		cur |= 0b10
	}
	if b {
		cur |= 0b01
	}
	d.prev = cur
}

// Transition classifies one sampled phase pair against the previous pair and
// applies exactly one ±1 count update per detected edge. Simultaneous edges on
// both phases are discarded as noise and only tallied for diagnostics.
func (d *Decoder) Transition(a, b bool) {
	cur := uint8(0)
	if a {
		cur |= 0b10
	}
	if b {
		cur |= 0b01
	}

	step := stepTable[d.prev<<2|cur]
	d.prev = cur

	switch step {
	case 0:
		return
	case stepNoise:
		d.noise.Add(1)
		return
	}

	d.count.Add(int64(step) * d.sign)
	d.moved.Store(true)
}

// Count returns a lock-free snapshot of the signed position counter.
func (d *Decoder) Count() int64 {
	return d.count.Load()
}

// TakeActivity reports whether any edge has been counted since the last call
// and clears the flag. Consumed once per control period by stall detection.
func (d *Decoder) TakeActivity() bool {
	return d.moved.Swap(false)
}

// NoiseCount returns the number of discarded dual-phase transitions.
func (d *Decoder) NoiseCount() int64 {
	return d.noise.Load()
}
