package control

// Command is the actuation output handed to the driver bridge each control
// period: an unsigned duty magnitude, a direction flag and a brake flag. It is
// a derived value with no lifecycle of its own.
type Command struct {
	Duty    int64 // magnitude, 0..OutputMax
	Forward bool
	Brake   bool
}

// MapActuation converts a signed control effort into a Command. Magnitudes
// below deadZone are forced to exactly zero; anything above passes through
// unscaled. Direction always reflects the sign of the effort, even when the
// magnitude is squelched.
func MapActuation(effort, deadZone int64) Command {
	cmd := Command{
		Duty:    abs64(effort),
		Forward: effort >= 0,
	}

	if cmd.Duty < deadZone {
		cmd.Duty = 0
	}

	return cmd
}
