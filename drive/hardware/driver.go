package hardware

import (
	"encoding/binary"
	"fmt"

	"github.com/Masterminds/semver"
	"github.com/openmech/godrive/drive/control"
)

const (
	// acceptable driver-board firmware range
	DRIVER_VERSION = "~0.2.0"

	flagForward = 1 << 0
	flagBrake   = 1 << 1
)

// checkDriverVersion validates the firmware version string reported by a
// driver board against DRIVER_VERSION. A bare "DEV" build is accepted so
// boards flashed straight from a working tree keep functioning.
func checkDriverVersion(version string) error {
	if version == "DEV" {
		// running a direct dev build, consider it safe for now but require a flag in the future
		// todo: add support for pinning a dev build via config/env/cli flag
		return nil
	}

	semVer, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("driver reported unparseable version %q: %v", version, err)
	}

	constraint, err := semver.NewConstraint(DRIVER_VERSION)
	if err != nil {
		return err
	}

	if !constraint.Check(semVer) {
		return fmt.Errorf("unable to use driver: received version %s - require %s", version, DRIVER_VERSION)
	}

	return nil
}

// encodeOutput packs an actuation command into the 3-byte wire form shared by
// the CAN and serial driver protocols: duty as uint16 little-endian plus a
// flag byte for direction and brake.
func encodeOutput(cmd control.Command) []byte {
	data := make([]byte, 3)
	binary.LittleEndian.PutUint16(data[0:2], uint16(cmd.Duty))

	if cmd.Forward {
		data[2] |= flagForward
	}
	if cmd.Brake {
		data[2] |= flagBrake
	}

	return data
}
