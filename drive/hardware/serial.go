package hardware

import (
	"bufio"
	"fmt"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/openmech/godrive/drive/control"
)

// SerialDrive is a motor driver board attached over a serial line instead of
// CAN, speaking a one-command-per-line ASCII protocol:
//
//	V                -> "0.2.1"   version handshake
//	O <duty> <f> <b> -> (none)    output refresh, fire-and-forget
//	X                -> "OK"      emergency stop, acknowledged
type SerialDrive struct {
	port serial.Port
	r    *bufio.Reader
	mu   sync.Mutex
}

func NewSerialDrive(portName string, baud int) (s *SerialDrive, err error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return
	}

	s = &SerialDrive{
		port: port,
		r:    bufio.NewReader(port),
	}

	version, err := s.request("V")
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("version handshake failed: %w", err)
	}
	if err = checkDriverVersion(version); err != nil {
		port.Close()
		return nil, err
	}

	return s, nil
}

// SetOutput refreshes the board's output registers. Unacknowledged, same
// contract as the CAN node: the next period's refresh supersedes a lost line.
func (s *SerialDrive) SetOutput(cmd control.Command) error {
	fwd, brk := 0, 0
	if cmd.Forward {
		fwd = 1
	}
	if cmd.Brake {
		brk = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.port, "O %d %d %d\n", cmd.Duty, fwd, brk)
	return err
}

func (s *SerialDrive) EStop() error {
	resp, err := s.request("X")
	if err != nil {
		return err
	}
	if resp != "OK" {
		return fmt.Errorf("estop not acknowledged: %q", resp)
	}
	return nil
}

func (s *SerialDrive) Close() error {
	if err := s.EStop(); err != nil {
		s.port.Close()
		return err
	}
	return s.port.Close()
}

func (s *SerialDrive) request(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.port, "%s\n", cmd); err != nil {
		return "", err
	}

	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
