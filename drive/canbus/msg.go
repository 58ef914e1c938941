package canbus

import (
	"encoding/binary"
	"errors"

	"go.einride.tech/can"
)

const (
	// two bytes of every frame carry the command word, leaving six for payload
	msgMaxLength = 6
)

// errors
var (
	ERR_DATA_TOO_LONG = errors.New("data length exceeds 6 bytes")
	ERR_SHORT_FRAME   = errors.New("frame too short to carry a command word")
)

// CANMsg is one message exchanged with a driver board.
type CANMsg struct {
	ID   uint32 // node ID this is being issued for
	Cmd  uint16 // command being issued in this message
	Data []byte // raw data up to six bytes. DLC is taken from len(Data).
}

// CANBusInterface is implemented by the socketcan bus and by test fakes.
type CANBusInterface interface {
	SendMsg(msg CANMsg) error
	AddListener(nodeID uint32, rxchan chan CANMsg)
}

// ToFrame packs the message into a classical CAN frame: the command word in
// the first two bytes little-endian, payload after.
func (msg *CANMsg) ToFrame() (frame can.Frame, err error) {
	if len(msg.Data) > msgMaxLength {
		return frame, ERR_DATA_TOO_LONG
	}

	frame.ID = msg.ID
	frame.Length = uint8(2 + len(msg.Data))
	binary.LittleEndian.PutUint16(frame.Data[0:2], msg.Cmd)
	copy(frame.Data[2:], msg.Data)

	return frame, nil
}

// MsgFromFrame unpacks a received frame. Frames too short to carry a command
// word are rejected.
func MsgFromFrame(frame can.Frame) (*CANMsg, error) {
	if frame.Length < 2 {
		return nil, ERR_SHORT_FRAME
	}

	msg := &CANMsg{
		ID:  frame.ID,
		Cmd: binary.LittleEndian.Uint16(frame.Data[0:2]),
	}
	if frame.Length > 2 {
		msg.Data = make([]byte, frame.Length-2)
		copy(msg.Data, frame.Data[2:frame.Length])
	}

	return msg, nil
}
