package hardware

import (
	"bytes"
	"errors"
	"time"

	"github.com/openmech/godrive/drive/canbus"
)

const (
	CMD_ESTOP      = 0x0000
	CMD_SET_OUTPUT = 0x0010
	CMD_VERSION    = 0x03E0

	CMD_MAX_RETRIES = 5
	CMD_TIMEOUT     = 5 * time.Millisecond
)

var (
	ERR_MAX_RETRIES = errors.New("CMD_MAX_RETRIES reached while attempting to send")
	ERR_SEND_ABORT  = errors.New("send has been aborted")
)

// BaseCommand is an acknowledged command in flight to a driver board. The
// message is fully populated at construction; acks are routed back by command
// word via the node's pending map.
type BaseCommand struct {
	node  *DriveNode
	msg   canbus.CANMsg
	ack   chan canbus.CANMsg
	abort chan struct{}
}

func newVersionCmd(n *DriveNode) *BaseCommand {
	return &BaseCommand{
		node: n,
		msg:  canbus.CANMsg{ID: n.id, Cmd: CMD_VERSION},
	}
}

func newEStopCmd(n *DriveNode) *BaseCommand {
	return &BaseCommand{
		node: n,
		msg:  canbus.CANMsg{ID: n.id, Cmd: CMD_ESTOP},
	}
}

// Sends the command and waits for an acknowledgment from the driver board.
// Will retry commands that are not acknowledged within CMD_TIMEOUT up to
// CMD_MAX_RETRIES. Can be canceled via Abort. Returns the response for
// upstream processing should it be necessary, or an error if the maximum
// retries are reached without an acknowledgement.
func (c *BaseCommand) Process() (resp canbus.CANMsg, err error) {
	c.node.pending.Add(1)
	defer c.node.pending.Done()

	if c.ack == nil {
		c.ack = make(chan canbus.CANMsg, 1)
	}

	if c.abort == nil {
		c.abort = make(chan struct{})
	}

	// register the ack route with the node
	c.node.registerPending(c)
	defer c.node.clearPending(c)

	// attempt initial sending
	err = c.node.SendMsg(c.msg)
	if err != nil {
		return resp, err
	}

	for i := 1; i < CMD_MAX_RETRIES; i++ {
		select {
		case resp := <-c.ack:
			if c.verify(resp) {
				return resp, nil
			}

		case <-c.abort:
			return resp, ERR_SEND_ABORT

		case <-time.After(CMD_TIMEOUT):
			err = c.node.SendMsg(c.msg)
			if err != nil {
				return resp, err
			}
		}
	}

	// we have exhausted MAX_RETRIES
	return resp, ERR_MAX_RETRIES
}

// acks echo the command word; version responses carry fresh payload
func (c *BaseCommand) verify(msg canbus.CANMsg) bool {
	if msg.Cmd != c.ID() {
		return false
	}
	if c.ID() == CMD_VERSION {
		return true
	}
	return bytes.Equal(c.msg.Data, msg.Data)
}

func (c *BaseCommand) ID() uint16 {
	return c.msg.Cmd
}

func (c *BaseCommand) Msg() canbus.CANMsg {
	return c.msg
}

func (c *BaseCommand) Abort() error {
	if c.abort == nil {
		return errors.New("send not yet attempted")
	}

	close(c.abort)
	return nil
}

func (c *BaseCommand) Ack(msg canbus.CANMsg) {
	select {
	case c.ack <- msg:
	default:
		// late or duplicate ack, drop it
	}
}
