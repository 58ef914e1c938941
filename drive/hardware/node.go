package hardware

import (
	"sync"

	"github.com/openmech/godrive/drive/canbus"
	"github.com/openmech/godrive/drive/control"
)

// DriveNode is a motor driver board on a CAN bus. The actuation output is
// refreshed fire-and-forget once per control period; only the version
// handshake and the emergency stop use the acknowledged command path.
type DriveNode struct {
	id         uint32
	bus        canbus.CANBusInterface
	lock       *sync.Mutex
	pending    sync.WaitGroup
	pendingCmd map[uint16]*BaseCommand
	cmdLock    sync.Mutex
	rx         chan canbus.CANMsg
}

func NewDriveNode(bus canbus.CANBusInterface, id uint32) (n *DriveNode, err error) {
	n = &DriveNode{
		id:         id,
		bus:        bus,
		lock:       new(sync.Mutex),
		pending:    sync.WaitGroup{},
		pendingCmd: make(map[uint16]*BaseCommand),
		rx:         make(chan canbus.CANMsg),
	}

	go n.listen()

	// check the board firmware is acceptable before energising anything
	resp, err := newVersionCmd(n).Process()
	if err != nil {
		return
	}

	if err = checkDriverVersion(string(resp.Data)); err != nil {
		return
	}

	return
}

func (n *DriveNode) SendMsg(msg canbus.CANMsg) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.bus.SendMsg(msg)
}

// SetOutput refreshes the board's duty/direction/brake registers. Sent
// unacknowledged: the next period's refresh supersedes a lost frame, and the
// control loop must never block on bus traffic.
func (n *DriveNode) SetOutput(cmd control.Command) error {
	return n.SendMsg(canbus.CANMsg{
		ID:   n.id,
		Cmd:  CMD_SET_OUTPUT,
		Data: encodeOutput(cmd),
	})
}

// EStop cuts the output stage with an acknowledged, retried command.
func (n *DriveNode) EStop() (err error) {
	n.abortPending()

	_, err = newEStopCmd(n).Process()
	return
}

func (n *DriveNode) Close() error {
	return n.EStop()
}

func (n *DriveNode) listen() {
	n.bus.AddListener(n.id, n.rx)

	for msg := range n.rx {
		n.routeACK(msg)
	}
}

func (n *DriveNode) registerPending(cmd *BaseCommand) {
	n.cmdLock.Lock()
	defer n.cmdLock.Unlock()
	n.pendingCmd[cmd.ID()] = cmd
}

func (n *DriveNode) clearPending(cmd *BaseCommand) {
	n.cmdLock.Lock()
	defer n.cmdLock.Unlock()
	delete(n.pendingCmd, cmd.ID())
}

func (n *DriveNode) abortPending() {
	n.cmdLock.Lock()
	defer n.cmdLock.Unlock()
	for _, cmd := range n.pendingCmd {
		cmd.Abort()
	}
}

func (n *DriveNode) routeACK(msg canbus.CANMsg) {
	n.cmdLock.Lock()
	cmd, ok := n.pendingCmd[msg.Cmd]
	n.cmdLock.Unlock()

	if ok {
		cmd.Ack(msg)
	}
}
