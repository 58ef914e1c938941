package canbus

import (
	"context"
	"net"
	"sync"

	"go.einride.tech/can/pkg/socketcan"
)

// CANBus connects to a socketcan interface and fans received messages out to
// per-node listener channels. Messages for nodes without a listener are
// dropped on the floor, matching bus semantics.
type CANBus struct {
	conn net.Conn
	tx   *socketcan.Transmitter

	lock sync.RWMutex
	rx   map[uint32]chan CANMsg
	open bool
}

func NewCANBus(ctx context.Context, ifname string) (bus *CANBus, err error) {
	conn, err := socketcan.DialContext(ctx, "can", ifname)
	if err != nil {
		return
	}

	bus = &CANBus{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
		rx:   make(map[uint32]chan CANMsg),
		open: true,
	}

	go bus.reader()

	return
}

func (c *CANBus) AddListener(nodeID uint32, rxchan chan CANMsg) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.rx[nodeID] = rxchan
}

func (c *CANBus) SendMsg(msg CANMsg) error {
	frame, err := msg.ToFrame()
	if err != nil {
		return err
	}
	return c.tx.TransmitFrame(context.Background(), frame)
}

func (c *CANBus) Close() error {
	c.lock.Lock()
	c.open = false
	c.lock.Unlock()
	return c.conn.Close()
}

func (c *CANBus) reader() {
	recv := socketcan.NewReceiver(c.conn)
	for recv.Receive() {
		msg, err := MsgFromFrame(recv.Frame())
		if err != nil {
			continue
		}

		c.lock.RLock()
		ch, ok := c.rx[msg.ID]
		closed := !c.open
		c.lock.RUnlock()
		if closed {
			return
		}
		if ok {
			ch <- *msg
		}
	}
}
