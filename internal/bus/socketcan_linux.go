//go:build linux

package bus

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/brutella/can"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
)

// SocketCAN is a transport on a Linux CAN network interface.
type SocketCAN struct {
	bus *can.Bus
	rx  chan frame.Frame

	mu     sync.Mutex
	closed bool
	err    error
}

// OpenSocketCAN binds to the named interface (for example can0) and starts
// the receive loop.
func OpenSocketCAN(name string, depth int) (*SocketCAN, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("bus: interface %s: %w", name, err)
	}
	conn, err := can.NewReadWriteCloserForInterface(iface)
	if err != nil {
		return nil, fmt.Errorf("bus: open %s: %w", name, err)
	}
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	s := &SocketCAN{bus: can.NewBus(conn), rx: make(chan frame.Frame, depth)}
	s.bus.SubscribeFunc(s.handle)
	go func() {
		err := s.bus.ConnectAndPublish()
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed && err != nil {
			s.err = err
			logs.Errf("bus.SocketCAN receive loop stopped iface=%s err=%v", name, err)
		}
	}()
	logs.Infof("bus.OpenSocketCAN iface=%s", name)
	return s, nil
}

func (s *SocketCAN) handle(cf can.Frame) {
	id, ext, rtr := frame.SplitWireID(cf.ID)
	f := frame.Frame{ID: id, Extended: ext, Remote: rtr, Len: cf.Length, Data: cf.Data, Timestamp: time.Now()}
	if f.Len > frame.MaxDataLen {
		f.Len = frame.MaxDataLen
	}
	select {
	case s.rx <- f:
	default:
		logs.Warnf("bus.SocketCAN rx queue full id=0x%X", f.ID)
	}
}

func (s *SocketCAN) Send(f frame.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	cf := can.Frame{ID: f.WireID(), Length: f.Len, Data: f.Data}
	err := s.bus.Publish(cf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.ENOBUFS):
		return fmt.Errorf("%w: %v", ErrQueueFull, err)
	case errors.Is(err, syscall.EAGAIN):
		return fmt.Errorf("%w: %v", ErrBusy, err)
	default:
		return err
	}
}

func (s *SocketCAN) Receive() (frame.Frame, bool, error) {
	select {
	case f := <-s.rx:
		return f, true, nil
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return frame.Frame{}, false, ErrClosed
	}
	return frame.Frame{}, false, s.err
}

func (s *SocketCAN) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.bus.Disconnect()
}
