//go:build !linux

package bus

import (
	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
)

type SocketCAN struct{}

func OpenSocketCAN(name string, depth int) (*SocketCAN, error) {
	return nil, ErrUnsupported
}

func (s *SocketCAN) Send(frame.Frame) error { return ErrUnsupported }

func (s *SocketCAN) Receive() (frame.Frame, bool, error) {
	return frame.Frame{}, false, ErrUnsupported
}

func (s *SocketCAN) Close() error { return nil }
