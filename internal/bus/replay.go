package bus

import (
	"bufio"
	"errors"
	"io"

	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
)

// Replay serves frames from a SocketCAN record capture.
type Replay struct {
	r    *bufio.Reader
	c    io.Closer
	done bool
}

// NewReplay reads 16-byte can_frame records from r. If r is an io.Closer it
// is closed with the transport.
func NewReplay(r io.Reader) *Replay {
	rp := &Replay{r: bufio.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		rp.c = c
	}
	return rp
}

func (r *Replay) Send(frame.Frame) error {
	return ErrReadOnly
}

func (r *Replay) Receive() (frame.Frame, bool, error) {
	if r.done {
		return frame.Frame{}, false, io.EOF
	}
	f, err := frame.ReadFrame(r.r)
	if errors.Is(err, io.EOF) {
		r.done = true
		return frame.Frame{}, false, io.EOF
	}
	if err != nil {
		return frame.Frame{}, false, err
	}
	return f, true, nil
}

func (r *Replay) Close() error {
	if r.c != nil {
		return r.c.Close()
	}
	return nil
}
