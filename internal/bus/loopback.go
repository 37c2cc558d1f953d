package bus

import (
	"sync"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
)

// DefaultQueueDepth is the receive queue size of a loopback endpoint.
const DefaultQueueDepth = 256

// Loopback is one end of an in-memory bus. Frames sent on one end are
// received on the other in order.
type Loopback struct {
	rx   chan frame.Frame
	peer *Loopback

	mu         sync.Mutex
	closed     bool
	failErr    error
	failRemain int
	resets     int
	sent       []frame.Frame
	record     bool
}

// NewLoopbackPair returns two connected endpoints.
func NewLoopbackPair(depth int) (*Loopback, *Loopback) {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	a := &Loopback{rx: make(chan frame.Frame, depth)}
	b := &Loopback{rx: make(chan frame.Frame, depth)}
	a.peer, b.peer = b, a
	return a, b
}

func (l *Loopback) Send(f frame.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.failRemain > 0 {
		l.failRemain--
		err := l.failErr
		l.mu.Unlock()
		return err
	}
	if l.record {
		l.sent = append(l.sent, f)
	}
	l.mu.Unlock()

	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	select {
	case l.peer.rx <- f:
		return nil
	default:
		return ErrQueueFull
	}
}

func (l *Loopback) Receive() (frame.Frame, bool, error) {
	select {
	case f := <-l.rx:
		return f, true, nil
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return frame.Frame{}, false, ErrClosed
	}
	return frame.Frame{}, false, nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Reset counts resets; there is no hardware queue to flush.
func (l *Loopback) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets++
	return nil
}

func (l *Loopback) Resets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resets
}

// FailSends makes the next n sends return err.
func (l *Loopback) FailSends(err error, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
	l.failRemain = n
}

// Record starts keeping a copy of every frame this end sends.
func (l *Loopback) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record = true
}

func (l *Loopback) Sent() []frame.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]frame.Frame(nil), l.sent...)
}
