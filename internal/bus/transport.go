package bus

import (
	"errors"
	"fmt"
	"time"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
)

var (
	ErrBusy        = errors.New("bus: transmitter busy")
	ErrQueueFull   = errors.New("bus: queue full")
	ErrTxExhausted = errors.New("bus: transmit attempts exhausted")
	ErrClosed      = errors.New("bus: transport closed")
	ErrUnsupported = errors.New("bus: transport unsupported on this platform")
	ErrReadOnly    = errors.New("bus: transport is read-only")
)

// DefaultTxAttempts is the attempt ceiling for SendWithRetry callers that
// have no configured value.
const DefaultTxAttempts = 50

// Transport is a classical CAN datagram channel. Receive never blocks: it
// returns ok=false when nothing is queued.
type Transport interface {
	Send(f frame.Frame) error
	Receive() (f frame.Frame, ok bool, err error)
	Close() error
}

// Resetter is implemented by transports that can flush their transmit queue.
type Resetter interface {
	Reset() error
}

// IsTransient reports whether err is a back-pressure signal worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrQueueFull)
}

// SendWithRetry retries transient send errors up to maxAttempts times. On
// exhaustion the transport is reset, if it supports it, and ErrTxExhausted
// is returned. Non-transient errors return immediately.
func SendWithRetry(t Transport, f frame.Frame, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultTxAttempts
	}
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := t.Send(f)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		last = err
		time.Sleep(txSpin)
	}
	if r, ok := t.(Resetter); ok {
		if err := r.Reset(); err != nil {
			logs.Warnf("bus.SendWithRetry reset failed id=0x%X err=%v", f.ID, err)
		}
	}
	logs.Warnf("bus.SendWithRetry exhausted id=0x%X attempts=%d last=%v", f.ID, maxAttempts, last)
	return fmt.Errorf("%w: id=0x%X after %d attempts: %v", ErrTxExhausted, f.ID, maxAttempts, last)
}

const txSpin = 50 * time.Microsecond

// Drain calls fn for every frame queued on t right now and returns the
// number handled. It stops at the first receive error.
func Drain(t Transport, fn func(frame.Frame)) (int, error) {
	n := 0
	for {
		f, ok, err := t.Receive()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		fn(f)
		n++
	}
}
