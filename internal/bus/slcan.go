package bus

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
)

// SLCANConfig selects the serial adapter and CAN bitrate.
type SLCANConfig struct {
	Port       string
	Baud       int
	Bitrate    int
	QueueDepth int
}

func DefaultSLCANConfig() SLCANConfig {
	return SLCANConfig{
		Baud:       115200,
		Bitrate:    500000,
		QueueDepth: DefaultQueueDepth,
	}
}

// SLCAN speaks the Lawicel ASCII protocol to a USB-serial CAN adapter.
type SLCAN struct {
	port io.ReadWriteCloser
	rx   chan frame.Frame

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

// OpenSLCAN opens the serial port, configures the bitrate and opens the
// channel.
func OpenSLCAN(cfg SLCANConfig) (*SLCAN, error) {
	def := DefaultSLCANConfig()
	if cfg.Baud <= 0 {
		cfg.Baud = def.Baud
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = def.Bitrate
	}
	setup, err := slcanSetup(cfg.Bitrate)
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("bus: open %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("bus: set timeout %s: %w", cfg.Port, err)
	}
	s := newSLCAN(port, cfg.QueueDepth)
	for _, cmd := range setup {
		if _, err := io.WriteString(port, cmd); err != nil {
			s.Close()
			return nil, fmt.Errorf("bus: slcan setup %q: %w", cmd, err)
		}
	}
	logs.Infof("bus.OpenSLCAN port=%s baud=%d bitrate=%d", cfg.Port, cfg.Baud, cfg.Bitrate)
	return s, nil
}

func newSLCAN(port io.ReadWriteCloser, depth int) *SLCAN {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	s := &SLCAN{port: port, rx: make(chan frame.Frame, depth), done: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *SLCAN) readLoop() {
	defer close(s.done)
	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := s.port.Read(buf)
		for _, c := range buf[:n] {
			switch c {
			case '\r', '\n':
				if len(line) > 0 {
					s.handleLine(string(line))
					line = line[:0]
				}
			case 0x07:
				// BEL: adapter rejected the last command
				line = line[:0]
			default:
				line = append(line, c)
			}
		}
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = err
			}
			s.mu.Unlock()
			return
		}
		if n == 0 && s.isClosed() {
			return
		}
	}
}

func (s *SLCAN) handleLine(line string) {
	switch line[0] {
	case 't', 'T', 'r', 'R':
	default:
		// command acknowledgements and status replies
		return
	}
	f, err := ParseSLCAN(line)
	if err != nil {
		logs.Debugf("bus.SLCAN.readLoop drop line=%q err=%v", line, err)
		return
	}
	f.Timestamp = time.Now()
	select {
	case s.rx <- f:
	default:
		logs.Warnf("bus.SLCAN.readLoop rx queue full id=0x%X", f.ID)
	}
}

func (s *SLCAN) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SLCAN) Send(f frame.Frame) error {
	line, err := EncodeSLCAN(f)
	if err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	if _, err := io.WriteString(s.port, line); err != nil {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return nil
}

func (s *SLCAN) Receive() (frame.Frame, bool, error) {
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
	if s.err != nil {
		return frame.Frame{}, false, s.err
	}
	return frame.Frame{}, false, nil
}

// Reset flushes the adapter's buffers when the port supports it.
func (s *SLCAN) Reset() error {
	if p, ok := s.port.(serial.Port); ok {
		return p.ResetOutputBuffer()
	}
	return nil
}

func (s *SLCAN) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	_, _ = io.WriteString(s.port, "C\r")
	err := s.port.Close()
	<-s.done
	return err
}
