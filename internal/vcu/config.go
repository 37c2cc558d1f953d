package vcu

import (
	"errors"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/bms"
	"github.com/dp-web4/modbatt-CAN/internal/bus"
	"github.com/dp-web4/modbatt-CAN/internal/link"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/transfer"
	"github.com/dp-web4/modbatt-CAN/internal/publish"
	"github.com/dp-web4/modbatt-CAN/internal/sequencer"
)

var (
	ErrInvalidInterval = errors.New("vcu: invalid interval")
	ErrTransferBusy    = errors.New("vcu: transfer already running")
)

// ServiceConfig configures the VCU runtime.
type ServiceConfig struct {
	Name    string
	Segment uint8

	// Sequence is a string of state digits, for example "0123".
	Sequence string
	Repeat   bool

	PollInterval        time.Duration
	StateChangeInterval time.Duration
	TransmitInterval    time.Duration
	KeepAliveInterval   time.Duration
	LinkTimeout         time.Duration

	// Tick and ClockPeriod shape the wrapping contact counter.
	Tick        time.Duration
	ClockPeriod uint64

	HVBusVoltage float64
	TxAttempts   int

	StatusAddr  string
	CorsOrigins []string

	Publish         publish.Config
	PublishInterval time.Duration

	Faults   bms.FaultMap
	Transfer transfer.Config
}

// DefaultServiceConfig returns the bench defaults of the VCU emulator.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:                "vcu",
		Segment:             0,
		Sequence:            sequencer.DefaultPlaylist,
		Repeat:              false,
		PollInterval:        10 * time.Millisecond,
		StateChangeInterval: 5 * time.Second,
		TransmitInterval:    100 * time.Millisecond,
		KeepAliveInterval:   time.Second,
		LinkTimeout:         2 * time.Second,
		Tick:                time.Millisecond,
		ClockPeriod:         link.DefaultPeriod,
		HVBusVoltage:        400.02,
		TxAttempts:          bus.DefaultTxAttempts,
		Publish:             publish.DefaultConfig(),
		PublishInterval:     time.Second,
		Faults:              bms.DefaultFaultMap(),
		Transfer:            transfer.DefaultConfig(),
	}
}

// Validate rejects configurations the scheduler cannot run.
func (c ServiceConfig) Validate() error {
	for _, d := range []time.Duration{
		c.PollInterval, c.StateChangeInterval, c.TransmitInterval,
		c.KeepAliveInterval, c.LinkTimeout, c.Tick,
	} {
		if d <= 0 {
			return ErrInvalidInterval
		}
	}
	if c.LinkTimeout < c.Tick {
		return ErrInvalidInterval
	}
	if c.Publish.Enabled() && c.PublishInterval <= 0 {
		return ErrInvalidInterval
	}
	return nil
}

func (c ServiceConfig) timeoutTicks() uint32 {
	return uint32(c.LinkTimeout / c.Tick)
}
