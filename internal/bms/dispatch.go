package bms

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/bus"
	"github.com/dp-web4/modbatt-CAN/internal/link"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/observability"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/registry"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/schema"
)

// Stats counts what the receive path did with frames.
type Stats struct {
	Received uint64 `json:"received"`
	Applied  uint64 `json:"applied"`
	Unknown  uint64 `json:"unknown"`
	Rejected uint64 `json:"rejected"`
}

// Handler reacts to a resolved frame after it is applied.
type Handler func(m registry.Match, f frame.Frame)

// Dispatcher is the telemetry receive path: it resolves each frame through
// the registry, decodes it with the catalog, folds it into the store and
// refreshes the link tracker. Unknown and out-of-range frames are counted
// and dropped.
type Dispatcher struct {
	catalog *schema.Catalog
	reg     *registry.Registry
	store   *Store
	tracker *link.Tracker

	mu       sync.RWMutex
	handlers map[uint32][]Handler

	received atomic.Uint64
	applied  atomic.Uint64
	unknown  atomic.Uint64
	rejected atomic.Uint64
}

// NewDispatcher wires the receive path. tracker may be nil.
func NewDispatcher(catalog *schema.Catalog, reg *registry.Registry, store *Store, tracker *link.Tracker) *Dispatcher {
	return &Dispatcher{
		catalog:  catalog,
		reg:      reg,
		store:    store,
		tracker:  tracker,
		handlers: make(map[uint32][]Handler),
	}
}

// On registers fn for frames of the class with base.
func (d *Dispatcher) On(base uint32, fn Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[base] = append(d.handlers[base], fn)
}

// Drain handles every frame currently queued on t without blocking.
func (d *Dispatcher) Drain(t bus.Transport) (int, error) {
	return bus.Drain(t, d.Handle)
}

// Handle processes one received frame.
func (d *Dispatcher) Handle(f frame.Frame) {
	d.received.Add(1)
	if f.Extended || f.Remote {
		d.drop(f, observability.DropUnexpected)
		return
	}
	m, ok := d.reg.Parse(f.ID)
	if !ok {
		d.drop(f, observability.DropUnknown)
		return
	}
	inbound := m.Class.Direction == schema.FromPack || m.Class.Direction == schema.FromModule
	if inbound && d.tracker != nil {
		d.tracker.OnFrameReceived()
	}

	rec, err := d.catalog.Decode(m.Class.Base, f.Payload())
	if err != nil {
		var ve schema.ValidationError
		reason := observability.DropMalformed
		if errors.As(err, &ve) && ve.Field != "" {
			reason = observability.DropRange
		}
		d.rejected.Add(1)
		observability.RecordDrop(reason)
		return
	}
	at := f.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	if err := d.store.Apply(rec, at); err != nil {
		logs.Warnf("bms.Dispatcher.Handle apply id=0x%03X table=%s err=%v", f.ID, rec.Table, err)
		d.rejected.Add(1)
		observability.RecordDrop(observability.DropRange)
		return
	}
	d.applied.Add(1)
	observability.RecordFrame(rec.Table)

	d.mu.RLock()
	hs := d.handlers[m.Class.Base]
	d.mu.RUnlock()
	for _, fn := range hs {
		fn(m, f)
	}
}

func (d *Dispatcher) drop(f frame.Frame, reason string) {
	d.unknown.Add(1)
	observability.RecordDrop(reason)
	logs.Debugf("bms.Dispatcher.Handle drop reason=%s frame=%s", reason, f)
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received: d.received.Load(),
		Applied:  d.applied.Load(),
		Unknown:  d.unknown.Load(),
		Rejected: d.rejected.Load(),
	}
}
