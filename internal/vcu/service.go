// Package vcu runs the vehicle-side controller: it polls telemetry, walks
// the state sequence while the pack is reachable, transmits the commanded
// state and keep-alives, and answers pack time requests.
package vcu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/bms"
	"github.com/dp-web4/modbatt-CAN/internal/bus"
	"github.com/dp-web4/modbatt-CAN/internal/link"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/observability"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/registry"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/schema"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/transfer"
	"github.com/dp-web4/modbatt-CAN/internal/publish"
	"github.com/dp-web4/modbatt-CAN/internal/sequencer"
	"github.com/dp-web4/modbatt-CAN/internal/statusapi"
)

type Option func(*Service)

// WithClock replaces the wall clock behind the link tracker.
func WithClock(c link.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithCatalog replaces the built-in message catalogue.
func WithCatalog(c *schema.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithTransferProgress reports every chunk attempt made by DistributeKeys.
func WithTransferProgress(fn transfer.ProgressFunc) Option {
	return func(s *Service) { s.progress = fn }
}

// WithNow replaces the time source used for time-request replies.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// Service owns one pack segment.
type Service struct {
	cfg      ServiceConfig
	tx       bus.Transport
	clock    link.Clock
	catalog  *schema.Catalog
	reg      *registry.Registry
	store    *bms.Store
	tracker  *link.Tracker
	cursor   *sequencer.Cursor
	disp     *bms.Dispatcher
	journal  *transfer.Journal
	sender   *transfer.Sender
	progress transfer.ProgressFunc
	pub      *publish.Publisher
	now      func() time.Time

	mu           sync.Mutex
	command      sequencer.State
	rx           sync.Mutex
	transferring atomic.Bool
}

func NewService(tx bus.Transport, cfg ServiceConfig, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, tx: tx, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = link.NewWallClock(cfg.Tick, cfg.ClockPeriod)
	}
	if s.catalog == nil {
		s.catalog = schema.Default()
	}
	if err := s.catalog.Check(); err != nil {
		return nil, err
	}
	reg, err := registry.New(s.catalog.Classes(schema.BusPack), []uint8{cfg.Segment})
	if err != nil {
		return nil, err
	}
	s.reg = reg

	playlist, err := sequencer.Parse(cfg.Sequence)
	switch {
	case errors.Is(err, sequencer.ErrEmptyPlaylist), errors.Is(err, sequencer.ErrPlaylistTooLong):
		logs.Errf("vcu.NewService sequence=%q err=%v; using %s", cfg.Sequence, err, sequencer.DefaultPlaylist)
		playlist, _ = sequencer.Parse(sequencer.DefaultPlaylist)
	case err != nil:
		return nil, err
	}
	s.cursor = sequencer.NewCursor(playlist, cfg.Repeat)
	s.command = s.cursor.Current()

	name := fmt.Sprintf("pack%d", cfg.Segment)
	s.tracker = link.NewTracker(name, s.clock)
	s.tracker.OnDisconnect(s.onLinkLost)

	s.store = bms.NewStore(cfg.Faults)
	s.disp = bms.NewDispatcher(s.catalog, s.reg, s.store, s.tracker)
	s.disp.On(schema.IDBMSTimeRequest, s.onTimeRequest)

	s.journal = transfer.NewJournal(transfer.DefaultJournalSize)
	senderOpts := []transfer.Option{
		transfer.WithJournal(s.journal),
		transfer.WithPassthrough(s.disp.Handle),
	}
	if s.progress != nil {
		senderOpts = append(senderOpts, transfer.WithProgress(s.progress))
	}
	s.sender = transfer.NewSender(tx, cfg.Transfer, senderOpts...)

	if s.pub == nil && cfg.Publish.Enabled() {
		pc := cfg.Publish
		pc.Segment = cfg.Segment
		s.pub = publish.New(pc)
	}
	observability.RecordLink(name, false)
	return s, nil
}

// Run drives the scheduler until ctx is cancelled. Each trigger has its own
// ticker so advancing the sequence and transmitting the state stay
// independent.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.cfg
	logs.Infof(
		"vcu.Service.Run start name=%s segment=%d sequence=%q repeat=%v transmit=%s change=%s link_timeout=%s",
		cfg.Name, cfg.Segment, cfg.Sequence, cfg.Repeat, cfg.TransmitInterval, cfg.StateChangeInterval, cfg.LinkTimeout,
	)

	poll := time.NewTicker(cfg.PollInterval)
	defer poll.Stop()
	change := time.NewTicker(cfg.StateChangeInterval)
	defer change.Stop()
	transmit := time.NewTicker(cfg.TransmitInterval)
	defer transmit.Stop()
	keepAlive := time.NewTicker(cfg.KeepAliveInterval)
	defer keepAlive.Stop()

	var publishC <-chan time.Time
	if s.pub != nil {
		t := time.NewTicker(cfg.PublishInterval)
		defer t.Stop()
		publishC = t.C
	}

	serveErr := make(chan error, 1)
	if cfg.StatusAddr != "" {
		api := statusapi.New(cfg.Name, cfg.StatusAddr, cfg.CorsOrigins, s)
		go func() {
			serveErr <- api.Serve(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			logs.Infof("vcu.Service.Run shutdown name=%s", cfg.Name)
			return nil
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("vcu: status api: %w", err)
			}
		case <-poll.C:
			s.Poll()
			s.CheckLink()
		case <-change.C:
			s.ChangeState()
		case <-transmit.C:
			s.Transmit()
		case <-keepAlive.C:
			s.KeepAlive()
		case <-publishC:
			s.publish(ctx)
		}
	}
}

// Poll drains every queued frame into the dispatcher. While a transfer is
// running its wait loop owns the receive side and forwards telemetry.
func (s *Service) Poll() int {
	if !s.rx.TryLock() {
		return 0
	}
	defer s.rx.Unlock()
	n, err := s.disp.Drain(s.tx)
	if err != nil {
		logs.Warnf("vcu.Service.Poll drained=%d err=%v", n, err)
	}
	return n
}

// CheckLink marks the pack down when it has been silent too long.
func (s *Service) CheckLink() {
	s.tracker.CheckTimeout(s.cfg.timeoutTicks())
	observability.RecordLink(s.tracker.Status().Name, s.tracker.Connected())
}

// ChangeState advances the sequence. Nothing moves until the pack has made
// contact.
func (s *Service) ChangeState() {
	if !s.tracker.Connected() {
		return
	}
	s.cursor.Advance()
	next := s.cursor.Current()
	s.mu.Lock()
	prev := s.command
	s.command = next
	s.mu.Unlock()
	if prev != next {
		logs.Infof("vcu.Service.ChangeState %s -> %s index=%d", prev, next, s.cursor.Index())
	}
}

// Transmit sends the commanded state while the pack is reachable.
func (s *Service) Transmit() {
	if !s.tracker.Connected() {
		return
	}
	s.send(schema.IDVCUCommand, map[string]float64{
		"contactor_ctrl": float64(s.Command()),
		"hv_bus_voltage": s.cfg.HVBusVoltage,
	})
}

func (s *Service) KeepAlive() {
	s.send(schema.IDVCUKeepAlive, map[string]float64{"module_id": 0})
}

// DistributeKeys runs the four key transfers to this segment. Telemetry
// received meanwhile still reaches the store.
func (s *Service) DistributeKeys(ctx context.Context, keys transfer.Keys) ([]transfer.Result, error) {
	if !s.transferring.CompareAndSwap(false, true) {
		return nil, ErrTransferBusy
	}
	defer s.transferring.Store(false)
	s.rx.Lock()
	defer s.rx.Unlock()
	return transfer.Distribute(ctx, s.sender, s.cfg.Segment, keys)
}

func (s *Service) onLinkLost() {
	s.cursor.Reset()
	s.mu.Lock()
	s.command = sequencer.Off
	s.mu.Unlock()
	name := s.tracker.Status().Name
	observability.RecordDisconnect(name)
	logs.Warnf("vcu.Service pack contact lost name=%s; sequence reset, commanding %s", name, sequencer.Off)
}

func (s *Service) onTimeRequest(m registry.Match, _ frame.Frame) {
	now := s.now().Unix()
	logs.Debugf("vcu.Service time request segment=%d reply=%d", m.Segment, now)
	s.send(schema.IDVCUTime, map[string]float64{"time": float64(now)})
}

func (s *Service) send(base uint32, values map[string]float64) {
	cls, _ := s.catalog.Lookup(base)
	payload, err := s.catalog.Encode(base, values)
	if err != nil {
		logs.Errf("vcu.Service.send encode class=%s err=%v", cls.Name(), err)
		return
	}
	id, err := s.reg.Resolve(base, s.cfg.Segment)
	if err != nil {
		logs.Errf("vcu.Service.send resolve class=%s err=%v", cls.Name(), err)
		return
	}
	f, err := frame.New(id, payload[:], false)
	if err != nil {
		logs.Errf("vcu.Service.send frame class=%s err=%v", cls.Name(), err)
		return
	}
	if err := bus.SendWithRetry(s.tx, f, s.cfg.TxAttempts); err != nil {
		observability.RecordTxFailure(cls.Name())
		logs.Warnf("vcu.Service.send dropped class=%s id=0x%03X err=%v", cls.Name(), id, err)
	}
}

func (s *Service) publish(ctx context.Context) {
	snap := s.store.Snapshot()
	err := s.pub.Publish(ctx, publish.State{
		Pack:      snap.Pack,
		Modules:   snap.Modules,
		Connected: s.tracker.Connected(),
		Command:   s.Command(),
	})
	if err != nil {
		logs.Warnf("vcu.Service.publish err=%v", err)
	}
}

// Close releases the publisher. The transport belongs to the caller.
func (s *Service) Close() error {
	if s.pub != nil {
		return s.pub.Close()
	}
	return nil
}

// Command returns the state currently being transmitted.
func (s *Service) Command() sequencer.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.command
}

func (s *Service) Snapshot() bms.Snapshot {
	return s.store.Snapshot()
}

func (s *Service) Module(id uint8) (bms.Module, bool) {
	return s.store.Module(id)
}

func (s *Service) Link() link.Status {
	return s.tracker.Status()
}

func (s *Service) Sequence() sequencer.Status {
	st := s.cursor.Status()
	st.State = s.Command()
	return st
}

func (s *Service) Stats() bms.Stats {
	return s.disp.Stats()
}

func (s *Service) Transfers() []transfer.Entry {
	return s.journal.List()
}

func (s *Service) Store() *bms.Store {
	return s.store
}

var _ statusapi.Source = (*Service)(nil)
