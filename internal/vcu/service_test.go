package vcu

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/bus"
	"github.com/dp-web4/modbatt-CAN/internal/link"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/registry"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/schema"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/transfer"
	"github.com/dp-web4/modbatt-CAN/internal/sequencer"
	"github.com/dp-web4/modbatt-CAN/internal/testutil/testlog"
)

var fixedNow = time.Unix(1700000000, 0)

type fixture struct {
	svc   *Service
	pack  *bus.Loopback
	clock *link.ManualClock
	cat   *schema.Catalog
}

func testConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.Segment = 1
	cfg.Transfer.Timeout = 500 * time.Millisecond
	cfg.Transfer.PollInterval = time.Millisecond
	cfg.Transfer.TransferGap = 0
	cfg.Transfer.Backoff = transfer.BackoffConfig{}
	return cfg
}

func newFixture(t *testing.T, cfg ServiceConfig) fixture {
	t.Helper()
	host, pack := bus.NewLoopbackPair(0)
	clock := link.NewManualClock(0)
	svc, err := NewService(host, cfg, WithClock(clock), WithNow(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return fixture{svc: svc, pack: pack, clock: clock, cat: schema.Default()}
}

// fromPack sends a pack-bus frame of class base on the service's segment.
func (fx fixture) fromPack(t *testing.T, base uint32, values map[string]float64) {
	t.Helper()
	payload, err := fx.cat.Encode(base, values)
	if err != nil {
		t.Fatalf("encode 0x%03X: %v", base, err)
	}
	f, err := frame.New(registry.Resolve(base, fx.svc.cfg.Segment), payload[:], false)
	if err != nil {
		t.Fatalf("frame 0x%03X: %v", base, err)
	}
	if err := fx.pack.Send(f); err != nil {
		t.Fatalf("pack send: %v", err)
	}
}

func (fx fixture) contact(t *testing.T) {
	t.Helper()
	fx.fromPack(t, schema.IDBMSState, map[string]float64{"state": 1, "status": 2})
	if n := fx.svc.Poll(); n != 1 {
		t.Fatalf("poll: expected 1 frame, got %d", n)
	}
}

func (fx fixture) sent(t *testing.T) []frame.Frame {
	t.Helper()
	var out []frame.Frame
	if _, err := bus.Drain(fx.pack, func(f frame.Frame) { out = append(out, f) }); err != nil {
		t.Fatalf("drain pack: %v", err)
	}
	return out
}

func (fx fixture) commanded(t *testing.T) (state float64, volts float64) {
	t.Helper()
	frames := fx.sent(t)
	if len(frames) != 1 {
		t.Fatalf("expected one command frame, got %d", len(frames))
	}
	want := registry.Resolve(schema.IDVCUCommand, fx.svc.cfg.Segment)
	if frames[0].ID != want {
		t.Fatalf("command id: got 0x%03X want 0x%03X", frames[0].ID, want)
	}
	rec, err := fx.cat.Decode(schema.IDVCUCommand, frames[0].Payload())
	if err != nil {
		t.Fatalf("decode command: %v", err)
	}
	return rec.Physical("contactor_ctrl"), rec.Physical("hv_bus_voltage")
}

func TestNoStateTransmitBeforeContact(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t, testConfig())

	fx.svc.Transmit()
	fx.svc.ChangeState()
	if got := fx.sent(t); len(got) != 0 {
		t.Fatalf("expected silence before contact, got %v", got)
	}
	if fx.svc.Sequence().Index != 0 {
		t.Fatalf("sequence advanced without contact")
	}

	fx.svc.KeepAlive()
	frames := fx.sent(t)
	if len(frames) != 1 || frames[0].ID != 0x505 {
		t.Fatalf("keep-alive: got %v", frames)
	}
	logs.Logf("vcu/transmit: keep-alive id=0x%03X before contact", frames[0].ID)
}

func TestTransmitFollowsSequence(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t, testConfig())
	fx.contact(t)
	if !fx.svc.Link().Connected {
		t.Fatalf("expected link up after pack frame")
	}

	fx.svc.Transmit()
	state, volts := fx.commanded(t)
	if state != float64(sequencer.Off) {
		t.Fatalf("first command: got %v want off", state)
	}
	if math.Abs(volts-400.02) > schema.VoltageFactor {
		t.Fatalf("hv bus voltage: got %v", volts)
	}

	for _, want := range []sequencer.State{sequencer.Standby, sequencer.Precharge, sequencer.On, sequencer.On} {
		fx.svc.ChangeState()
		fx.svc.Transmit()
		if state, _ := fx.commanded(t); state != float64(want) {
			t.Fatalf("command: got %v want %s", state, want)
		}
	}
	logs.Logf("vcu/transmit: sequence walked and held %s", fx.svc.Command())
}

func TestLinkLossResetsSequence(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	fx := newFixture(t, cfg)
	fx.contact(t)
	fx.svc.ChangeState()
	fx.svc.ChangeState()
	if fx.svc.Command() != sequencer.Precharge {
		t.Fatalf("setup: command %s", fx.svc.Command())
	}

	threshold := uint64(cfg.timeoutTicks())
	fx.clock.Advance(threshold)
	fx.svc.CheckLink()
	if !fx.svc.Link().Connected {
		t.Fatalf("link dropped at exactly the threshold")
	}
	fx.clock.Advance(1)
	fx.svc.CheckLink()
	if fx.svc.Link().Connected {
		t.Fatalf("link still up past the threshold")
	}
	seq := fx.svc.Sequence()
	if seq.Index != 0 || seq.State != sequencer.Off {
		t.Fatalf("after loss: %+v", seq)
	}

	fx.svc.ChangeState()
	fx.svc.Transmit()
	if got := fx.sent(t); len(got) != 0 {
		t.Fatalf("expected silence after loss, got %v", got)
	}

	fx.contact(t)
	fx.svc.ChangeState()
	if fx.svc.Command() != sequencer.Standby {
		t.Fatalf("after reconnect: command %s", fx.svc.Command())
	}
	logs.Logf("vcu/link: loss reset sequence; reconnect resumed at %s", fx.svc.Command())
}

func TestTimeRequestReply(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t, testConfig())
	fx.fromPack(t, schema.IDBMSTimeRequest, nil)
	fx.svc.Poll()

	frames := fx.sent(t)
	if len(frames) != 1 || frames[0].ID != 0x501 {
		t.Fatalf("time reply: got %v", frames)
	}
	rec, err := fx.cat.Decode(schema.IDVCUTime, frames[0].Payload())
	if err != nil {
		t.Fatalf("decode time: %v", err)
	}
	if got := int64(rec.Physical("time")); got != fixedNow.Unix() {
		t.Fatalf("time: got %d want %d", got, fixedNow.Unix())
	}
}

func TestTelemetryReachesStore(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t, testConfig())
	fx.fromPack(t, schema.IDModuleState, map[string]float64{
		"module_id":         3,
		"module_state":      1,
		"module_soc":        50,
		"module_fault_code": 0x04,
	})
	fx.svc.Poll()

	m, ok := fx.svc.Module(3)
	if !ok {
		t.Fatalf("module 3 not stored")
	}
	if m.SOC != 50 || m.State != sequencer.Standby {
		t.Fatalf("module 3: %+v", m)
	}
	if len(m.Faults) != 1 || m.Faults[0] != "interlock" {
		t.Fatalf("faults: %v", m.Faults)
	}
	if st := fx.svc.Stats(); st.Applied != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestDistributeKeysKeepsTelemetry(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t, testConfig())
	responder := transfer.NewResponder(fx.pack, 1, transfer.TransferBases(), 0, nil)

	// Telemetry queued ahead of the first ACK must still reach the store.
	fx.fromPack(t, schema.IDModuleState, map[string]float64{"module_id": 5, "module_soc": 20})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			_, _ = bus.Drain(fx.pack, func(f frame.Frame) {
				if f.Extended {
					if _, err := responder.Handle(f); err != nil {
						t.Errorf("responder: %v", err)
					}
				}
			})
			time.Sleep(200 * time.Microsecond)
		}
	}()

	keys := transfer.Keys{
		PackKeyHalf:     bytes.Repeat([]byte{0xA1}, 64),
		AppKeyHalf:      bytes.Repeat([]byte{0xB2}, 64),
		PackComponentID: []byte("pack-0001"),
		AppComponentID:  []byte("app-0001"),
	}
	results, err := fx.svc.DistributeKeys(context.Background(), keys)
	close(done)
	wg.Wait()
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results: %d", len(results))
	}
	for _, res := range results {
		if res.Status != transfer.Success || res.Chunks != 8 {
			t.Fatalf("result: %+v", res)
		}
	}
	if got := responder.Received(schema.IDTransferPackKeyHalf); !bytes.Equal(got, keys.PackKeyHalf) {
		t.Fatalf("pack key half mismatch: %x", got)
	}
	if len(fx.svc.Transfers()) != 4 {
		t.Fatalf("journal: %d entries", len(fx.svc.Transfers()))
	}
	if _, ok := fx.svc.Module(5); !ok {
		t.Fatalf("telemetry received during transfer was lost")
	}
	logs.Logf("vcu/transfer: distributed keys with telemetry passthrough")
}

func TestSequenceConfig(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Sequence = "01x"
	host, _ := bus.NewLoopbackPair(0)
	if _, err := NewService(host, cfg); !errors.Is(err, sequencer.ErrUnknownState) {
		t.Fatalf("expected ErrUnknownState, got %v", err)
	}

	cfg.Sequence = ""
	svc, err := NewService(host, cfg)
	if err != nil {
		t.Fatalf("empty sequence: %v", err)
	}
	if got := svc.Sequence().Len; got != len(sequencer.DefaultPlaylist) {
		t.Fatalf("fallback playlist len: %d", got)
	}

	cfg = testConfig()
	cfg.TransmitInterval = 0
	if _, err := NewService(host, cfg); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}

	cfg = testConfig()
	cfg.Segment = 4
	if _, err := NewService(host, cfg); err == nil {
		t.Fatalf("segment 4 overflows the standard identifier space")
	}
}

func TestRunSchedulesTransmit(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.PollInterval = time.Millisecond
	cfg.TransmitInterval = 5 * time.Millisecond
	cfg.StateChangeInterval = time.Hour
	cfg.KeepAliveInterval = time.Hour
	host, pack := bus.NewLoopbackPair(0)
	svc, err := NewService(host, cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	fx := fixture{svc: svc, pack: pack, cat: schema.Default()}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	fx.fromPack(t, schema.IDBMSState, map[string]float64{"state": 1})
	want := registry.Resolve(schema.IDVCUCommand, cfg.Segment)
	deadline := time.Now().Add(2 * time.Second)
	seen := false
	for !seen && time.Now().Before(deadline) {
		for _, f := range fx.sent(t) {
			if f.ID == want {
				seen = true
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}
	if !seen {
		t.Fatalf("no command frame 0x%03X within deadline", want)
	}
}
