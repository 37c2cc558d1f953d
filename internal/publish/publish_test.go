package publish

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dp-web4/modbatt-CAN/internal/bms"
	"github.com/dp-web4/modbatt-CAN/internal/sequencer"
	"github.com/dp-web4/modbatt-CAN/internal/testutil/testlog"
	"github.com/redis/go-redis/v9"
)

func TestKeysIncludePrefixAndSegment(t *testing.T) {
	testlog.Start(t)
	p := NewWithClient(nil, Config{Prefix: "bench", Segment: 2})
	if got := p.PackKey(); got != "bench:pack:2" {
		t.Fatalf("pack key: got %q", got)
	}
	if got := p.ModuleKey(7); got != "bench:module:2:7" {
		t.Fatalf("module key: got %q", got)
	}
}

func TestPackFields(t *testing.T) {
	testlog.Start(t)
	st := State{
		Pack: bms.Pack{
			State:        sequencer.Standby,
			Status:       sequencer.StatusNormal,
			SOC:          72.5,
			Voltage:      400.02,
			TotalModules: 4,
		},
		Connected: true,
		Command:   sequencer.Precharge,
	}
	f := PackFields(st)
	want := map[string]string{
		"connected":     "true",
		"command":       "precharge",
		"state":         "standby",
		"status":        "normal",
		"soc":           "72.5",
		"voltage":       "400.02",
		"total-modules": "4",
	}
	for k, v := range want {
		if f[k] != v {
			t.Fatalf("field %s: got %q want %q", k, f[k], v)
		}
	}
}

func TestModuleFaultsSorted(t *testing.T) {
	testlog.Start(t)
	f := ModuleFields(bms.Module{ID: 3, FaultCode: 0x09, Faults: []string{"over_current", "comms_error"}})
	if f["faults"] != "comms_error,over_current" {
		t.Fatalf("faults: got %q", f["faults"])
	}
	if f["fault-code"] != "9" {
		t.Fatalf("fault-code: got %q", f["fault-code"])
	}
}

func TestChanged(t *testing.T) {
	testlog.Start(t)
	watch := []string{"state", "soc"}
	next := map[string]string{"state": "on", "soc": "50", "voltage": "400"}

	if got := Changed(nil, next, watch); !reflect.DeepEqual(got, watch) {
		t.Fatalf("first publish: got %v", got)
	}
	prev := map[string]string{"state": "on", "soc": "49", "voltage": "390"}
	if got := Changed(prev, next, watch); !reflect.DeepEqual(got, []string{"soc"}) {
		t.Fatalf("soc change: got %v", got)
	}
	if got := Changed(next, next, watch); len(got) != 0 {
		t.Fatalf("no change: got %v", got)
	}
}

func TestDisabledWithoutAddr(t *testing.T) {
	testlog.Start(t)
	if DefaultConfig().Enabled() {
		t.Fatalf("default config should be disabled")
	}
	if !(Config{Addr: "localhost:6379"}).Enabled() {
		t.Fatalf("addr should enable publishing")
	}
}

func collect(t *testing.T, ch <-chan *redis.Message, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for len(out) < n {
		select {
		case msg := <-ch:
			out = append(out, msg.Channel+"/"+msg.Payload)
		case <-time.After(2 * time.Second):
			t.Fatalf("waiting for notifications: got %v, want %d", out, n)
		}
	}
	return out
}

func expectQuiet(t *testing.T, ch <-chan *redis.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected notification %s/%s", msg.Channel, msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishWritesHashesAndReannouncesAfterFailure(t *testing.T) {
	testlog.Start(t)
	mr := miniredis.RunT(t)
	ctx := context.Background()

	p := New(Config{Addr: mr.Addr(), Prefix: "bench", Segment: 1})
	t.Cleanup(func() { _ = p.Close() })

	watcher := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = watcher.Close() })
	sub := watcher.Subscribe(ctx, p.PackKey(), p.ModuleKey(3))
	t.Cleanup(func() { _ = sub.Close() })
	for i := 0; i < 2; i++ {
		if _, err := sub.Receive(ctx); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	ch := sub.Channel()

	st := State{
		Pack:      bms.Pack{State: sequencer.Standby, Status: sequencer.StatusNormal, SOC: 60},
		Modules:   []bms.Module{{ID: 3, State: sequencer.Standby, SOC: 58, Faults: []string{"interlock"}}},
		Connected: true,
		Command:   sequencer.Standby,
	}
	if err := p.Publish(ctx, st); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	got := collect(t, ch, len(packNotify)+len(moduleNotify))
	want := []string{
		"bench:pack:1/connected", "bench:pack:1/state", "bench:pack:1/status",
		"bench:pack:1/soc", "bench:pack:1/command",
		"bench:module:1:3/state", "bench:module:1:3/soc", "bench:module:1:3/faults",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("first notifications: got %v want %v", got, want)
	}
	if v := mr.HGet(p.PackKey(), "soc"); v != "60" {
		t.Fatalf("pack soc hash: got %q", v)
	}
	if v := mr.HGet(p.ModuleKey(3), "faults"); v != "interlock" {
		t.Fatalf("module faults hash: got %q", v)
	}

	st.Pack.SOC = 61
	mr.SetError("ERR injected failure")
	if err := p.Publish(ctx, st); err == nil {
		t.Fatalf("expected publish error while the server fails")
	}
	mr.SetError("")
	expectQuiet(t, ch)
	if v := mr.HGet(p.PackKey(), "soc"); v != "60" {
		t.Fatalf("failed cycle should not write: soc=%q", v)
	}

	if err := p.Publish(ctx, st); err != nil {
		t.Fatalf("publish after recovery: %v", err)
	}
	if got := collect(t, ch, 1); got[0] != "bench:pack:1/soc" {
		t.Fatalf("soc change should be announced again: got %v", got)
	}
	expectQuiet(t, ch)
	if v := mr.HGet(p.PackKey(), "soc"); v != "61" {
		t.Fatalf("pack soc hash after recovery: got %q", v)
	}

	if err := p.Publish(ctx, st); err != nil {
		t.Fatalf("unchanged publish: %v", err)
	}
	expectQuiet(t, ch)
}
