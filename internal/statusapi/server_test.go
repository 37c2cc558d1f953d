package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dp-web4/modbatt-CAN/internal/bms"
	"github.com/dp-web4/modbatt-CAN/internal/link"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/transfer"
	"github.com/dp-web4/modbatt-CAN/internal/sequencer"
	"github.com/dp-web4/modbatt-CAN/internal/testutil/testlog"
)

type stubSource struct {
	snap      bms.Snapshot
	link      link.Status
	seq       sequencer.Status
	transfers []transfer.Entry
}

func (s stubSource) Snapshot() bms.Snapshot     { return s.snap }
func (s stubSource) Link() link.Status          { return s.link }
func (s stubSource) Sequence() sequencer.Status { return s.seq }
func (s stubSource) Stats() bms.Stats           { return bms.Stats{Received: 10, Applied: 9, Unknown: 1} }
func (s stubSource) Transfers() []transfer.Entry {
	return s.transfers
}

func (s stubSource) Module(id uint8) (bms.Module, bool) {
	for _, m := range s.snap.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return bms.Module{}, false
}

func newTestServer() *Server {
	src := stubSource{
		snap: bms.Snapshot{
			Pack:    bms.Pack{State: sequencer.Standby, SOC: 80},
			Modules: []bms.Module{{ID: 2, SOC: 81}},
		},
		link:      link.Status{Name: "pack", Connected: true, Elapsed: 12},
		seq:       sequencer.Status{State: sequencer.Standby, Index: 1, Len: 4},
		transfers: []transfer.Entry{{ID: "t-1", Base: 0x407, Status: "success"}},
	}
	return New("vcu-test", ":0", nil, src)
}

func get(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	var body map[string]any
	if rr.Body.Len() > 0 && rr.Body.Bytes()[0] == '{' {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	logs.Logf("statusapi/http: GET %s status=%d", path, rr.Code)
	return rr.Code, body
}

func TestHealth(t *testing.T) {
	testlog.Start(t)
	code, body := get(t, newTestServer(), "/health")
	if code != http.StatusOK {
		t.Fatalf("health status: %d", code)
	}
	if body["status"] != "ok" || body["connected"] != true {
		t.Fatalf("unexpected body: %#v", body)
	}
}

func TestPackIncludesSequence(t *testing.T) {
	testlog.Start(t)
	code, body := get(t, newTestServer(), "/pack")
	if code != http.StatusOK {
		t.Fatalf("pack status: %d", code)
	}
	seq, ok := body["sequence"].(map[string]any)
	if !ok || seq["state"] != "standby" {
		t.Fatalf("sequence: %#v", body["sequence"])
	}
	pack := body["pack"].(map[string]any)
	if pack["soc"] != float64(80) {
		t.Fatalf("pack soc: %#v", pack["soc"])
	}
}

func TestModuleLookup(t *testing.T) {
	testlog.Start(t)
	s := newTestServer()
	if code, body := get(t, s, "/modules/2"); code != http.StatusOK || body["soc"] != float64(81) {
		t.Fatalf("module 2: code=%d body=%#v", code, body)
	}
	if code, _ := get(t, s, "/modules/3"); code != http.StatusNotFound {
		t.Fatalf("module 3: expected 404, got %d", code)
	}
	if code, _ := get(t, s, "/modules/99"); code != http.StatusBadRequest {
		t.Fatalf("module 99: expected 400, got %d", code)
	}
}

func TestTransfersAndLink(t *testing.T) {
	testlog.Start(t)
	s := newTestServer()
	code, body := get(t, s, "/transfers")
	if code != http.StatusOK {
		t.Fatalf("transfers status: %d", code)
	}
	if list, ok := body["transfers"].([]any); !ok || len(list) != 1 {
		t.Fatalf("transfers: %#v", body["transfers"])
	}
	code, body = get(t, s, "/link")
	if code != http.StatusOK || body["connected"] != true {
		t.Fatalf("link: code=%d body=%#v", code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	code, _ := get(t, newTestServer(), "/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics status: %d", code)
	}
}
