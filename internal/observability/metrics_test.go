package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("vcu-0", "GET", "/health", 200, 12*time.Millisecond)
	RecordFrame("bms_state")
	RecordDrop(DropUnknown)
	RecordTxFailure("vcu_command")
	RecordChunkAttempt(0x407, "ack")
	RecordTransfer(0x407, "success")
	RecordLink("pack0", true)
	RecordDisconnect("pack0")

	logs.Logf("observability/metrics: registration idempotent and recording paths executed")
}

func TestLinkGaugeFollowsTransitions(t *testing.T) {
	testlog.Start(t)
	RecordLink("gauge-test", true)
	if got := testutil.ToFloat64(linkConnected.WithLabelValues("gauge-test")); got != 1 {
		t.Fatalf("expected connected gauge 1, got %v", got)
	}
	RecordDisconnect("gauge-test")
	if got := testutil.ToFloat64(linkConnected.WithLabelValues("gauge-test")); got != 0 {
		t.Fatalf("expected connected gauge 0, got %v", got)
	}
	if got := testutil.ToFloat64(linkTransitions.WithLabelValues("gauge-test")); got != 1 {
		t.Fatalf("expected one disconnect, got %v", got)
	}
}

func TestBaseLabel(t *testing.T) {
	testlog.Start(t)
	if got := baseLabel(0x40a); got != "0x40a" {
		t.Fatalf("unexpected label: %s", got)
	}
}
