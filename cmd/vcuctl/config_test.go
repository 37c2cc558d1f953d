package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/bus"
	"github.com/dp-web4/modbatt-CAN/internal/testutil/testlog"
	"github.com/dp-web4/modbatt-CAN/internal/vcu"
)

func exampleDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("resolve test file")
	}
	return filepath.Dir(file)
}

func TestLoadExampleConfig(t *testing.T) {
	testlog.Start(t)
	rc, err := loadRuntimeConfig(filepath.Join(exampleDir(t), "ex.config.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg := rc.Service
	if cfg.Name != "vcu.bench" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
	if cfg.PollInterval != 10*time.Millisecond {
		t.Fatalf("poll_interval_ms not applied: %v", cfg.PollInterval)
	}
	if cfg.StatusAddr != "127.0.0.1:7040" {
		t.Fatalf("unexpected status addr: %q", cfg.StatusAddr)
	}
	if cfg.Publish.Enabled() {
		t.Fatalf("empty redis_addr should disable publishing")
	}
	if rc.Transport.Kind != bus.KindSocketCAN || rc.Transport.Interface != "can0" {
		t.Fatalf("unexpected transport: %+v", rc.Transport)
	}
	if cfg.Faults[0x20] != "over_voltage" {
		t.Fatalf("fault_bits should keep unlisted defaults: %v", cfg.Faults)
	}
	if rc.MessageTables != "cmd/vcuctl/ex.tables.yaml" {
		t.Fatalf("unexpected message tables: %q", rc.MessageTables)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
segment = 2
transport = "slcan"
serial_port = "/dev/ttyUSB0"
sequence = "0,1,2,3,2,1,0"
repeat = true
link_timeout_ms = 750
tx_max_attempts = 20

[fault_bits]
"0x80" = "isolation_fault"

[transfer]
max_retries = 5
retry_pause_ms = 40
verify_checksum = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	rc, err := loadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := vcu.DefaultServiceConfig()
	cfg := rc.Service
	if cfg.Segment != 2 || !cfg.Repeat || cfg.Sequence != "0,1,2,3,2,1,0" {
		t.Fatalf("unexpected sequencing: %+v", cfg)
	}
	if cfg.LinkTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected link timeout: %v", cfg.LinkTimeout)
	}
	if cfg.TransmitInterval != def.TransmitInterval {
		t.Fatalf("unset interval changed: %v", cfg.TransmitInterval)
	}
	if cfg.TxAttempts != 20 || cfg.Transfer.TxAttempts != 20 {
		t.Fatalf("tx attempts: %d/%d", cfg.TxAttempts, cfg.Transfer.TxAttempts)
	}
	if cfg.Faults[0x80] != "isolation_fault" || cfg.Faults[0x01] != "comms_error" {
		t.Fatalf("fault map: %v", cfg.Faults)
	}
	tc := cfg.Transfer
	if tc.MaxRetries != 5 || tc.Backoff.InitialDelay != 40*time.Millisecond || !tc.VerifyChecksum {
		t.Fatalf("transfer: %+v", tc)
	}
	if tc.Timeout != def.Transfer.Timeout {
		t.Fatalf("transfer timeout changed: %v", tc.Timeout)
	}
	if rc.Transport.Kind != bus.KindSLCAN || rc.Transport.SLCAN.Port != "/dev/ttyUSB0" {
		t.Fatalf("transport: %+v", rc.Transport)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key": "colour = \"red\"\n",
		"duration":    "transmit_interval = \"fast\"\n",
		"zero":        "transmit_interval_ms = 0\n",
		"fault bits":  "[fault_bits]\n\"0x01\" = \"over_voltage\"\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := loadRuntimeConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestExampleTablesOverride(t *testing.T) {
	testlog.Start(t)
	cat, err := loadCatalog(filepath.Join(exampleDir(t), "ex.tables.yaml"))
	if err != nil {
		t.Fatalf("load tables: %v", err)
	}
	cls, ok := cat.ByName("module_limits")
	if !ok {
		t.Fatalf("module_limits missing")
	}
	if f, _ := cls.Table.Lookup("module_id"); f.Max != 31 {
		t.Fatalf("override not applied: %+v", f)
	}
}
