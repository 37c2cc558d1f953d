package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/protocol/transfer"
	"github.com/dp-web4/modbatt-CAN/internal/testutil/testlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplateLoadsAsDefaults(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "vcu.toml")
	if err := WriteTemplate(path, "vcu", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "vcu", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	cfg, err := LoadVCUConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultVCUFile()) {
		t.Fatalf("template drifted from defaults:\n got %+v\nwant %+v", cfg, DefaultVCUFile())
	}
}

func TestLoadOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
name = "bench-vcu"
segment = 2
transport = "slcan"
serial_port = "/dev/ttyACM0"
sequence = "0,1,2,3,2,1"
repeat = true
transmit_interval = "50ms"

[fault_bits]
"0x40" = "under_voltage"

[transfer]
max_retries = 5
retry_pause = "250ms"
verify_checksum = true

[keys]
pack_key_half = "00112233"
pack_component_id = "PACK-7"
`)
	cfg, err := LoadVCUConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "bench-vcu" || cfg.Segment != 2 || !cfg.Repeat {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.LinkTimeout != DefaultVCUFile().LinkTimeout {
		t.Fatalf("unset key lost its default: %q", cfg.LinkTimeout)
	}
	open := cfg.OpenConfig()
	if open.Kind != "slcan" || open.SLCAN.Port != "/dev/ttyACM0" || open.SLCAN.Baud != 115200 {
		t.Fatalf("open config: %+v", open)
	}

	tc, err := cfg.Transfer.Apply(transfer.DefaultConfig())
	if err != nil {
		t.Fatalf("apply transfer: %v", err)
	}
	if tc.MaxRetries != 5 || tc.Backoff.InitialDelay != 250*time.Millisecond || !tc.VerifyChecksum {
		t.Fatalf("transfer config: %+v", tc)
	}
	if tc.Timeout != time.Second {
		t.Fatalf("transfer timeout default lost: %v", tc.Timeout)
	}

	keys, err := cfg.Keys.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if !bytes.Equal(keys.PackKeyHalf, []byte{0x00, 0x11, 0x22, 0x33}) || string(keys.PackComponentID) != "PACK-7" {
		t.Fatalf("keys: %+v", keys)
	}
}

func TestValidateRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"segment":    "segment = 4\n",
		"transport":  "transport = \"can-over-ip\"\n",
		"slcan port": "transport = \"slcan\"\n",
		"sequence":   "sequence = \"019\"\n",
		"duration":   "link_timeout = \"soon\"\n",
		"fault bits": "[fault_bits]\n\"0x03\" = \"two_bits\"\n",
		"key hex":    "[keys]\npack_key_half = \"zz\"\n",
		"key length": "[keys]\napp_component_id = \"" + strings.Repeat("x", 65) + "\"\n",
	}
	for name, body := range cases {
		if _, err := LoadVCUConfig(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"top level":     "bogus_key = 1\n",
		"transfer typo": "[transfer]\nmax_retires = 5\n",
		"keys typo":     "[keys]\npack_key = \"00\"\n",
	}
	for name, body := range cases {
		_, err := LoadVCUConfig(writeConfig(t, body))
		if err == nil {
			t.Fatalf("%s: expected unknown key error", name)
		}
		if !strings.Contains(err.Error(), "unknown keys") {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
	}
}

func TestLoadMillisecondVariants(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
poll_interval_ms = 20
link_timeout = "3s"
link_timeout_ms = 1500

[transfer]
timeout_ms = 50
retry_pause_ms = 0
`)
	cfg, err := LoadVCUConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != "20ms" {
		t.Fatalf("poll_interval_ms not applied: %q", cfg.PollInterval)
	}
	if cfg.LinkTimeout != "1.5s" {
		t.Fatalf("link_timeout_ms should win: %q", cfg.LinkTimeout)
	}
	if cfg.LinkTimeoutMS != nil || cfg.Transfer.TimeoutMS != nil {
		t.Fatalf("millisecond fields should be folded")
	}
	tc, err := cfg.Transfer.Apply(transfer.DefaultConfig())
	if err != nil {
		t.Fatalf("apply transfer: %v", err)
	}
	if tc.Timeout != 50*time.Millisecond {
		t.Fatalf("transfer timeout_ms not applied: %v", tc.Timeout)
	}
	if tc.Backoff.InitialDelay != 0 {
		t.Fatalf("retry_pause_ms = 0 not applied: %v", tc.Backoff.InitialDelay)
	}

	if _, err := LoadVCUConfig(writeConfig(t, "[transfer]\ntimeout_ms = -1\n")); err == nil {
		t.Fatalf("expected negative timeout_ms to be rejected")
	}
}

func TestLoadVCUExampleConfig(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadVCUConfig(filepath.Join("..", "..", "cmd", "vcuctl", "ex.config.toml"))
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if cfg.PollInterval != "10ms" {
		t.Fatalf("poll_interval_ms not applied: %q", cfg.PollInterval)
	}
}

func TestServiceConfigFromFile(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
segment = 3
link_timeout_ms = 750
tx_max_attempts = 7
redis_addr = "127.0.0.1:6379"

[fault_bits]
"0x40" = "under_voltage"

[transfer]
timeout_ms = 50
`)
	file, err := LoadVCUConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err := file.ServiceConfig()
	if err != nil {
		t.Fatalf("service config: %v", err)
	}
	if cfg.Segment != 3 || cfg.LinkTimeout != 750*time.Millisecond {
		t.Fatalf("service config: segment=%d link_timeout=%v", cfg.Segment, cfg.LinkTimeout)
	}
	if cfg.TxAttempts != 7 || cfg.Transfer.TxAttempts != 7 {
		t.Fatalf("tx attempts: %d/%d", cfg.TxAttempts, cfg.Transfer.TxAttempts)
	}
	if cfg.Transfer.Timeout != 50*time.Millisecond {
		t.Fatalf("transfer timeout: %v", cfg.Transfer.Timeout)
	}
	if !cfg.Publish.Enabled() || cfg.Publish.Prefix != "modbatt" {
		t.Fatalf("publish: %+v", cfg.Publish)
	}
	if cfg.Faults[0x40] != "under_voltage" || cfg.Faults[0x01] == "" {
		t.Fatalf("fault map should merge over defaults: %v", cfg.Faults)
	}
}

func TestUnknownTemplateKind(t *testing.T) {
	testlog.Start(t)
	if _, err := Template("bms"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
