package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dp-web4/modbatt-CAN/internal/bms"
	"github.com/dp-web4/modbatt-CAN/internal/bus"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/transfer"
	"github.com/dp-web4/modbatt-CAN/internal/vcu"
)

type transferFile struct {
	MaxRetries        int     `toml:"max_retries"`
	Timeout           string  `toml:"timeout"`
	TimeoutMS         int64   `toml:"timeout_ms"`
	PollInterval      string  `toml:"poll_interval"`
	PollIntervalMS    int64   `toml:"poll_interval_ms"`
	RetryPause        string  `toml:"retry_pause"`
	RetryPauseMS      int64   `toml:"retry_pause_ms"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	TransferGap       string  `toml:"transfer_gap"`
	TransferGapMS     int64   `toml:"transfer_gap_ms"`
	VerifyChecksum    bool    `toml:"verify_checksum"`
}

type fileConfig struct {
	Name       string `toml:"name"`
	Segment    int    `toml:"segment"`
	Transport  string `toml:"transport"`
	Interface  string `toml:"interface"`
	SerialPort string `toml:"serial_port"`
	SerialBaud int    `toml:"serial_baud"`
	Bitrate    int    `toml:"bitrate"`

	Sequence              string  `toml:"sequence"`
	Repeat                bool    `toml:"repeat"`
	StateChangeInterval   string  `toml:"state_change_interval"`
	StateChangeIntervalMS int64   `toml:"state_change_interval_ms"`
	TransmitInterval      string  `toml:"transmit_interval"`
	TransmitIntervalMS    int64   `toml:"transmit_interval_ms"`
	PollInterval          string  `toml:"poll_interval"`
	PollIntervalMS        int64   `toml:"poll_interval_ms"`
	KeepAliveInterval     string  `toml:"keepalive_interval"`
	KeepAliveIntervalMS   int64   `toml:"keepalive_interval_ms"`
	LinkTimeout           string  `toml:"link_timeout"`
	LinkTimeoutMS         int64   `toml:"link_timeout_ms"`
	HVBusVoltage          float64 `toml:"hv_bus_voltage"`
	TxMaxAttempts         int     `toml:"tx_max_attempts"`

	StatusAddr    string            `toml:"status_addr"`
	CorsOrigins   []string          `toml:"cors_origins"`
	RedisAddr     string            `toml:"redis_addr"`
	RedisPrefix   string            `toml:"redis_prefix"`
	MessageTables string            `toml:"message_tables"`
	FaultBits     map[string]string `toml:"fault_bits"`

	Transfer transferFile `toml:"transfer"`

	// Keys is read by keyctl from the same file.
	Keys map[string]string `toml:"keys"`
}

type runtimeConfig struct {
	Service       vcu.ServiceConfig
	Transport     bus.OpenConfig
	MessageTables string
}

func loadRuntimeConfig(path string) (runtimeConfig, error) {
	rc := runtimeConfig{
		Service:   vcu.DefaultServiceConfig(),
		Transport: bus.DefaultOpenConfig(),
	}
	cfg := &rc.Service

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load vcu config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runtimeConfig{}, fmt.Errorf("load vcu config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("segment") {
		if raw.Segment < 0 || raw.Segment > 0xFF {
			return runtimeConfig{}, fmt.Errorf("segment %d out of range", raw.Segment)
		}
		cfg.Segment = uint8(raw.Segment)
	}

	if meta.IsDefined("transport") {
		rc.Transport.Kind = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("interface") {
		rc.Transport.Interface = strings.TrimSpace(raw.Interface)
	}
	if meta.IsDefined("serial_port") {
		rc.Transport.SLCAN.Port = strings.TrimSpace(raw.SerialPort)
	}
	if meta.IsDefined("serial_baud") {
		rc.Transport.SLCAN.Baud = raw.SerialBaud
	}
	if meta.IsDefined("bitrate") {
		rc.Transport.SLCAN.Bitrate = raw.Bitrate
	}

	if meta.IsDefined("sequence") {
		cfg.Sequence = strings.TrimSpace(raw.Sequence)
	}
	if meta.IsDefined("repeat") {
		cfg.Repeat = raw.Repeat
	}

	durations := []struct {
		key   string
		value string
		ms    int64
		dst   *time.Duration
	}{
		{"state_change_interval", raw.StateChangeInterval, raw.StateChangeIntervalMS, &cfg.StateChangeInterval},
		{"transmit_interval", raw.TransmitInterval, raw.TransmitIntervalMS, &cfg.TransmitInterval},
		{"poll_interval", raw.PollInterval, raw.PollIntervalMS, &cfg.PollInterval},
		{"keepalive_interval", raw.KeepAliveInterval, raw.KeepAliveIntervalMS, &cfg.KeepAliveInterval},
		{"link_timeout", raw.LinkTimeout, raw.LinkTimeoutMS, &cfg.LinkTimeout},
	}
	for _, d := range durations {
		if err := overlayDuration(meta, []string{d.key}, d.value, d.ms, d.dst); err != nil {
			return runtimeConfig{}, err
		}
	}

	if meta.IsDefined("hv_bus_voltage") {
		cfg.HVBusVoltage = raw.HVBusVoltage
	}
	if meta.IsDefined("tx_max_attempts") {
		cfg.TxAttempts = raw.TxMaxAttempts
		rc.Service.Transfer.TxAttempts = raw.TxMaxAttempts
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("redis_addr") {
		cfg.Publish.Addr = strings.TrimSpace(raw.RedisAddr)
	}
	if meta.IsDefined("redis_prefix") {
		cfg.Publish.Prefix = strings.TrimSpace(raw.RedisPrefix)
	}
	if meta.IsDefined("message_tables") {
		rc.MessageTables = strings.TrimSpace(raw.MessageTables)
	}
	if meta.IsDefined("fault_bits") {
		overrides, err := bms.ParseFaultMap(raw.FaultBits)
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse fault_bits: %w", err)
		}
		faults := bms.DefaultFaultMap()
		for bit, name := range overrides {
			faults[bit] = name
		}
		if err := faults.Validate(); err != nil {
			return runtimeConfig{}, fmt.Errorf("fault_bits: %w", err)
		}
		cfg.Faults = faults
	}

	if err := overlayTransfer(meta, raw.Transfer, &rc.Service.Transfer); err != nil {
		return runtimeConfig{}, err
	}
	return rc, cfg.Validate()
}

func overlayTransfer(meta toml.MetaData, raw transferFile, tc *transfer.Config) error {
	if meta.IsDefined("transfer", "max_retries") {
		tc.MaxRetries = raw.MaxRetries
	}
	if meta.IsDefined("transfer", "verify_checksum") {
		tc.VerifyChecksum = raw.VerifyChecksum
	}
	if meta.IsDefined("transfer", "backoff_multiplier") {
		tc.Backoff.Multiplier = raw.BackoffMultiplier
	}
	durations := []struct {
		key   string
		value string
		ms    int64
		dst   *time.Duration
	}{
		{"timeout", raw.Timeout, raw.TimeoutMS, &tc.Timeout},
		{"poll_interval", raw.PollInterval, raw.PollIntervalMS, &tc.PollInterval},
		{"retry_pause", raw.RetryPause, raw.RetryPauseMS, &tc.Backoff.InitialDelay},
		{"transfer_gap", raw.TransferGap, raw.TransferGapMS, &tc.TransferGap},
	}
	for _, d := range durations {
		if err := overlayDuration(meta, []string{"transfer", d.key}, d.value, d.ms, d.dst); err != nil {
			return err
		}
	}
	return nil
}

// overlayDuration applies key (a Go duration string) or key_ms (integer
// milliseconds). The _ms form wins when both are present.
func overlayDuration(meta toml.MetaData, key []string, value string, ms int64, dst *time.Duration) error {
	name := strings.Join(key, ".")
	if meta.IsDefined(key...) {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = d
	}
	msKey := append(append([]string(nil), key[:len(key)-1]...), key[len(key)-1]+"_ms")
	if meta.IsDefined(msKey...) {
		*dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if v := strings.TrimSpace(o); v != "" {
			out = append(out, v)
		}
	}
	return out
}
