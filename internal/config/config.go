package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/bms"
	"github.com/dp-web4/modbatt-CAN/internal/bus"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/registry"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/schema"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/transfer"
	"github.com/dp-web4/modbatt-CAN/internal/sequencer"
	"github.com/dp-web4/modbatt-CAN/internal/vcu"
	"github.com/pelletier/go-toml/v2"
)

// VCUFile is the on-disk layout shared by vcuctl and keyctl. Every
// duration also accepts a <key>_ms integer form, which wins when both are
// present; LoadVCUConfig folds it into the string field.
type VCUFile struct {
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
	StateChangeIntervalMS *int64  `toml:"state_change_interval_ms,omitempty"`
	TransmitInterval      string  `toml:"transmit_interval"`
	TransmitIntervalMS    *int64  `toml:"transmit_interval_ms,omitempty"`
	PollInterval          string  `toml:"poll_interval"`
	PollIntervalMS        *int64  `toml:"poll_interval_ms,omitempty"`
	KeepAliveInterval     string  `toml:"keepalive_interval"`
	KeepAliveIntervalMS   *int64  `toml:"keepalive_interval_ms,omitempty"`
	LinkTimeout           string  `toml:"link_timeout"`
	LinkTimeoutMS         *int64  `toml:"link_timeout_ms,omitempty"`
	HVBusVoltage          float64 `toml:"hv_bus_voltage"`
	TxMaxAttempts         int     `toml:"tx_max_attempts"`

	StatusAddr    string            `toml:"status_addr"`
	CorsOrigins   []string          `toml:"cors_origins"`
	RedisAddr     string            `toml:"redis_addr"`
	RedisPrefix   string            `toml:"redis_prefix"`
	MessageTables string            `toml:"message_tables"`
	FaultBits     map[string]string `toml:"fault_bits,omitempty"`

	Transfer TransferFile `toml:"transfer"`
	Keys     KeysFile     `toml:"keys"`
}

type TransferFile struct {
	MaxRetries        int     `toml:"max_retries"`
	Timeout           string  `toml:"timeout"`
	TimeoutMS         *int64  `toml:"timeout_ms,omitempty"`
	PollInterval      string  `toml:"poll_interval"`
	PollIntervalMS    *int64  `toml:"poll_interval_ms,omitempty"`
	RetryPause        string  `toml:"retry_pause"`
	RetryPauseMS      *int64  `toml:"retry_pause_ms,omitempty"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	TransferGap       string  `toml:"transfer_gap"`
	TransferGapMS     *int64  `toml:"transfer_gap_ms,omitempty"`
	VerifyChecksum    bool    `toml:"verify_checksum"`
}

// KeysFile holds key halves as hex and component ids as text.
type KeysFile struct {
	PackKeyHalf     string `toml:"pack_key_half"`
	AppKeyHalf      string `toml:"app_key_half"`
	PackComponentID string `toml:"pack_component_id"`
	AppComponentID  string `toml:"app_component_id"`
}

// DefaultVCUFile renders the runtime defaults in file form.
func DefaultVCUFile() VCUFile {
	svc := vcu.DefaultServiceConfig()
	open := bus.DefaultOpenConfig()
	tc := svc.Transfer
	return VCUFile{
		Name:                svc.Name,
		Segment:             int(svc.Segment),
		Transport:           open.Kind,
		Interface:           open.Interface,
		SerialBaud:          open.SLCAN.Baud,
		Bitrate:             open.SLCAN.Bitrate,
		Sequence:            svc.Sequence,
		Repeat:              svc.Repeat,
		StateChangeInterval: svc.StateChangeInterval.String(),
		TransmitInterval:    svc.TransmitInterval.String(),
		PollInterval:        svc.PollInterval.String(),
		KeepAliveInterval:   svc.KeepAliveInterval.String(),
		LinkTimeout:         svc.LinkTimeout.String(),
		HVBusVoltage:        svc.HVBusVoltage,
		TxMaxAttempts:       svc.TxAttempts,
		CorsOrigins:         []string{"http://localhost:3000"},
		RedisPrefix:         svc.Publish.Prefix,
		Transfer: TransferFile{
			MaxRetries:        tc.MaxRetries,
			Timeout:           tc.Timeout.String(),
			PollInterval:      tc.PollInterval.String(),
			RetryPause:        tc.Backoff.InitialDelay.String(),
			BackoffMultiplier: tc.Backoff.Multiplier,
			TransferGap:       tc.TransferGap.String(),
			VerifyChecksum:    tc.VerifyChecksum,
		},
	}
}

// LoadVCUConfig overlays the file at path on DefaultVCUFile and validates
// the result. Unknown keys are rejected.
func LoadVCUConfig(path string) (VCUFile, error) {
	cfg := DefaultVCUFile()
	if err := loadToml(path, &cfg); err != nil {
		return VCUFile{}, err
	}
	if err := cfg.foldMillis(); err != nil {
		return VCUFile{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	if err := ValidateVCUConfig(cfg); err != nil {
		return VCUFile{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): unknown keys\n%s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// foldMillis moves every <key>_ms value into its duration string and
// clears it, so a loaded file has one canonical form.
func (cfg *VCUFile) foldMillis() error {
	fields := []struct {
		key string
		ms  **int64
		dst *string
	}{
		{"state_change_interval_ms", &cfg.StateChangeIntervalMS, &cfg.StateChangeInterval},
		{"transmit_interval_ms", &cfg.TransmitIntervalMS, &cfg.TransmitInterval},
		{"poll_interval_ms", &cfg.PollIntervalMS, &cfg.PollInterval},
		{"keepalive_interval_ms", &cfg.KeepAliveIntervalMS, &cfg.KeepAliveInterval},
		{"link_timeout_ms", &cfg.LinkTimeoutMS, &cfg.LinkTimeout},
		{"transfer.timeout_ms", &cfg.Transfer.TimeoutMS, &cfg.Transfer.Timeout},
		{"transfer.poll_interval_ms", &cfg.Transfer.PollIntervalMS, &cfg.Transfer.PollInterval},
		{"transfer.retry_pause_ms", &cfg.Transfer.RetryPauseMS, &cfg.Transfer.RetryPause},
		{"transfer.transfer_gap_ms", &cfg.Transfer.TransferGapMS, &cfg.Transfer.TransferGap},
	}
	for _, f := range fields {
		if *f.ms == nil {
			continue
		}
		ms := **f.ms
		if ms < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", f.key, ms)
		}
		*f.dst = (time.Duration(ms) * time.Millisecond).String()
		*f.ms = nil
	}
	return nil
}

func ValidateVCUConfig(cfg VCUFile) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if cfg.Segment < 0 || cfg.Segment > 0xFF {
		return fmt.Errorf("segment %d out of range", cfg.Segment)
	}
	if _, err := registry.New(schema.Default().Classes(schema.BusPack), []uint8{uint8(cfg.Segment)}); err != nil {
		return fmt.Errorf("segment %d: %w", cfg.Segment, err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case bus.KindSocketCAN:
		if strings.TrimSpace(cfg.Interface) == "" {
			return fmt.Errorf("interface is required for socketcan")
		}
	case bus.KindSLCAN:
		if strings.TrimSpace(cfg.SerialPort) == "" {
			return fmt.Errorf("serial_port is required for slcan")
		}
	case bus.KindLoopback:
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if strings.TrimSpace(cfg.Sequence) != "" {
		if _, err := sequencer.Parse(cfg.Sequence); err != nil {
			return fmt.Errorf("sequence: %w", err)
		}
	}
	durations := map[string]string{
		"state_change_interval":  cfg.StateChangeInterval,
		"transmit_interval":      cfg.TransmitInterval,
		"poll_interval":          cfg.PollInterval,
		"keepalive_interval":     cfg.KeepAliveInterval,
		"link_timeout":           cfg.LinkTimeout,
		"transfer.timeout":       cfg.Transfer.Timeout,
		"transfer.poll_interval": cfg.Transfer.PollInterval,
		"transfer.retry_pause":   cfg.Transfer.RetryPause,
		"transfer.transfer_gap":  cfg.Transfer.TransferGap,
	}
	for key, raw := range durations {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if cfg.Transfer.MaxRetries < 0 {
		return fmt.Errorf("transfer.max_retries must be >= 0")
	}
	if len(cfg.FaultBits) > 0 {
		if _, err := bms.ParseFaultMap(cfg.FaultBits); err != nil {
			return fmt.Errorf("fault_bits: %w", err)
		}
	}
	if _, err := cfg.Keys.Keys(); err != nil {
		return fmt.Errorf("keys: %w", err)
	}
	return nil
}

// ParseDuration accepts Go duration strings. Empty means zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}

// ServiceConfig converts the file into the VCU runtime configuration.
// Empty durations keep their defaults; fault_bits merge over the defaults.
func (cfg VCUFile) ServiceConfig() (vcu.ServiceConfig, error) {
	out := vcu.DefaultServiceConfig()
	if name := strings.TrimSpace(cfg.Name); name != "" {
		out.Name = name
	}
	out.Segment = uint8(cfg.Segment)
	out.Sequence = strings.TrimSpace(cfg.Sequence)
	out.Repeat = cfg.Repeat
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"state_change_interval", cfg.StateChangeInterval, &out.StateChangeInterval},
		{"transmit_interval", cfg.TransmitInterval, &out.TransmitInterval},
		{"poll_interval", cfg.PollInterval, &out.PollInterval},
		{"keepalive_interval", cfg.KeepAliveInterval, &out.KeepAliveInterval},
		{"link_timeout", cfg.LinkTimeout, &out.LinkTimeout},
	} {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := ParseDuration(d.raw)
		if err != nil {
			return vcu.ServiceConfig{}, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	out.HVBusVoltage = cfg.HVBusVoltage
	out.StatusAddr = strings.TrimSpace(cfg.StatusAddr)
	out.CorsOrigins = append([]string(nil), cfg.CorsOrigins...)
	out.Publish.Addr = strings.TrimSpace(cfg.RedisAddr)
	if prefix := strings.TrimSpace(cfg.RedisPrefix); prefix != "" {
		out.Publish.Prefix = prefix
	}
	if len(cfg.FaultBits) > 0 {
		overrides, err := bms.ParseFaultMap(cfg.FaultBits)
		if err != nil {
			return vcu.ServiceConfig{}, fmt.Errorf("fault_bits: %w", err)
		}
		for bit, name := range overrides {
			out.Faults[bit] = name
		}
		if err := out.Faults.Validate(); err != nil {
			return vcu.ServiceConfig{}, fmt.Errorf("fault_bits: %w", err)
		}
	}
	tc, err := cfg.Transfer.Apply(out.Transfer)
	if err != nil {
		return vcu.ServiceConfig{}, fmt.Errorf("transfer: %w", err)
	}
	if cfg.TxMaxAttempts > 0 {
		out.TxAttempts = cfg.TxMaxAttempts
		tc.TxAttempts = cfg.TxMaxAttempts
	}
	out.Transfer = tc
	return out, out.Validate()
}

// OpenConfig returns the transport selection of the file.
func (cfg VCUFile) OpenConfig() bus.OpenConfig {
	open := bus.DefaultOpenConfig()
	open.Kind = strings.ToLower(strings.TrimSpace(cfg.Transport))
	open.Interface = strings.TrimSpace(cfg.Interface)
	open.SLCAN.Port = strings.TrimSpace(cfg.SerialPort)
	if cfg.SerialBaud > 0 {
		open.SLCAN.Baud = cfg.SerialBaud
	}
	if cfg.Bitrate > 0 {
		open.SLCAN.Bitrate = cfg.Bitrate
	}
	return open
}

// Apply overlays the non-empty transfer settings on base.
func (tf TransferFile) Apply(base transfer.Config) (transfer.Config, error) {
	out := base
	out.MaxRetries = tf.MaxRetries
	out.VerifyChecksum = tf.VerifyChecksum
	if tf.BackoffMultiplier > 0 {
		out.Backoff.Multiplier = tf.BackoffMultiplier
	}
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{tf.Timeout, &out.Timeout},
		{tf.PollInterval, &out.PollInterval},
		{tf.RetryPause, &out.Backoff.InitialDelay},
		{tf.TransferGap, &out.TransferGap},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		d, err := ParseDuration(f.raw)
		if err != nil {
			return transfer.Config{}, err
		}
		*f.dst = d
	}
	return out, nil
}

// Keys decodes the key material. Empty fields stay empty.
func (k KeysFile) Keys() (transfer.Keys, error) {
	var out transfer.Keys
	var err error
	if out.PackKeyHalf, err = decodeHex("pack_key_half", k.PackKeyHalf); err != nil {
		return transfer.Keys{}, err
	}
	if out.AppKeyHalf, err = decodeHex("app_key_half", k.AppKeyHalf); err != nil {
		return transfer.Keys{}, err
	}
	out.PackComponentID = []byte(k.PackComponentID)
	out.AppComponentID = []byte(k.AppComponentID)
	for name, v := range map[string][]byte{
		"pack_component_id": out.PackComponentID,
		"app_component_id":  out.AppComponentID,
	} {
		if len(v) > transfer.BlobLen {
			return transfer.Keys{}, fmt.Errorf("%s is %d bytes, limit %d", name, len(v), transfer.BlobLen)
		}
	}
	return out, nil
}

func decodeHex(name, raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(b) > transfer.BlobLen {
		return nil, fmt.Errorf("%s is %d bytes, limit %d", name, len(b), transfer.BlobLen)
	}
	return b, nil
}
