// Package publish mirrors BMS state into Redis hashes and announces changed
// fields on a channel per hash.
package publish

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dp-web4/modbatt-CAN/internal/bms"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/sequencer"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Segment  uint8
}

func DefaultConfig() Config {
	return Config{Prefix: "modbatt"}
}

// Enabled reports whether a Redis address is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// State is what one publish cycle writes.
type State struct {
	Pack      bms.Pack
	Modules   []bms.Module
	Connected bool
	Command   sequencer.State
}

// Fields announced on the channel when their value changes.
var (
	packNotify   = []string{"connected", "state", "status", "soc", "command"}
	moduleNotify = []string{"state", "soc", "faults"}
)

type Publisher struct {
	client redis.UniversalClient
	cfg    Config

	mu          sync.Mutex
	prevPack    map[string]string
	prevModules map[uint8]map[string]string
}

func New(cfg Config) *Publisher {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg)
}

func NewWithClient(client redis.UniversalClient, cfg Config) *Publisher {
	return &Publisher{client: client, cfg: cfg, prevModules: make(map[uint8]map[string]string)}
}

func (p *Publisher) PackKey() string {
	return fmt.Sprintf("%s:pack:%d", p.cfg.Prefix, p.cfg.Segment)
}

func (p *Publisher) ModuleKey(id uint8) string {
	return fmt.Sprintf("%s:module:%d:%d", p.cfg.Prefix, p.cfg.Segment, id)
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Publish writes every hash in one transaction and publishes the names of
// changed fields. Change tracking only advances when the transaction
// succeeds, so a failed cycle is announced again on the next one.
func (p *Publisher) Publish(ctx context.Context, st State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pipe := p.client.TxPipeline()

	packKey := p.PackKey()
	pack := PackFields(st)
	pipe.HSet(ctx, packKey, toArgs(pack))
	notified := 0
	for _, name := range Changed(p.prevPack, pack, packNotify) {
		pipe.Publish(ctx, packKey, name)
		notified++
	}

	modules := make(map[uint8]map[string]string, len(st.Modules))
	for _, m := range st.Modules {
		key := p.ModuleKey(m.ID)
		fields := ModuleFields(m)
		modules[m.ID] = fields
		pipe.HSet(ctx, key, toArgs(fields))
		for _, name := range Changed(p.prevModules[m.ID], fields, moduleNotify) {
			pipe.Publish(ctx, key, name)
			notified++
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		logs.Errf("publish.Publisher.Publish key=%s err=%v", packKey, err)
		return fmt.Errorf("publish: %w", err)
	}
	p.prevPack = pack
	p.prevModules = modules
	logs.Tracef("publish.Publisher.Publish key=%s modules=%d notified=%d", packKey, len(modules), notified)
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// PackFields renders the pack hash.
func PackFields(st State) map[string]string {
	pk := st.Pack
	return map[string]string{
		"connected":          strconv.FormatBool(st.Connected),
		"command":            st.Command.String(),
		"state":              pk.State.String(),
		"status":             pk.Status.String(),
		"soc":                formatFloat(pk.SOC),
		"soh":                formatFloat(pk.SOH),
		"voltage":            formatFloat(pk.Voltage),
		"current":            formatFloat(pk.Current),
		"cell-hi-volt":       formatFloat(pk.CellHiVolt),
		"cell-lo-volt":       formatFloat(pk.CellLoVolt),
		"cell-hi-temp":       formatFloat(pk.CellHiTemp),
		"cell-lo-temp":       formatFloat(pk.CellLoTemp),
		"charge-limit":       formatFloat(pk.ChargeLimit),
		"discharge-limit":    formatFloat(pk.DischargeLimit),
		"charge-end-voltage": formatFloat(pk.ChargeEndVoltage),
		"total-modules":      strconv.Itoa(pk.TotalModules),
		"active-modules":     strconv.Itoa(pk.ActiveModules),
	}
}

// ModuleFields renders one module hash.
func ModuleFields(m bms.Module) map[string]string {
	faults := append([]string(nil), m.Faults...)
	sort.Strings(faults)
	return map[string]string{
		"state":        m.State.String(),
		"status":       strconv.Itoa(int(m.Status)),
		"soc":          formatFloat(m.SOC),
		"soh":          formatFloat(m.SOH),
		"voltage":      formatFloat(m.Voltage),
		"current":      formatFloat(m.Current),
		"cell-count":   strconv.Itoa(m.CellCount),
		"cell-hi-volt": formatFloat(m.CellHiVolt),
		"cell-lo-volt": formatFloat(m.CellLoVolt),
		"cell-hi-temp": formatFloat(m.CellHiTemp),
		"cell-lo-temp": formatFloat(m.CellLoTemp),
		"fault-code":   strconv.Itoa(int(m.FaultCode)),
		"faults":       strings.Join(faults, ","),
	}
}

// Changed lists the names in watch whose value differs between prev and
// next. A nil prev reports every watched field.
func Changed(prev, next map[string]string, watch []string) []string {
	var out []string
	for _, name := range watch {
		if prev == nil || prev[name] != next[name] {
			out = append(out, name)
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toArgs(fields map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
