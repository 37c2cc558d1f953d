package bus

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindLoopback  = "loopback"
	KindSocketCAN = "socketcan"
	KindSLCAN     = "slcan"
	KindReplay    = "replay"
)

// OpenConfig selects and configures a transport.
type OpenConfig struct {
	Kind       string
	Interface  string
	SLCAN      SLCANConfig
	ReplayPath string
	QueueDepth int
}

func DefaultOpenConfig() OpenConfig {
	return OpenConfig{Kind: KindSocketCAN, Interface: "can0", SLCAN: DefaultSLCANConfig()}
}

// Open returns the configured transport. A loopback transport has no peer
// attached and serves dry runs.
func Open(cfg OpenConfig) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case KindLoopback:
		end, _ := NewLoopbackPair(cfg.QueueDepth)
		return end, nil
	case KindSocketCAN, "":
		t, err := OpenSocketCAN(cfg.Interface, cfg.QueueDepth)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindSLCAN:
		sc := cfg.SLCAN
		if cfg.QueueDepth > 0 {
			sc.QueueDepth = cfg.QueueDepth
		}
		t, err := OpenSLCAN(sc)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindReplay:
		f, err := os.Open(cfg.ReplayPath)
		if err != nil {
			return nil, fmt.Errorf("bus: open replay: %w", err)
		}
		return NewReplay(f), nil
	default:
		return nil, fmt.Errorf("%w: transport %q", ErrUnsupported, cfg.Kind)
	}
}
