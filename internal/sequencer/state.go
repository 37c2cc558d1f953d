package sequencer

import (
	"errors"
	"fmt"
	"strings"
)

// State is the pack state the VCU requests in contactor_ctrl.
type State uint8

const (
	Off State = iota
	Standby
	Precharge
	On
)

// MaxPlaylistLen bounds a configured playlist.
const MaxPlaylistLen = 32

// DefaultPlaylist is used when configuration supplies no sequence.
const DefaultPlaylist = "0123"

var (
	ErrEmptyPlaylist   = errors.New("sequencer: empty playlist")
	ErrPlaylistTooLong = errors.New("sequencer: playlist too long")
	ErrUnknownState    = errors.New("sequencer: unknown state")
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case Standby:
		return "standby"
	case Precharge:
		return "precharge"
	case On:
		return "on"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s State) Valid() bool {
	return s <= On
}

// PackStatus is the status nibble reported in the BMS state frame.
type PackStatus uint8

const (
	StatusOff PackStatus = iota
	StatusEmpty
	StatusNormal
	StatusFull
)

func (s PackStatus) String() string {
	switch s {
	case StatusOff:
		return "off"
	case StatusEmpty:
		return "empty"
	case StatusNormal:
		return "normal"
	case StatusFull:
		return "full"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Parse builds a playlist from a string of state digits such as "0123".
// Whitespace and commas between digits are ignored.
func Parse(seq string) ([]State, error) {
	out := make([]State, 0, len(seq))
	for i, r := range seq {
		if r == ',' || strings.ContainsRune(" \t", r) {
			continue
		}
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: %q at %d", ErrUnknownState, r, i)
		}
		s := State(r - '0')
		if !s.Valid() {
			return nil, fmt.Errorf("%w: %d at %d", ErrUnknownState, s, i)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, ErrEmptyPlaylist
	}
	if len(out) > MaxPlaylistLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrPlaylistTooLong, len(out), MaxPlaylistLen)
	}
	return out, nil
}

// Format renders a playlist in the digit form Parse accepts.
func Format(playlist []State) string {
	var b strings.Builder
	for _, s := range playlist {
		b.WriteByte('0' + byte(s))
	}
	return b.String()
}
