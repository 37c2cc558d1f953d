package sequencer

import (
	"sync"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
)

// Cursor walks a playlist of states. Advancing and reading the current
// state are separate so a scheduler can drive them on different intervals.
type Cursor struct {
	mu       sync.Mutex
	playlist []State
	repeat   bool
	index    int
}

func NewCursor(playlist []State, repeat bool) *Cursor {
	if len(playlist) == 0 {
		logs.Errf("sequencer.NewCursor empty playlist; holding %s", Off)
	}
	for i, s := range playlist {
		if !s.Valid() {
			logs.Errf("sequencer.NewCursor bad state=%d index=%d; it reads as %s", uint8(s), i, Off)
		}
	}
	return &Cursor{playlist: append([]State(nil), playlist...), repeat: repeat}
}

// Advance moves to the next entry, wraps when repeating, and otherwise
// holds the last entry.
func (c *Cursor) Advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.index+1 < len(c.playlist):
		c.index++
	case c.repeat:
		c.index = 0
	}
}

// Current returns the state at the cursor. An empty playlist, an index out
// of range or an invalid entry yields Off; NewCursor reports those at error
// level.
func (c *Cursor) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index < 0 || c.index >= len(c.playlist) {
		logs.Debugf("sequencer.Cursor.Current index=%d len=%d out of range", c.index, len(c.playlist))
		return Off
	}
	s := c.playlist[c.index]
	if !s.Valid() {
		logs.Debugf("sequencer.Cursor.Current bad state=%d index=%d", uint8(s), c.index)
		return Off
	}
	return s
}

func (c *Cursor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}

func (c *Cursor) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

func (c *Cursor) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.playlist)
}

func (c *Cursor) Repeat() bool {
	return c.repeat
}

// Status is a point-in-time view of a cursor.
type Status struct {
	State  State `json:"state"`
	Index  int   `json:"index"`
	Len    int   `json:"len"`
	Repeat bool  `json:"repeat"`
}

func (c *Cursor) Status() Status {
	st := c.Current()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: st, Index: c.index, Len: len(c.playlist), Repeat: c.repeat}
}
