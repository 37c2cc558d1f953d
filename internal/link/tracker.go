package link

import (
	"sync"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
)

// Status is a point-in-time view of one link.
type Status struct {
	Name        string `json:"name"`
	Connected   bool   `json:"connected"`
	LastContact Stamp  `json:"last_contact"`
	Elapsed     uint32 `json:"elapsed_ticks"`
}

// Tracker holds the liveness state of one peer. Absence of frames is the
// only failure signal: CheckTimeout is the only path that marks it down.
type Tracker struct {
	name  string
	clock Clock

	mu           sync.Mutex
	last         Stamp
	connected    bool
	onDisconnect []func()
}

func NewTracker(name string, clock Clock) *Tracker {
	return &Tracker{name: name, clock: clock}
}

// OnDisconnect registers fn to run after each connected -> disconnected
// transition. Dependent state such as a sequence cursor resets here.
func (t *Tracker) OnDisconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = append(t.onDisconnect, fn)
}

// OnFrameReceived records contact now and marks the link connected.
func (t *Tracker) OnFrameReceived() {
	t.mu.Lock()
	now := t.clock.Now()
	was := t.connected
	t.last = now
	t.connected = true
	t.mu.Unlock()
	if !was {
		logs.Infof("link.Tracker connected name=%s ticks=%d overflow=%d", t.name, now.Ticks, now.Overflow)
	}
}

// Elapsed returns ticks since the last contact.
func (t *Tracker) Elapsed() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ElapsedSince(t.last, t.clock.Now(), t.clock.Period())
}

// CheckTimeout marks the link down when more than threshold ticks passed
// since the last contact. It reports whether this call made the transition.
func (t *Tracker) CheckTimeout(threshold uint32) bool {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return false
	}
	elapsed := ElapsedSince(t.last, t.clock.Now(), t.clock.Period())
	if elapsed <= threshold {
		t.mu.Unlock()
		return false
	}
	t.connected = false
	hooks := append([]func(){}, t.onDisconnect...)
	t.mu.Unlock()

	logs.Warnf("link.Tracker timeout name=%s elapsed=%d threshold=%d", t.name, elapsed, threshold)
	for _, fn := range hooks {
		fn()
	}
	return true
}

func (t *Tracker) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Reset forgets the last contact and marks the link down without running
// disconnect hooks.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = Stamp{}
	t.connected = false
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	return Status{
		Name:        t.name,
		Connected:   t.connected,
		LastContact: t.last,
		Elapsed:     ElapsedSince(t.last, now, t.clock.Period()),
	}
}
