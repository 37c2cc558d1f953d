package transfer

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultJournalSize bounds how many finished transfers are retained.
const DefaultJournalSize = 64

// Entry tracks one transfer session.
type Entry struct {
	ID         string    `json:"id"`
	Base       uint32    `json:"base"`
	Segment    uint8     `json:"segment"`
	Status     string    `json:"status"`
	Chunks     int       `json:"chunks"`
	Acked      int       `json:"acked"`
	Retries    int       `json:"retries"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Journal stores transfer sessions by id for status reporting.
type Journal struct {
	mu    sync.RWMutex
	items map[string]Entry
	limit int
}

func NewJournal(limit int) *Journal {
	if limit <= 0 {
		limit = DefaultJournalSize
	}
	return &Journal{items: make(map[string]Entry), limit: limit}
}

func (j *Journal) Start(res Result, at time.Time) {
	key := strings.TrimSpace(res.ID)
	if key == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.items[key] = Entry{
		ID:        key,
		Base:      res.Base,
		Segment:   res.Segment,
		Status:    "running",
		Chunks:    res.Chunks,
		StartedAt: at,
		UpdatedAt: at,
	}
	j.evictLocked()
}

func (j *Journal) MarkChunk(id string, acked, retries int, at time.Time) (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	item, ok := j.items[strings.TrimSpace(id)]
	if !ok {
		return Entry{}, false
	}
	item.Acked = acked
	item.Retries = retries
	item.UpdatedAt = at
	j.items[item.ID] = item
	return item, true
}

func (j *Journal) MarkRetry(id, lastErr string, at time.Time) (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	item, ok := j.items[strings.TrimSpace(id)]
	if !ok {
		return Entry{}, false
	}
	item.LastError = strings.TrimSpace(lastErr)
	item.UpdatedAt = at
	j.items[item.ID] = item
	return item, true
}

// Finish records the terminal state. Sessions rejected before Start are
// recorded too.
func (j *Journal) Finish(res Result, err error, at time.Time) {
	key := strings.TrimSpace(res.ID)
	if key == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	item, ok := j.items[key]
	if !ok {
		item = Entry{ID: key, Base: res.Base, Segment: res.Segment, StartedAt: at}
	}
	item.Status = res.Status.String()
	item.Chunks = res.Chunks
	item.Acked = res.Acked
	item.Retries = res.Retries
	item.UpdatedAt = at
	item.FinishedAt = at
	if err != nil {
		item.LastError = err.Error()
	}
	j.items[key] = item
	j.evictLocked()
}

func (j *Journal) Get(id string) (Entry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	item, ok := j.items[strings.TrimSpace(id)]
	return item, ok
}

// List returns sessions oldest first.
func (j *Journal) List() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Entry, 0, len(j.items))
	for _, item := range j.items {
		out = append(out, item)
	}
	sortEntries(out)
	return out
}

func (j *Journal) evictLocked() {
	if len(j.items) <= j.limit {
		return
	}
	all := make([]Entry, 0, len(j.items))
	for _, item := range j.items {
		all = append(all, item)
	}
	sortEntries(all)
	for _, item := range all[:len(all)-j.limit] {
		delete(j.items, item.ID)
	}
}

func sortEntries(out []Entry) {
	sort.Slice(out, func(a, b int) bool {
		if !out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].StartedAt.Before(out[b].StartedAt)
		}
		return out[a].ID < out[b].ID
	})
}
