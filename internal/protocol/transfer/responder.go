package transfer

import (
	"fmt"
	"sync"

	"github.com/dp-web4/modbatt-CAN/internal/bus"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
)

// Chunk is one received request.
type Chunk struct {
	Base    uint32
	Segment uint8
	Index   int
	Data    [ChunkSize]byte
}

// Assembler rebuilds a blob from chunks accepted in order.
type Assembler struct {
	data []byte
	next int
}

// Add appends chunk index, which must be the next one expected.
func (a *Assembler) Add(index int, data [ChunkSize]byte) error {
	if index != a.next {
		return fmt.Errorf("%w: got %d want %d", ErrOutOfOrder, index, a.next)
	}
	a.data = append(a.data, data[:]...)
	a.next++
	return nil
}

func (a *Assembler) Next() int {
	return a.next
}

// Bytes returns a copy of everything accepted so far, padding included.
func (a *Assembler) Bytes() []byte {
	return append([]byte(nil), a.data...)
}

func (a *Assembler) Reset() {
	a.data = a.data[:0]
	a.next = 0
}

// Responder is the receiving side of the chunk protocol. Chunk indexes
// share identifier bits with the base, and the segment shares bits with the
// base, so the responder follows the distribution order: it expects the next
// chunk of one active base at a time and moves on once that blob is complete.
type Responder struct {
	tx      bus.Transport
	segment uint8
	bases   []uint32
	chunks  int
	accept  func(Chunk) bool

	mu       sync.Mutex
	active   int
	sessions map[uint32]*Assembler
}

// NewResponder answers requests addressed to segment on bases, in order,
// each carrying chunks chunks. accept may be nil; when it returns false the
// chunk is NACKed.
func NewResponder(tx bus.Transport, segment uint8, bases []uint32, chunks int, accept func(Chunk) bool) *Responder {
	if chunks <= 0 || chunks > MaxChunks {
		chunks = BlobLen / ChunkSize
	}
	r := &Responder{
		tx:       tx,
		segment:  segment,
		bases:    append([]uint32(nil), bases...),
		chunks:   chunks,
		accept:   accept,
		sessions: make(map[uint32]*Assembler, len(bases)),
	}
	for _, b := range bases {
		r.sessions[b] = &Assembler{}
	}
	return r
}

// Handle answers f if it is a chunk request for this responder. It reports
// whether f was consumed.
func (r *Responder) Handle(f frame.Frame) (bool, error) {
	if !f.Extended || f.Remote || len(r.bases) == 0 {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	base := r.bases[r.active]
	asm := r.sessions[base]
	next := asm.Next()
	switch {
	case next < r.chunks && f.ID == RequestID(base, next, r.segment):
		return true, r.receive(base, asm, next, f)
	case next > 0 && f.ID == RequestID(base, next-1, r.segment):
		// our ACK was lost; confirm again without appending
		return true, r.reply(base, next-1, ACK, f.Data)
	case next == 0 && r.active > 0 && f.ID == RequestID(r.bases[r.active-1], r.chunks-1, r.segment):
		return true, r.reply(r.bases[r.active-1], r.chunks-1, ACK, f.Data)
	case f.ID == RequestID(r.bases[0], 0, r.segment):
		logs.Infof("transfer.Responder.Handle restart distribution segment=%d", r.segment)
		for _, a := range r.sessions {
			a.Reset()
		}
		r.active = 0
		return true, r.receive(r.bases[0], r.sessions[r.bases[0]], 0, f)
	case next > 0 && f.ID == RequestID(base, 0, r.segment):
		logs.Infof("transfer.Responder.Handle restart base=0x%03X after %d chunks", base, next)
		asm.Reset()
		return true, r.receive(base, asm, 0, f)
	}
	return false, nil
}

func (r *Responder) receive(base uint32, asm *Assembler, index int, f frame.Frame) error {
	c := Chunk{Base: base, Segment: r.segment, Index: index, Data: f.Data}
	if r.accept != nil && !r.accept(c) {
		logs.Warnf("transfer.Responder.receive nack base=0x%03X chunk=%d", base, index)
		return r.reply(base, index, NACK, f.Data)
	}
	if err := asm.Add(index, f.Data); err != nil {
		return err
	}
	if asm.Next() == r.chunks {
		logs.Infof("transfer.Responder.receive complete base=0x%03X bytes=%d", base, len(asm.data))
		if r.active < len(r.bases)-1 {
			r.active++
		}
	}
	return r.reply(base, index, ACK, f.Data)
}

func (r *Responder) reply(base uint32, index int, status Status, data [ChunkSize]byte) error {
	ack := Ack{Status: status, Chunk: uint8(index), Checksum: Checksum(data[:])}
	payload := ack.Encode()
	f, err := frame.New(ResponseID(base, index, r.segment), payload[:], true)
	if err != nil {
		return err
	}
	return bus.SendWithRetry(r.tx, f, 0)
}

// Received returns the bytes assembled so far for base.
func (r *Responder) Received(base uint32) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if asm, ok := r.sessions[base]; ok {
		return asm.Bytes()
	}
	return nil
}

// Complete reports whether every base has received all its chunks.
func (r *Responder) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, asm := range r.sessions {
		if asm.Next() < r.chunks {
			return false
		}
	}
	return true
}
