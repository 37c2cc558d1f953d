package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrChunkFailed     = errors.New("transfer: chunk not acknowledged")
	ErrAborted         = errors.New("transfer: aborted")
	ErrPayloadTooLarge = errors.New("transfer: payload too large")
	ErrNack            = errors.New("transfer: chunk rejected")
	ErrAckTimeout      = errors.New("transfer: acknowledgement timeout")
	ErrBadChecksum     = errors.New("transfer: checksum mismatch")
	ErrOutOfOrder      = errors.New("transfer: chunk out of order")
)

// Outcome is the terminal state of one transfer.
type Outcome int

const (
	Success Outcome = iota
	Failed
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes a finished transfer. FailedChunk is -1 unless Status is
// Failed.
type Result struct {
	ID          string
	Base        uint32
	Segment     uint8
	Status      Outcome
	Chunks      int
	Acked       int
	Retries     int
	FailedChunk int
}

// ChunkError identifies the first chunk that could not be delivered.
// errors.Is(err, ErrChunkFailed) holds; Unwrap yields the last cause.
type ChunkError struct {
	Base     uint32
	Chunk    int
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("transfer: base=0x%03X chunk %d failed after %d attempts: %v", e.Base, e.Chunk, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

func (e *ChunkError) Is(target error) bool { return target == ErrChunkFailed }
