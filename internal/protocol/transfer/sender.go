package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/dp-web4/modbatt-CAN/internal/bus"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/observability"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
)

// Progress is reported after every chunk attempt.
type Progress struct {
	Base    uint32
	Chunk   int
	Total   int
	Attempt int
	Outcome string
}

type ProgressFunc func(Progress)

type Option func(*Sender)

// WithProgress registers a callback invoked after each chunk attempt.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Sender) { s.progress = fn }
}

// WithJournal records every transfer in j.
func WithJournal(j *Journal) Option {
	return func(s *Sender) { s.journal = j }
}

// WithPassthrough hands every frame read while waiting that is not the
// expected response to fn, so telemetry keeps flowing during a transfer.
func WithPassthrough(fn func(frame.Frame)) Option {
	return func(s *Sender) { s.passthrough = fn }
}

// Sender drives transfers over one transport. It is not safe for
// concurrent Send calls: transfers on one bus run one at a time.
type Sender struct {
	tx          bus.Transport
	cfg         Config
	progress    ProgressFunc
	journal     *Journal
	passthrough func(frame.Frame)
	rng         *rand.Rand
}

func NewSender(tx bus.Transport, cfg Config, opts ...Option) *Sender {
	s := &Sender{
		tx:  tx,
		cfg: cfg.withDefaults(),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) Config() Config {
	return s.cfg
}

type waitOutcome int

const (
	waitAck waitOutcome = iota
	waitNack
	waitTimeout
	waitBadChecksum
)

func (w waitOutcome) String() string {
	switch w {
	case waitAck:
		return "ack"
	case waitNack:
		return "nack"
	case waitBadChecksum:
		return "bad_checksum"
	default:
		return "timeout"
	}
}

func (w waitOutcome) err() error {
	switch w {
	case waitNack:
		return ErrNack
	case waitBadChecksum:
		return ErrBadChecksum
	default:
		return ErrAckTimeout
	}
}

// Chunks returns how many chunks a payload of n bytes needs.
func Chunks(n int) int {
	return (n + ChunkSize - 1) / ChunkSize
}

// Send delivers payload to segment on the transfer base, one acknowledged
// chunk at a time. ctx is checked between chunks and between attempts; a
// wait for a response always runs to its timeout.
func (s *Sender) Send(ctx context.Context, base uint32, segment uint8, payload []byte) (Result, error) {
	total := Chunks(len(payload))
	res := Result{
		ID:          uuid.NewString(),
		Base:        base,
		Segment:     segment,
		Chunks:      total,
		FailedChunk: -1,
	}
	if total > MaxChunks {
		return s.finish(res, Failed, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload)))
	}
	if s.journal != nil {
		s.journal.Start(res, time.Now())
	}
	logs.Infof("transfer.Sender.Send start id=%s base=0x%03X segment=%d bytes=%d chunks=%d",
		res.ID, base, segment, len(payload), total)

	for chunk := 0; chunk < total; chunk++ {
		if err := ctx.Err(); err != nil {
			return s.finish(res, Aborted, fmt.Errorf("%w: before chunk %d: %v", ErrAborted, chunk, err))
		}
		var data [ChunkSize]byte
		copy(data[:], payload[chunk*ChunkSize:])

		retries, err := s.sendChunk(ctx, &res, chunk, data)
		res.Retries += retries
		if err != nil {
			if errors.Is(err, ErrAborted) {
				return s.finish(res, Aborted, err)
			}
			res.FailedChunk = chunk
			return s.finish(res, Failed, err)
		}
		res.Acked++
		if s.journal != nil {
			s.journal.MarkChunk(res.ID, res.Acked, res.Retries, time.Now())
		}
	}
	return s.finish(res, Success, nil)
}

// sendChunk sends one chunk until it is acknowledged or MaxRetries resends
// are used up. It returns the number of resends.
func (s *Sender) sendChunk(ctx context.Context, res *Result, chunk int, data [ChunkSize]byte) (int, error) {
	f, err := frame.New(RequestID(res.Base, chunk, res.Segment), data[:], true)
	if err != nil {
		return 0, err
	}
	var cause error
	attempts := s.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := ctx.Err(); err != nil {
				return attempt - 2, fmt.Errorf("%w: chunk %d retry %d: %v", ErrAborted, chunk, attempt-1, err)
			}
			time.Sleep(NextRetryDelay(s.cfg.Backoff, attempt-1, s.rng))
		}
		if err := bus.SendWithRetry(s.tx, f, s.cfg.TxAttempts); err != nil {
			logs.Errf("transfer.Sender.sendChunk tx failed id=%s chunk=%d err=%v", res.ID, chunk, err)
			return attempt - 1, &ChunkError{Base: res.Base, Chunk: chunk, Attempts: attempt, Err: err}
		}
		outcome, err := s.await(res.Base, chunk, res.Segment, data)
		if err != nil {
			return attempt - 1, &ChunkError{Base: res.Base, Chunk: chunk, Attempts: attempt, Err: err}
		}
		observability.RecordChunkAttempt(res.Base, outcome.String())
		s.report(Progress{Base: res.Base, Chunk: chunk, Total: res.Chunks, Attempt: attempt, Outcome: outcome.String()})
		if outcome == waitAck {
			logs.Debugf("transfer.Sender.sendChunk ack id=%s chunk=%d/%d attempt=%d", res.ID, chunk+1, res.Chunks, attempt)
			return attempt - 1, nil
		}
		cause = outcome.err()
		logs.Warnf("transfer.Sender.sendChunk %s id=%s chunk=%d attempt=%d/%d", outcome, res.ID, chunk, attempt, attempts)
		if s.journal != nil {
			s.journal.MarkRetry(res.ID, cause.Error(), time.Now())
		}
	}
	return attempts - 1, &ChunkError{Base: res.Base, Chunk: chunk, Attempts: attempts, Err: cause}
}

// await polls the transport until the response for chunk arrives or the
// timeout elapses. Frames that are not that response are passed through.
func (s *Sender) await(base uint32, chunk int, segment uint8, data [ChunkSize]byte) (waitOutcome, error) {
	want := ResponseID(base, chunk, segment)
	deadline := time.Now().Add(s.cfg.Timeout)
	for {
		for {
			f, ok, err := s.tx.Receive()
			if err != nil {
				return waitTimeout, err
			}
			if !ok {
				break
			}
			if !f.Extended || f.ID != want || f.Len < ackMinLen {
				s.forward(f)
				continue
			}
			ack, _ := DecodeAck(f.Payload())
			switch {
			case ack.Status == ACK && int(ack.Chunk) == chunk&0xFF:
				if s.cfg.VerifyChecksum && ack.Checksum != Checksum(data[:]) {
					logs.Warnf("transfer.Sender.await checksum mismatch chunk=%d got=0x%04X want=0x%04X",
						chunk, ack.Checksum, Checksum(data[:]))
					return waitBadChecksum, nil
				}
				return waitAck, nil
			case ack.Status == NACK:
				return waitNack, nil
			default:
				// aliased identifier or stale echo
				logs.Debugf("transfer.Sender.await ignore status=%s echo=%d chunk=%d", ack.Status, ack.Chunk, chunk)
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return waitTimeout, nil
		}
		time.Sleep(min(s.cfg.PollInterval, remaining))
	}
}

func (s *Sender) forward(f frame.Frame) {
	if s.passthrough != nil {
		s.passthrough(f)
		return
	}
	observability.RecordDrop(observability.DropUnexpected)
}

func (s *Sender) report(p Progress) {
	if s.progress != nil {
		s.progress(p)
	}
}

func (s *Sender) finish(res Result, status Outcome, err error) (Result, error) {
	res.Status = status
	observability.RecordTransfer(res.Base, status.String())
	if s.journal != nil {
		s.journal.Finish(res, err, time.Now())
	}
	switch status {
	case Success:
		logs.Infof("transfer.Sender.Send done id=%s base=0x%03X chunks=%d retries=%d", res.ID, res.Base, res.Chunks, res.Retries)
	case Aborted:
		logs.Warnf("transfer.Sender.Send aborted id=%s base=0x%03X acked=%d/%d", res.ID, res.Base, res.Acked, res.Chunks)
	default:
		logs.Errf("transfer.Sender.Send failed id=%s base=0x%03X chunk=%d err=%v", res.ID, res.Base, res.FailedChunk, err)
	}
	return res, err
}
