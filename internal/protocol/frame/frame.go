package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	MaxStandardID uint32 = 0x7FF
	MaxExtendedID uint32 = 0x1FFFFFFF
	MaxDataLen           = 8

	// RecordLen is the size of one frame in the SocketCAN can_frame layout.
	RecordLen = 16

	flagExtended uint32 = 0x80000000
	flagRemote   uint32 = 0x40000000
)

var (
	ErrInvalidID       = errors.New("frame: invalid identifier")
	ErrInvalidLen      = errors.New("frame: invalid data length")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrShortRecord     = errors.New("frame: short record")
)

// Frame is one classical CAN frame. Values are copied, never shared.
type Frame struct {
	ID        uint32
	Extended  bool
	Remote    bool
	Len       uint8
	Data      [MaxDataLen]byte
	Timestamp time.Time
}

// New builds a data frame from up to eight payload bytes.
func New(id uint32, payload []byte, extended bool) (Frame, error) {
	if len(payload) > MaxDataLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	f := Frame{ID: id, Extended: extended, Len: uint8(len(payload))}
	copy(f.Data[:], payload)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks identifier range for the address space and data length.
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	limit := MaxStandardID
	if f.Extended {
		limit = MaxExtendedID
	}
	if f.ID > limit {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.ID)
	}
	return nil
}

// Payload returns the bytes covered by Len.
func (f Frame) Payload() []byte {
	n := f.Len
	if n > MaxDataLen {
		n = MaxDataLen
	}
	out := make([]byte, n)
	copy(out, f.Data[:n])
	return out
}

// Word returns the payload as a little-endian 64-bit word. Bytes beyond Len
// read as zero.
func (f Frame) Word() uint64 {
	var buf [MaxDataLen]byte
	n := f.Len
	if n > MaxDataLen {
		n = MaxDataLen
	}
	copy(buf[:], f.Data[:n])
	return binary.LittleEndian.Uint64(buf[:])
}

func (f Frame) String() string {
	if f.Extended {
		return fmt.Sprintf("%08X#% X", f.ID, f.Data[:min(int(f.Len), MaxDataLen)])
	}
	return fmt.Sprintf("%03X#% X", f.ID, f.Data[:min(int(f.Len), MaxDataLen)])
}

// ReadFrame reads one 16-byte can_frame record.
func ReadFrame(r io.Reader) (Frame, error) {
	var buf [RecordLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortRecord
		}
		return Frame{}, err
	}
	return DecodeRecord(buf[:])
}

// WriteFrame writes f as one 16-byte can_frame record.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := EncodeRecord(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func EncodeRecord(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, RecordLen)
	binary.LittleEndian.PutUint32(buf[0:4], f.WireID())
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf, nil
}

func DecodeRecord(b []byte) (Frame, error) {
	if len(b) < RecordLen {
		return Frame{}, ErrShortRecord
	}
	id, extended, remote := SplitWireID(binary.LittleEndian.Uint32(b[0:4]))
	f := Frame{ID: id, Extended: extended, Remote: remote, Len: b[4]}
	copy(f.Data[:], b[8:16])
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// WireID returns the identifier with the SocketCAN EFF and RTR flags set.
func (f Frame) WireID() uint32 {
	id := f.ID
	if f.Extended {
		id |= flagExtended
	}
	if f.Remote {
		id |= flagRemote
	}
	return id
}

// SplitWireID is the inverse of WireID.
func SplitWireID(raw uint32) (id uint32, extended, remote bool) {
	extended = raw&flagExtended != 0
	remote = raw&flagRemote != 0
	if extended {
		return raw & MaxExtendedID, extended, remote
	}
	return raw & MaxStandardID, extended, remote
}
