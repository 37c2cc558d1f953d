package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/schema"
)

const (
	// ChunkSize is the payload carried by one request frame.
	ChunkSize = frame.MaxDataLen
	// MaxChunks is the number of chunk indexes the identifier can carry.
	MaxChunks = 256

	ackMinLen = 4
)

// Status is the first byte of a response frame.
type Status uint8

const (
	NACK Status = 0x00
	ACK  Status = 0x01
)

func (s Status) String() string {
	switch s {
	case ACK:
		return "ack"
	case NACK:
		return "nack"
	default:
		return fmt.Sprintf("status(0x%02X)", uint8(s))
	}
}

var ErrShortAck = errors.New("transfer: short response payload")

// Ack is the decoded response to one chunk.
type Ack struct {
	Status   Status
	Chunk    uint8
	Checksum uint16
}

// Encode lays out status, chunk echo, big-endian checksum and four zero bytes.
func (a Ack) Encode() [frame.MaxDataLen]byte {
	var out [frame.MaxDataLen]byte
	out[0] = byte(a.Status)
	out[1] = a.Chunk
	binary.BigEndian.PutUint16(out[2:4], a.Checksum)
	return out
}

func DecodeAck(payload []byte) (Ack, error) {
	if len(payload) < ackMinLen {
		return Ack{}, fmt.Errorf("%w: %d bytes", ErrShortAck, len(payload))
	}
	return Ack{
		Status:   Status(payload[0]),
		Chunk:    payload[1],
		Checksum: binary.BigEndian.Uint16(payload[2:4]),
	}, nil
}

// RequestID is the extended identifier of chunk n sent to segment.
func RequestID(base uint32, chunk int, segment uint8) uint32 {
	return base | uint32(chunk&0xFF)<<8 | uint32(segment)
}

// ResponseID is the identifier the receiver answers chunk n on.
func ResponseID(base uint32, chunk int, segment uint8) uint32 {
	return RequestID(base+schema.TransferResponseOffset, chunk, segment)
}

const (
	crcPolynomial uint16 = 0x1021
	crcInitial    uint16 = 0xFFFF
)

// Checksum is CRC-16/CCITT-FALSE over one chunk.
func Checksum(data []byte) uint16 {
	crc := crcInitial
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
