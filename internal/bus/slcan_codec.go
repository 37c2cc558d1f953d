package bus

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
)

var ErrSLCANLine = errors.New("bus: malformed slcan line")

// slcanBitrates maps bus bitrate to the SLCAN Sn setup command.
var slcanBitrates = map[int]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// EncodeSLCAN renders f as one SLCAN line including the trailing CR.
func EncodeSLCAN(f frame.Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	switch {
	case f.Remote && f.Extended:
		b.WriteByte('R')
	case f.Remote:
		b.WriteByte('r')
	case f.Extended:
		b.WriteByte('T')
	default:
		b.WriteByte('t')
	}
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	b.WriteByte('0' + f.Len)
	if !f.Remote {
		b.WriteString(strings.ToUpper(hex.EncodeToString(f.Data[:f.Len])))
	}
	b.WriteByte('\r')
	return b.String(), nil
}

// ParseSLCAN decodes one received SLCAN frame line. The trailing CR is
// optional.
func ParseSLCAN(line string) (frame.Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return frame.Frame{}, fmt.Errorf("%w: empty", ErrSLCANLine)
	}
	var f frame.Frame
	idLen := 3
	switch line[0] {
	case 't':
	case 'T':
		f.Extended, idLen = true, 8
	case 'r':
		f.Remote = true
	case 'R':
		f.Extended, f.Remote, idLen = true, true, 8
	default:
		return frame.Frame{}, fmt.Errorf("%w: kind %q", ErrSLCANLine, line[0])
	}
	if len(line) < 1+idLen+1 {
		return frame.Frame{}, fmt.Errorf("%w: short %q", ErrSLCANLine, line)
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: id %v", ErrSLCANLine, err)
	}
	f.ID = uint32(id)
	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return frame.Frame{}, fmt.Errorf("%w: dlc %q", ErrSLCANLine, dlc)
	}
	f.Len = dlc - '0'
	data := line[2+idLen:]
	if !f.Remote {
		// Adapters may append a 4-digit timestamp after the data.
		if len(data) < int(f.Len)*2 {
			return frame.Frame{}, fmt.Errorf("%w: data %q", ErrSLCANLine, data)
		}
		if _, err := hex.Decode(f.Data[:], []byte(data[:int(f.Len)*2])); err != nil {
			return frame.Frame{}, fmt.Errorf("%w: data %v", ErrSLCANLine, err)
		}
	}
	if err := f.Validate(); err != nil {
		return frame.Frame{}, err
	}
	return f, nil
}

func slcanSetup(bitrate int) ([]string, error) {
	cmd, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("bus: unsupported slcan bitrate %d", bitrate)
	}
	return []string{"C\r", cmd + "\r", "O\r"}, nil
}
