package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/bus"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/registry"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/schema"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/transfer"
)

const (
	formatLog  = "log"
	formatYAML = "yaml"

	idleSleep = time.Millisecond
)

var errLimit = errors.New("frame limit reached")

type dumpStats struct {
	frames  int
	decoded int
	unknown int
	invalid int
}

type dumper struct {
	catalog *schema.Catalog
	reg     *registry.Registry
	out     io.Writer
	format  string
	capture io.Writer
	limit   int
	stats   dumpStats
}

func newDumper(catalog *schema.Catalog, reg *registry.Registry, out io.Writer, format string, capture io.Writer) *dumper {
	return &dumper{catalog: catalog, reg: reg, out: out, format: format, capture: capture}
}

// run reads until ctx ends, the frame limit is hit, or a replay reaches EOF.
func (d *dumper) run(ctx context.Context, tr bus.Transport) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := bus.Drain(tr, func(f frame.Frame) {
			if d.limit > 0 && d.stats.frames >= d.limit {
				return
			}
			if herr := d.handle(f); herr != nil {
				logs.Warnf("candump write err=%v", herr)
			}
		})
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.limit > 0 && d.stats.frames >= d.limit {
			return nil
		}
		if n == 0 {
			time.Sleep(idleSleep)
		}
	}
}

func (d *dumper) handle(f frame.Frame) error {
	d.stats.frames++
	if d.capture != nil {
		if err := frame.WriteFrame(d.capture, f); err != nil {
			return err
		}
	}
	if f.Extended {
		return d.writeExtended(f)
	}
	m, ok := d.reg.Parse(f.ID)
	if !ok {
		d.stats.unknown++
		logs.Debugf("candump unknown frame=%s", f)
		return d.writeRaw(f, "unknown")
	}
	rec, err := d.catalog.Decode(m.Class.Base, f.Payload())
	if err != nil {
		d.stats.invalid++
		logs.Warnf("candump invalid id=0x%03X class=%s err=%v", f.ID, m.Class.Name(), err)
	} else {
		d.stats.decoded++
	}
	return d.writeRecord(f, m, rec)
}

func (d *dumper) writeRecord(f frame.Frame, m registry.Match, rec protocol.Record) error {
	if d.format == formatYAML {
		body, err := protocol.MarshalRecord(rec)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(d.out, "---\n# id=0x%03X segment=%d %s\n%s", f.ID, m.Segment, stamp(f), body)
		return err
	}
	_, err := fmt.Fprintf(d.out, "%s 0x%03X seg=%d %s %s\n", stamp(f), f.ID, m.Segment, rec.Table, formatFields(rec))
	return err
}

// writeExtended prints transfer traffic. A response payload is shown as an
// ACK; requests are shown raw.
func (d *dumper) writeExtended(f frame.Frame) error {
	if ack, err := transfer.DecodeAck(f.Payload()); err == nil && isResponse(f.ID) {
		_, err := fmt.Fprintf(d.out, "%s %08X transfer_ack status=%s chunk=%d checksum=0x%04X\n",
			stamp(f), f.ID, ack.Status, ack.Chunk, ack.Checksum)
		return err
	}
	return d.writeRaw(f, "transfer")
}

func (d *dumper) writeRaw(f frame.Frame, tag string) error {
	_, err := fmt.Fprintf(d.out, "%s %s %s\n", stamp(f), f, tag)
	return err
}

// isResponse reports whether id carries a response base: the response
// offset lands in the low byte, which requests never set.
func isResponse(id uint32) bool {
	return id&0xF0 == schema.TransferResponseOffset
}

func formatFields(rec protocol.Record) string {
	vals := rec.Values()
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, fmt.Sprintf("%s=%g%s", v.Name, v.Physical, v.Unit))
	}
	return strings.Join(parts, " ")
}

func stamp(f frame.Frame) string {
	if f.Timestamp.IsZero() {
		return "-"
	}
	return f.Timestamp.Format("15:04:05.000")
}

func (s dumpStats) String() string {
	keys := map[string]int{"frames": s.frames, "decoded": s.decoded, "unknown": s.unknown, "invalid": s.invalid}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", k, keys[k]))
	}
	return strings.Join(parts, " ")
}
