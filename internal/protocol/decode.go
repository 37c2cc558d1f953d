package protocol

import "encoding/binary"

// Decode extracts every field of t from data. Missing bytes read as zero and
// bits outside the table are ignored.
func Decode(data []byte, t Table) Record {
	var buf [8]byte
	copy(buf[:], data)
	return DecodeWord(binary.LittleEndian.Uint64(buf[:]), t)
}

// DecodeWord decodes a payload already assembled into a little-endian word.
func DecodeWord(word uint64, t Table) Record {
	rec := Record{Table: t.Name, values: make([]Value, 0, len(t.Fields))}
	for _, f := range t.Fields {
		raw := (word >> f.Start) & f.mask()
		rec.values = append(rec.values, Value{
			Name:     f.Name,
			Unit:     f.Unit,
			Raw:      raw,
			Physical: f.Physical(raw),
		})
	}
	return rec
}
