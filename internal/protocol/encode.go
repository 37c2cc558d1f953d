package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode packs the raw values of rec using t. Bits not covered by a field are
// zero, so Encode(Decode(p, t), t) reproduces every defined bit of p.
func Encode(rec Record, t Table) ([8]byte, error) {
	if rec.Table != t.Name {
		return [8]byte{}, fmt.Errorf("%w: record=%q table=%q", ErrTableMismatch, rec.Table, t.Name)
	}
	var word uint64
	for _, f := range t.Fields {
		v, ok := rec.Get(f.Name)
		if !ok {
			continue
		}
		word |= (v.Raw & f.mask()) << f.Start
	}
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], word&t.DefinedMask())
	return out, nil
}

// EncodeValues scales, rounds and clamps physical values into a payload.
// Fields absent from values encode as raw zero.
func EncodeValues(t Table, values map[string]float64) ([8]byte, error) {
	rec, err := NewRecord(t, values)
	if err != nil {
		return [8]byte{}, err
	}
	return Encode(rec, t)
}

// NewRecord builds a record from physical values. Values outside the field's
// declared range or bit width are clamped, not rejected.
func NewRecord(t Table, values map[string]float64) (Record, error) {
	for name := range values {
		if _, ok := t.Lookup(name); !ok {
			return Record{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, t.Name, name)
		}
	}
	rec := Record{Table: t.Name, values: make([]Value, 0, len(t.Fields))}
	for _, f := range t.Fields {
		raw := uint64(0)
		if phys, ok := values[f.Name]; ok {
			raw = RawFor(f, phys)
		}
		rec.values = append(rec.values, Value{
			Name:     f.Name,
			Unit:     f.Unit,
			Raw:      raw,
			Physical: f.Physical(raw),
		})
	}
	return rec, nil
}

// RawFor converts a physical value to the raw integer for f:
// round((phys-offset)/factor) clamped to [Min,Max] and to the bit width.
func RawFor(f FieldSpec, phys float64) uint64 {
	if math.IsNaN(phys) {
		return 0
	}
	if f.hasRange() {
		phys = math.Max(f.Min, math.Min(f.Max, phys))
	}
	scaled := math.Round((phys - f.Offset) / f.factor())
	if scaled <= 0 {
		return 0
	}
	limit := f.mask()
	if scaled >= float64(limit) {
		return limit
	}
	return uint64(scaled)
}
