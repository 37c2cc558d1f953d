package protocol

import (
	"fmt"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
)

// RangeError reports a decoded field whose physical value lies outside its
// declared range.
type RangeError struct {
	Table string
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e RangeError) Error() string {
	return fmt.Sprintf("protocol: %s.%s=%g outside [%g,%g]", e.Table, e.Field, e.Value, e.Min, e.Max)
}

// Check validates the layout of t. It is run when tables are registered,
// not per frame.
func Check(t Table) error {
	var used uint64
	seen := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		if f.Width == 0 || f.Width > PayloadBits {
			return fmt.Errorf("%w: %s.%s width=%d", ErrFieldWidth, t.Name, f.Name, f.Width)
		}
		if int(f.Start)+int(f.Width) > PayloadBits {
			return fmt.Errorf("%w: %s.%s start=%d width=%d", ErrFieldBounds, t.Name, f.Name, f.Start, f.Width)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: %s.%s", ErrDuplicateField, t.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
		bits := f.mask() << f.Start
		if used&bits != 0 {
			return fmt.Errorf("%w: %s.%s", ErrFieldOverlap, t.Name, f.Name)
		}
		used |= bits
	}
	return nil
}

// Validate reports the first field of rec outside its declared range.
func Validate(rec Record, t Table) error {
	for _, f := range t.Fields {
		if !f.hasRange() {
			continue
		}
		v, ok := rec.Get(f.Name)
		if !ok {
			continue
		}
		if v.Physical < f.Min || v.Physical > f.Max {
			logs.Debugf("protocol.Validate out of range table=%s field=%s value=%g", t.Name, f.Name, v.Physical)
			return RangeError{Table: t.Name, Field: f.Name, Value: v.Physical, Min: f.Min, Max: f.Max}
		}
	}
	return nil
}
