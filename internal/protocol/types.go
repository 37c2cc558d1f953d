package protocol

// PayloadBits is the width of the little-endian word every table addresses.
const PayloadBits = 64

// FieldSpec declares one bit-field within an 8-byte payload.
type FieldSpec struct {
	Name   string  `yaml:"name"`
	Start  uint8   `yaml:"start"`
	Width  uint8   `yaml:"width"`
	Factor float64 `yaml:"factor"`
	Offset float64 `yaml:"offset"`
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
	Unit   string  `yaml:"unit"`
}

// Table is the ordered field layout of one message class.
type Table struct {
	Name   string      `yaml:"name"`
	Fields []FieldSpec `yaml:"fields"`
}

// Value is one decoded field.
type Value struct {
	Name     string
	Unit     string
	Raw      uint64
	Physical float64
}

// Record is the decoded view of one payload. Records are built once and
// read afterwards; Decode returns a fresh record per frame.
type Record struct {
	Table  string
	values []Value
}

func (f FieldSpec) mask() uint64 {
	if f.Width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << f.Width) - 1
}

func (f FieldSpec) factor() float64 {
	if f.Factor == 0 {
		return 1
	}
	return f.Factor
}

// hasRange reports whether Min/Max were declared.
func (f FieldSpec) hasRange() bool {
	return f.Max > f.Min
}

// Physical converts a raw value using the field's linear scale.
func (f FieldSpec) Physical(raw uint64) float64 {
	return float64(raw&f.mask())*f.factor() + f.Offset
}

// Lookup returns the field spec called name.
func (t Table) Lookup(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// DefinedMask returns the bits covered by any field.
func (t Table) DefinedMask() uint64 {
	var m uint64
	for _, f := range t.Fields {
		m |= f.mask() << f.Start
	}
	return m
}

// Values returns a copy of the decoded fields in table order.
func (r Record) Values() []Value {
	out := make([]Value, len(r.values))
	copy(out, r.values)
	return out
}

func (r Record) Get(name string) (Value, bool) {
	for _, v := range r.values {
		if v.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

// Physical returns the scaled value of name, or zero if absent.
func (r Record) Physical(name string) float64 {
	v, _ := r.Get(name)
	return v.Physical
}

// Raw returns the unscaled value of name, or zero if absent.
func (r Record) Raw(name string) uint64 {
	v, _ := r.Get(name)
	return v.Raw
}

func (r Record) Len() int {
	return len(r.values)
}

// Map returns physical values keyed by field name.
func (r Record) Map() map[string]float64 {
	out := make(map[string]float64, len(r.values))
	for _, v := range r.values {
		out[v.Name] = v.Physical
	}
	return out
}
