package schema

import (
	"fmt"
	"sort"
	"strconv"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol"
)

// Bus names the physical CAN segment a class travels on.
type Bus string

const (
	BusPack   Bus = "pack"
	BusModule Bus = "module"
	BusDiag   Bus = "diag"
)

type Direction int

const (
	ToPack Direction = iota
	FromPack
	ToModule
	FromModule
	Diagnostic
)

func (d Direction) String() string {
	switch d {
	case ToPack:
		return "to_pack"
	case FromPack:
		return "from_pack"
	case ToModule:
		return "to_module"
	case FromModule:
		return "from_module"
	case Diagnostic:
		return "diagnostic"
	default:
		return "direction(" + strconv.Itoa(int(d)) + ")"
	}
}

// Class is one message class: its base identifier and payload layout.
type Class struct {
	Base      uint32
	Bus       Bus
	Direction Direction
	Table     protocol.Table
}

func (c Class) Name() string {
	return c.Table.Name
}

type ValidationError struct {
	Base   uint32
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: class=0x%03X: %s", e.Base, e.Reason)
	}
	return fmt.Sprintf("schema: class=0x%03X field=%s: %s", e.Base, e.Field, e.Reason)
}

// Catalog is a set of message classes keyed by base identifier.
type Catalog struct {
	byBase map[uint32]Class
}

// Default returns a fresh catalog of the built-in Modbatt classes.
func Default() *Catalog {
	c := &Catalog{byBase: make(map[uint32]Class, len(builtin))}
	for _, cls := range builtin {
		c.byBase[cls.Base] = cls
	}
	return c
}

func (c *Catalog) Lookup(base uint32) (Class, bool) {
	cls, ok := c.byBase[base]
	return cls, ok
}

// ByName finds a class by table name.
func (c *Catalog) ByName(name string) (Class, bool) {
	for _, cls := range c.byBase {
		if cls.Table.Name == name {
			return cls, true
		}
	}
	return Class{}, false
}

// Classes returns the classes on bus, sorted by base identifier. An empty bus
// selects every class.
func (c *Catalog) Classes(bus Bus) []Class {
	out := make([]Class, 0, len(c.byBase))
	for _, cls := range c.byBase {
		if bus != "" && cls.Bus != bus {
			continue
		}
		out = append(out, cls)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Base < out[j].Base
	})
	return out
}

// Override replaces the table of every class whose table name matches.
// Unmatched tables are an error.
func (c *Catalog) Override(tables []protocol.Table) error {
	for _, t := range tables {
		cls, ok := c.ByName(t.Name)
		if !ok {
			return ValidationError{Reason: "override for unknown table " + strconv.Quote(t.Name)}
		}
		if err := protocol.Check(t); err != nil {
			return err
		}
		cls.Table = t
		c.byBase[cls.Base] = cls
		logs.Infof("schema.Catalog.Override table=%s base=0x%03X fields=%d", t.Name, cls.Base, len(t.Fields))
	}
	return nil
}

// Check validates every table layout in the catalog.
func (c *Catalog) Check() error {
	for _, cls := range c.Classes("") {
		if err := protocol.Check(cls.Table); err != nil {
			return fmt.Errorf("schema: class 0x%03X: %w", cls.Base, err)
		}
	}
	return nil
}

// Decode decodes payload with the class table and range-checks the result.
// The record is returned even when validation fails.
func (c *Catalog) Decode(base uint32, payload []byte) (protocol.Record, error) {
	cls, ok := c.byBase[base]
	if !ok {
		logs.Errf("schema.Decode unknown class=0x%03X", base)
		return protocol.Record{}, ValidationError{Base: base, Reason: "unknown class"}
	}
	rec := protocol.Decode(payload, cls.Table)
	if err := protocol.Validate(rec, cls.Table); err != nil {
		if re, ok := err.(protocol.RangeError); ok {
			logs.Warnf("schema.Decode out of range class=0x%03X field=%s value=%g", base, re.Field, re.Value)
			return rec, ValidationError{Base: base, Field: re.Field, Reason: "out of range"}
		}
		return rec, err
	}
	logs.Tracef("schema.Decode ok class=0x%03X table=%s", base, cls.Table.Name)
	return rec, nil
}

// Encode encodes physical values with the class table.
func (c *Catalog) Encode(base uint32, values map[string]float64) ([8]byte, error) {
	cls, ok := c.byBase[base]
	if !ok {
		return [8]byte{}, ValidationError{Base: base, Reason: "unknown class"}
	}
	return protocol.EncodeValues(cls.Table, values)
}

func cellName(prefix string, n int) string {
	return prefix + strconv.Itoa(n)
}
