package bms

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strconv"
	"strings"
)

// Fault names reported in module_fault_code.
const (
	FaultCommsError      = "comms_error"
	FaultHWIncompatible  = "hw_incompatible"
	FaultInterlock       = "interlock"
	FaultOverCurrent     = "over_current"
	FaultOverTemperature = "over_temperature"
	FaultOverVoltage     = "over_voltage"
)

var ErrFaultMap = errors.New("bms: invalid fault map")

// FaultMap names the bits of a module fault code.
type FaultMap map[uint8]string

// DefaultFaultMap assigns one distinct flag per bit.
func DefaultFaultMap() FaultMap {
	return FaultMap{
		0x01: FaultCommsError,
		0x02: FaultHWIncompatible,
		0x04: FaultInterlock,
		0x08: FaultOverCurrent,
		0x10: FaultOverTemperature,
		0x20: FaultOverVoltage,
	}
}

// ParseFaultMap builds a map from config keys like "0x04" or "4".
func ParseFaultMap(raw map[string]string) (FaultMap, error) {
	out := make(FaultMap, len(raw))
	for k, name := range raw {
		bit, err := strconv.ParseUint(strings.TrimSpace(k), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrFaultMap, k, err)
		}
		out[uint8(bit)] = strings.TrimSpace(name)
	}
	return out, out.Validate()
}

// Validate requires single-bit keys and unique, non-empty names.
func (m FaultMap) Validate() error {
	seen := make(map[string]uint8, len(m))
	for bit, name := range m {
		if bits.OnesCount8(bit) != 1 {
			return fmt.Errorf("%w: 0x%02X is not a single bit", ErrFaultMap, bit)
		}
		if name == "" {
			return fmt.Errorf("%w: 0x%02X has no name", ErrFaultMap, bit)
		}
		if prev, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s mapped by 0x%02X and 0x%02X", ErrFaultMap, name, prev, bit)
		}
		seen[name] = bit
	}
	return nil
}

// Decode returns the names of the set bits, sorted. Unmapped bits are
// reported as bit_0xNN.
func (m FaultMap) Decode(code uint8) []string {
	var out []string
	for i := 0; i < 8; i++ {
		bit := uint8(1) << i
		if code&bit == 0 {
			continue
		}
		if name, ok := m[bit]; ok {
			out = append(out, name)
		} else {
			out = append(out, fmt.Sprintf("bit_0x%02X", bit))
		}
	}
	sort.Strings(out)
	return out
}
