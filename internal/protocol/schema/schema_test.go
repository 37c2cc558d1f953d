package schema

import (
	"errors"
	"testing"

	"github.com/dp-web4/modbatt-CAN/internal/protocol"
	"github.com/dp-web4/modbatt-CAN/internal/testutil/testlog"
)

func TestBuiltinTablesAreWellFormed(t *testing.T) {
	testlog.Start(t)
	cat := Default()
	if err := cat.Check(); err != nil {
		t.Fatalf("check catalog: %v", err)
	}
	seen := map[string]uint32{}
	for _, cls := range cat.Classes("") {
		if prev, dup := seen[cls.Name()]; dup {
			t.Fatalf("table name %q used by 0x%03X and 0x%03X", cls.Name(), prev, cls.Base)
		}
		seen[cls.Name()] = cls.Base
	}
}

func TestDiagStatusLayoutMatchesPackController(t *testing.T) {
	testlog.Start(t)
	cat := Default()
	payload, err := cat.Encode(IDDiagStatus, map[string]float64{
		"battery_state": 3,
		"pack_voltage":  400.5,
		"display_soc":   87,
		"real_soc":      90,
		"soh":           99,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// battery_state occupies the high nibble of byte 0
	if payload[0] != 0x30 {
		t.Fatalf("unexpected byte 0: 0x%02X", payload[0])
	}
	rec, err := cat.Decode(IDDiagStatus, payload[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Raw("pack_voltage") != 4005 {
		t.Fatalf("unexpected raw pack voltage: %d", rec.Raw("pack_voltage"))
	}
	if rec.Physical("soh") != 99 || rec.Physical("display_soc") != 87 {
		t.Fatalf("unexpected soc/soh: %+v", rec.Map())
	}
}

func TestVCUCommandCarriesHVBusVoltage(t *testing.T) {
	testlog.Start(t)
	cat := Default()
	payload, err := cat.Encode(IDVCUCommand, map[string]float64{
		"contactor_ctrl": 3,
		"hv_bus_voltage": 400.02,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	rec := protocol.Decode(payload[:], mustClass(t, cat, IDVCUCommand).Table)
	if rec.Raw("hv_bus_voltage") != 26668 {
		t.Fatalf("unexpected hv raw: %d", rec.Raw("hv_bus_voltage"))
	}
	if payload[0] != 0x03 {
		t.Fatalf("unexpected contactor byte: 0x%02X", payload[0])
	}
}

func TestDecodeOutOfRangeReturnsValidationError(t *testing.T) {
	testlog.Start(t)
	cat := Default()
	// soh raw 0xFF -> 127.5% on a 0..100 field
	_, err := cat.Decode(IDBMSState, []byte{0x00, 0xFF})
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "soh" || ve.Reason != "out of range" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestDecodeUnknownClass(t *testing.T) {
	testlog.Start(t)
	_, err := Default().Decode(0x7FF, nil)
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Reason != "unknown class" {
		t.Fatalf("expected unknown class error, got %v", err)
	}
}

func TestOverrideReplacesTableByName(t *testing.T) {
	testlog.Start(t)
	cat := Default()
	err := cat.Override([]protocol.Table{{Name: "bms_data_4", Fields: []protocol.FieldSpec{
		{Name: "isolation_state", Start: 0, Width: 2, Factor: 1},
	}}})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	cls := mustClass(t, cat, IDBMSData4)
	if len(cls.Table.Fields) != 1 {
		t.Fatalf("override not applied: %+v", cls.Table)
	}
	if err := cat.Override([]protocol.Table{{Name: "nope"}}); err == nil {
		t.Fatalf("expected error for unknown override")
	}
	if len(Default().Classes(BusPack)) == 0 {
		t.Fatalf("expected pack classes")
	}
	if c := mustClass(t, Default(), IDBMSData4); len(c.Table.Fields) != 0 {
		t.Fatalf("override leaked into default catalog")
	}
}

func mustClass(t *testing.T, cat *Catalog, base uint32) Class {
	t.Helper()
	cls, ok := cat.Lookup(base)
	if !ok {
		t.Fatalf("missing class 0x%03X", base)
	}
	return cls
}
