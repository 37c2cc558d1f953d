package registry

import (
	"errors"
	"testing"

	"github.com/dp-web4/modbatt-CAN/internal/protocol"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/schema"
	"github.com/dp-web4/modbatt-CAN/internal/testutil/testlog"
)

func TestResolveAndParseAcrossSegments(t *testing.T) {
	testlog.Start(t)
	reg, err := New(schema.Default().Classes(schema.BusPack), []uint8{0, 1, 2})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	id, err := reg.Resolve(schema.IDBMSState, 2)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != 0x610 {
		t.Fatalf("unexpected id: 0x%X", id)
	}
	m, ok := reg.Parse(0x521)
	if !ok {
		t.Fatalf("expected 0x521 to parse")
	}
	if m.Segment != 1 || m.Class.Base != schema.IDBMSData1 {
		t.Fatalf("unexpected match: segment=%d base=0x%X", m.Segment, m.Class.Base)
	}
}

func TestParseRejectsUnregisteredIdentifiers(t *testing.T) {
	testlog.Start(t)
	reg, err := New(schema.Default().Classes(schema.BusPack), []uint8{0})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	for _, id := range []uint32{0x418, 0x510, 0x7FF, 0x000} {
		if _, ok := reg.Parse(id); ok {
			t.Fatalf("expected 0x%X to be unknown", id)
		}
	}
	if _, err := reg.Resolve(schema.IDBMSState, 3); !errors.Is(err, ErrUnknownSegment) {
		t.Fatalf("expected ErrUnknownSegment, got %v", err)
	}
	if _, err := reg.Resolve(0x499, 0); !errors.Is(err, ErrUnknownClass) {
		t.Fatalf("expected ErrUnknownClass, got %v", err)
	}
}

func TestNewDetectsCollisions(t *testing.T) {
	testlog.Start(t)
	classes := []schema.Class{
		{Base: 0x410, Table: protocol.Table{Name: "a"}},
		{Base: 0x510, Table: protocol.Table{Name: "b"}},
	}
	_, err := New(classes, []uint8{0, 1})
	var ce CollisionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CollisionError, got %v", err)
	}
	if ce.ID != 0x510 {
		t.Fatalf("unexpected collision id: 0x%X", ce.ID)
	}
}

func TestNewRejectsIdentifiersPastStandardRange(t *testing.T) {
	testlog.Start(t)
	_, err := New(schema.Default().Classes(schema.BusPack), []uint8{4})
	if !errors.Is(err, ErrIDOutOfRange) {
		t.Fatalf("expected ErrIDOutOfRange, got %v", err)
	}
	if _, err := New(nil, nil); !errors.Is(err, ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
}
