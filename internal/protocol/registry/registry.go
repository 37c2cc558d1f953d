package registry

import (
	"errors"
	"fmt"
	"sort"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/frame"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/schema"
)

// SegmentStride separates the identifier ranges of independent pack buses.
const SegmentStride uint32 = 0x100

var (
	ErrNoSegments     = errors.New("registry: no segments")
	ErrIDOutOfRange   = errors.New("registry: identifier out of range")
	ErrUnknownClass   = errors.New("registry: unknown class")
	ErrUnknownSegment = errors.New("registry: segment not registered")
)

// CollisionError reports two (class, segment) pairs resolving to one identifier.
type CollisionError struct {
	ID        uint32
	First     string
	FirstSeg  uint8
	Second    string
	SecondSeg uint8
}

func (e CollisionError) Error() string {
	return fmt.Sprintf(
		"registry: id 0x%03X claimed by %s(segment %d) and %s(segment %d)",
		e.ID, e.First, e.FirstSeg, e.Second, e.SecondSeg,
	)
}

// Match is a decomposed identifier.
type Match struct {
	ID      uint32
	Segment uint8
	Class   schema.Class
}

// Registry maps identifiers to (class, segment) for one bus.
type Registry struct {
	byID     map[uint32]Match
	bases    map[uint32]schema.Class
	segments []uint8
}

// Resolve returns base + segment*SegmentStride.
func Resolve(base uint32, segment uint8) uint32 {
	return base + uint32(segment)*SegmentStride
}

// New registers every class on every segment and rejects collisions and
// identifiers outside the standard address space.
func New(classes []schema.Class, segments []uint8) (*Registry, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	segs := append([]uint8(nil), segments...)
	sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })

	r := &Registry{
		byID:     make(map[uint32]Match, len(classes)*len(segs)),
		bases:    make(map[uint32]schema.Class, len(classes)),
		segments: segs,
	}
	for _, cls := range classes {
		if prev, dup := r.bases[cls.Base]; dup {
			return nil, CollisionError{ID: cls.Base, First: prev.Name(), Second: cls.Name()}
		}
		r.bases[cls.Base] = cls
		for _, seg := range segs {
			id := Resolve(cls.Base, seg)
			if id > frame.MaxStandardID {
				return nil, fmt.Errorf("%w: %s segment %d -> 0x%X", ErrIDOutOfRange, cls.Name(), seg, id)
			}
			if prev, taken := r.byID[id]; taken {
				err := CollisionError{
					ID:        id,
					First:     prev.Class.Name(),
					FirstSeg:  prev.Segment,
					Second:    cls.Name(),
					SecondSeg: seg,
				}
				logs.Errf("registry.New collision %v", err)
				return nil, err
			}
			r.byID[id] = Match{ID: id, Segment: seg, Class: cls}
		}
	}
	logs.Debugf("registry.New classes=%d segments=%v ids=%d", len(classes), segs, len(r.byID))
	return r, nil
}

// Resolve returns the identifier of the class with base on segment.
func (r *Registry) Resolve(base uint32, segment uint8) (uint32, error) {
	if _, ok := r.bases[base]; !ok {
		return 0, fmt.Errorf("%w: 0x%03X", ErrUnknownClass, base)
	}
	if !r.hasSegment(segment) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownSegment, segment)
	}
	return Resolve(base, segment), nil
}

// Parse decomposes id into class and segment. ok is false for identifiers
// that do not decompose for any registered class and segment.
func (r *Registry) Parse(id uint32) (Match, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// Segments returns the registered segments in ascending order.
func (r *Registry) Segments() []uint8 {
	return append([]uint8(nil), r.segments...)
}

func (r *Registry) Class(base uint32) (schema.Class, bool) {
	cls, ok := r.bases[base]
	return cls, ok
}

func (r *Registry) hasSegment(segment uint8) bool {
	for _, s := range r.segments {
		if s == segment {
			return true
		}
	}
	return false
}
