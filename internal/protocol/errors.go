package protocol

import "errors"

var (
	ErrUnknownField   = errors.New("protocol: unknown field")
	ErrFieldOverlap   = errors.New("protocol: overlapping fields")
	ErrFieldWidth     = errors.New("protocol: invalid field width")
	ErrFieldBounds    = errors.New("protocol: field exceeds 64 bits")
	ErrTableMismatch  = errors.New("protocol: record table mismatch")
	ErrDuplicateField = errors.New("protocol: duplicate field name")
)
