// Package protocol owns the bit-field codec for CAN payloads.
//
// Ownership boundary:
// - field tables (bit position, width, linear scale, range, unit)
// - decode of 8-byte payloads into records
// - encode of records back into payloads with undefined bits zeroed
//
// Message catalogues live in schema; identifier arithmetic lives in registry.
package protocol
