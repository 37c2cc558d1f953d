// Package transfer moves byte blobs larger than one CAN payload across the
// bus as acknowledged 8-byte chunks.
//
// A request for chunk n of a blob sent to segment s uses the extended
// identifier base|n<<8|s. The receiver answers on (base+0xA0)|n<<8|s with
// status, echoed chunk index and a checksum of the chunk. Chunk n+1 is never
// sent before chunk n is acknowledged.
package transfer
