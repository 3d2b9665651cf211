// Package tp implements the SOME/IP TP (Transport Protocol) segmentation
// layer: splitting oversized outbound payloads into MTU-sized segments on
// send, and reassembling them on receive (spec.md §4.2, component C2).
package tp

import "time"

// DefaultMTUPayload is the default maximum payload size per segment.
const DefaultMTUPayload = 1392

// DefaultAssemblyCap is the default maximum size of a reassembled message.
const DefaultAssemblyCap = 64 * 1024

// MaxAssemblyCap is the largest cap a caller may configure.
const MaxAssemblyCap = 4 * 1024 * 1024

// AssemblyTimeout is how long an incomplete assembly is kept before being
// dropped, per spec.md §4.2.
const AssemblyTimeout = 5 * time.Second

// segmentAlignment is the required alignment, in bytes, of TP segment
// offsets (invariant I5).
const segmentAlignment = 16
