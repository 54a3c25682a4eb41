// Package mercury is a host-side control library for chained half-duplex
// serial smart-servo devices speaking the Mercury wire protocol (a
// Dynamixel-v1-style framing over RS-485/TTL).
//
// The package is organized around seven pieces: a byte-stream Transport
// (see the transports subpackage), a control-table Registry describing
// register layout per device family, a Protocol codec for framing and
// checksums, an Engine that runs single-flight transactions over one
// Transport, a Shadow that mirrors one device's registers in memory, a
// Bus (the managed synchronizer) that owns a Transport and keeps a set of
// Shadows in sync on a background goroutine, and a Handle, the public
// façade type foreground code actually calls.
package mercury
