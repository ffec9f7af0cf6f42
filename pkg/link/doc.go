// Package link carries telemetry frames between the device and the
// companion over any reliable or unreliable byte stream.
//
// Every frame is prefixed by a one-byte sequence number, and both sides
// agree on the next expected sequence during a handshake. A frame arriving
// with an unexpected sequence drops the link back into the handshake, so a
// corrupt or truncated stream recovers without any checksum.
//
// Handshake:
//
//	-> 0xff <seq>    sync request, carries the sender's next sequence
//	<- 0xfe <seq>    sync acknowledgement
//
// Frame:
//
//	<seq> <code> [len] [data...]
//
// The low nibble of code is the telemetry channel. Bits 4-6 hold the payload
// length when it's below 7; otherwise they're all set and the length follows
// as a separate byte (< 0x80).
package link
