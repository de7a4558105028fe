// Package protocol implements the Gridwire binary wire format.
//
// Every message travels inside a frame with a fixed 4-byte header:
//
//	[type:1][flags:1][payload length:2 big-endian][payload]
//
// Frame types:
//
//	Handshake  0x00  ClientHello / ServerHello during connection setup
//	Intent     0x01  client → server requested state change, per-session seq
//	Update     0x02  server → client applied change set, global version
//	Control    0x03  ping/pong, resync request, close
//	Snapshot   0x04  server → client full world state
//	Error      0x05  server → client rejection or protocol error
//
// Multi-byte integers are big-endian; variable-size integers use
// protobuf-style varints. Strings and byte blobs are varint
// length-prefixed. Decoders enforce allocation and collection limits so a
// malicious peer cannot force large allocations with a small message.
package protocol
