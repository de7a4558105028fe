// Package server implements the WebSocket session layer for a shared
// grid world.
//
// A Server accepts WebSocket connections at a single endpoint and runs a
// binary-framed handshake on each. Every accepted connection becomes a
// Session tracked by the Registry; sessions survive disconnects for a
// resume window so clients on flaky links can reattach without losing
// their place.
//
// All state changes flow through the Engine. Clients submit intents with
// per-session sequence numbers; the engine validates strict ordering,
// applies each accepted intent to the world atomically, stamps the result
// with a globally increasing version, and broadcasts the same encoded
// update to every connected session. Slow consumers are bounded: when a
// session's outbound queue overflows, queued updates are discarded and
// the client is brought back with a full snapshot.
package server
