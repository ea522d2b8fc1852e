// Package protocol owns the raw-REPL wire conversation.
//
// Ownership boundary:
// - control bytes and framing literals
// - the engine state machine with timeout/retry recovery
// - result-span parsing
// - the handshake/timeout/device error taxonomy
package protocol
