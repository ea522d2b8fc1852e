// Package transport owns the byte-stream contract the protocol engine
// speaks over.
//
// Ownership boundary:
// - the Transport read/write contract and its timeout error
// - the subprocess pipe adapter
//
// Serial-port construction lives with device discovery, outside this module.
package transport
