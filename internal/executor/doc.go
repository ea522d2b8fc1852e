// Package executor routes named remote methods onto a session.
//
// Ownership boundary:
// - the static method registration table
// - the four dispatch roles (task, setup, thread, teardown)
// - device-argument code generation
//
// The call graph is strictly one-directional: dispatcher -> session ->
// engine. No component here holds a reference capable of calling back up.
package executor
