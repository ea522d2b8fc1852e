package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Control bytes the raw REPL understands.
const (
	CtrlRawEnter  byte = 0x01
	CtrlRawExit   byte = 0x02
	CtrlInterrupt byte = 0x03
	CtrlEOT       byte = 0x04
)

var (
	// RawBanner is emitted by the device on successful raw-mode entry.
	RawBanner = []byte("raw REPL; CTRL-B to exit\r\n>")
	// AckToken acknowledges a submitted code block.
	AckToken = []byte("OK")
	// CompletionMarker is the error section's closing EOT followed by the raw
	// prompt. A successful execution's empty error section puts the output
	// section's own EOT directly before it, producing the EOT,EOT,'>' tail;
	// a traceback sits between the two EOTs, so the engine must not demand
	// them adjacent.
	CompletionMarker = []byte{CtrlEOT, '>'}
)

// State is the engine's position in one raw-mode conversation.
type State int32

const (
	StateIdle State = iota
	StateEnteringRaw
	StateRawActive
	StateExecuting
	StateAwaitingResult
	StateExitingRaw
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnteringRaw:
		return "entering_raw"
	case StateRawActive:
		return "raw_active"
	case StateExecuting:
		return "executing"
	case StateAwaitingResult:
		return "awaiting_result"
	case StateExitingRaw:
		return "exiting_raw"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ExecutionRequest is one code block to run on the device. A zero Timeout
// takes the engine's configured default.
type ExecutionRequest struct {
	Code    string
	Timeout time.Duration
}

func (r ExecutionRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return fmt.Errorf("%w: empty code", ErrInvalidRequest)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidRequest)
	}
	return nil
}

// ExecutionResult is the parsed outcome of one conversation. Output is
// authoritative when IsError is false, ErrorMessage when it is true.
type ExecutionResult struct {
	Output       string
	IsError      bool
	ErrorMessage string
	Duration     time.Duration
}
