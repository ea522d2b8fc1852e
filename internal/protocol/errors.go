package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest  = errors.New("protocol: invalid execution request")
	ErrRawEntryFailed  = errors.New("protocol: failed to enter raw mode")
	ErrNoAck           = errors.New("protocol: device did not acknowledge execution")
	ErrTransportFailed = errors.New("protocol: transport failed")
)

// ProtocolError reports a device that broke the raw-REPL handshake. The last
// buffer seen before the violation is kept for diagnostics.
type ProtocolError struct {
	Op         string
	Reason     error
	LastBuffer []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v during %s (last buffer: %q)", e.Reason, e.Op, e.LastBuffer)
}

func (e *ProtocolError) Unwrap() error { return e.Reason }

// TransportError reports a failed byte stream. Fatal to the session; the
// connection must be torn down, not reused.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("protocol: transport failed during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransportFailed }

// DeviceError reports code that raised an exception on the device. The
// conversation itself succeeded; retrying is the caller's decision.
type DeviceError struct {
	Method    string
	Traceback string
}

func (e *DeviceError) Error() string {
	last := e.Traceback
	if lines := strings.Split(strings.TrimSpace(e.Traceback), "\n"); len(lines) > 0 {
		last = strings.TrimSpace(lines[len(lines)-1])
	}
	if e.Method == "" {
		return fmt.Sprintf("protocol: device raised %s", last)
	}
	return fmt.Sprintf("protocol: device raised %s in %s", last, e.Method)
}
