// Package fakedev scripts a raw-REPL device for protocol and session tests.
package fakedev

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/belay-dotnet/belay-go/internal/protocol"
	"github.com/belay-dotnet/belay-go/internal/transport"
)

// Reply scripts the device's answer for one exact code string. A zero Reply
// is an empty successful execution.
type Reply struct {
	Output    string
	Traceback string
}

// Device implements transport.Transport with scripted raw-REPL behavior.
// Responses are produced synchronously during Write, so bounded reads resolve
// immediately unless a Silent flag withholds the expected marker.
type Device struct {
	// Results maps exact submitted code to its reply.
	Results map[string]Reply
	// SilentEntry withholds the raw-mode banner.
	SilentEntry bool
	// SilentAck withholds the "OK" acknowledgment.
	SilentAck bool
	// SilentCompletion withholds the completion marker after acknowledging.
	SilentCompletion bool

	mu     sync.Mutex
	out    bytes.Buffer
	code   bytes.Buffer
	writes []string
	execs  []string
	closed bool
}

func New() *Device {
	return &Device{Results: make(map[string]Reply)}
}

func (d *Device) Write(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return transport.ErrClosed
	}
	d.writes = append(d.writes, string(p))

	switch {
	case len(p) == 1 && p[0] == protocol.CtrlRawEnter:
		if !d.SilentEntry {
			d.out.Write(protocol.RawBanner)
		}
	case len(p) == 1 && p[0] == protocol.CtrlEOT:
		d.execLocked()
	case len(p) == 1 && p[0] == protocol.CtrlRawExit:
		d.out.WriteString("\r\n>>> ")
	case onlyInterrupts(p):
		d.code.Reset()
	default:
		d.code.Write(p)
	}
	return nil
}

func (d *Device) execLocked() {
	code := d.code.String()
	d.code.Reset()
	d.execs = append(d.execs, code)
	if d.SilentAck {
		return
	}
	d.out.Write(protocol.AckToken)
	if d.SilentCompletion {
		return
	}
	reply := d.Results[code]
	d.out.WriteString(reply.Output)
	d.out.WriteByte(protocol.CtrlEOT)
	d.out.WriteString(reply.Traceback)
	d.out.WriteByte(protocol.CtrlEOT)
	d.out.WriteByte('>')
}

func (d *Device) ReadUntil(ctx context.Context, marker []byte, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return nil, transport.ErrClosed
		}
		idx := bytes.Index(d.out.Bytes(), marker)
		if idx >= 0 {
			out := make([]byte, idx+len(marker))
			copy(out, d.out.Bytes())
			d.out.Next(len(out))
			d.mu.Unlock()
			return out, nil
		}
		partial := append([]byte(nil), d.out.Bytes()...)
		d.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, &transport.TimeoutError{
				Marker:  append([]byte(nil), marker...),
				Elapsed: timeout,
				Partial: partial,
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("fakedev: already closed")
	}
	d.closed = true
	return nil
}

// Writes returns every write issued to the transport, in order.
func (d *Device) Writes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.writes))
	copy(out, d.writes)
	return out
}

// Execs returns every code block the device was asked to execute, in order.
func (d *Device) Execs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.execs))
	copy(out, d.execs)
	return out
}

// CountWrites returns how many writes equal the given bytes.
func (d *Device) CountWrites(p []byte) int {
	want := string(p)
	n := 0
	for _, w := range d.Writes() {
		if w == want {
			n++
		}
	}
	return n
}

func onlyInterrupts(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	for _, b := range p {
		if b != protocol.CtrlInterrupt {
			return false
		}
	}
	return true
}
