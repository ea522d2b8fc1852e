package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const pipeReadChunk = 256

// PipeTransport drives an interpreter subprocess over its stdin/stdout pipes.
// Pipes carry no read deadlines, so a background goroutine drains stdout into
// a channel and ReadUntil polls it against its own deadline.
//
// ReadUntil and Write are not safe for concurrent use with themselves; the
// session gate serializes all conversations above this layer.
type PipeTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	chunks chan []byte

	pending bytes.Buffer

	mu      sync.Mutex
	closed  bool
	readErr error
}

// StartPipe spawns the interpreter binary and wires its pipes.
func StartPipe(ctx context.Context, binary string, args ...string) (*PipeTransport, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: start %s: %w", binary, err)
	}

	t := &PipeTransport{
		cmd:    cmd,
		stdin:  stdin,
		chunks: make(chan []byte, 64),
	}
	go t.readLoop(stdout)
	log.Debug().Str("binary", binary).Int("pid", cmd.Process.Pid).Msg("pipe transport started")
	return t, nil
}

func (t *PipeTransport) readLoop(r io.Reader) {
	for {
		buf := make([]byte, pipeReadChunk)
		n, err := r.Read(buf)
		if n > 0 {
			t.chunks <- buf[:n]
		}
		if err != nil {
			t.mu.Lock()
			if t.readErr == nil {
				t.readErr = err
			}
			t.mu.Unlock()
			close(t.chunks)
			return
		}
	}
}

func (t *PipeTransport) Write(p []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if _, err := t.stdin.Write(p); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (t *PipeTransport) ReadUntil(ctx context.Context, marker []byte, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	deadline := start.Add(timeout)
	for {
		if out, ok := t.consume(marker); ok {
			return out, nil
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, &TimeoutError{
				Marker:  append([]byte(nil), marker...),
				Elapsed: time.Since(start),
				Partial: append([]byte(nil), t.pending.Bytes()...),
			}
		}
		timer := time.NewTimer(remain)
		select {
		case chunk, ok := <-t.chunks:
			timer.Stop()
			if !ok {
				t.mu.Lock()
				err := t.readErr
				t.mu.Unlock()
				if err == nil || err == io.EOF {
					return nil, ErrClosed
				}
				return nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			t.pending.Write(chunk)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// consume pops bytes through the first occurrence of marker, leaving any
// trailing bytes buffered for the next read.
func (t *PipeTransport) consume(marker []byte) ([]byte, bool) {
	idx := bytes.Index(t.pending.Bytes(), marker)
	if idx < 0 {
		return nil, false
	}
	out := make([]byte, idx+len(marker))
	if _, err := io.ReadFull(&t.pending, out); err != nil {
		return nil, false
	}
	return out, true
}

// DrainStartup discards whatever the interpreter prints on launch (version
// banner, friendly prompt) for the given window.
func (t *PipeTransport) DrainStartup(window time.Duration) {
	deadline := time.After(window)
	for {
		select {
		case chunk, ok := <-t.chunks:
			if !ok {
				return
			}
			log.Trace().Int("bytes", len(chunk)).Msg("drained startup output")
		case <-deadline:
			t.pending.Reset()
			return
		}
	}
}

func (t *PipeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	_ = t.stdin.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	err := t.cmd.Wait()
	// killed-on-close is the expected exit path for an interactive interpreter
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("transport: wait: %w", err)
	}
	return nil
}
