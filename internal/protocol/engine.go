package protocol

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/belay-dotnet/belay-go/internal/observability"
	"github.com/belay-dotnet/belay-go/internal/transport"
)

// Config bounds every read the engine issues. The transport offers no push
// notification, so silence is only observable through these windows.
type Config struct {
	RawEntryTimeout time.Duration
	AckTimeout      time.Duration
	ExecTimeout     time.Duration
	EntryAttempts   int
	ExecAttempts    int
	Backoff         BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		RawEntryTimeout: time.Second,
		AckTimeout:      time.Second,
		ExecTimeout:     5 * time.Second,
		EntryAttempts:   2,
		ExecAttempts:    2,
		Backoff:         DefaultBackoff(),
	}
}

// Engine drives one raw-mode conversation at a time over a single transport.
// It is not safe for concurrent use; the session gate serializes callers.
type Engine struct {
	tr    transport.Transport
	cfg   Config
	rng   *rand.Rand
	state atomic.Int32
}

func NewEngine(tr transport.Transport, cfg Config) *Engine {
	if cfg.RawEntryTimeout <= 0 {
		cfg.RawEntryTimeout = DefaultConfig().RawEntryTimeout
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultConfig().AckTimeout
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultConfig().ExecTimeout
	}
	if cfg.EntryAttempts <= 0 {
		cfg.EntryAttempts = DefaultConfig().EntryAttempts
	}
	if cfg.ExecAttempts <= 0 {
		cfg.ExecAttempts = DefaultConfig().ExecAttempts
	}
	return &Engine{
		tr:  tr,
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// State reports the engine's position in the current conversation.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		log.Trace().Stringer("from", prev).Stringer("to", s).Msg("protocol state")
	}
}

// Execute runs one code block on the device and returns its parsed result.
//
// A completion-marker timeout is recovered once by interrupting the device
// and restarting the conversation from raw-mode entry; handshake violations
// (missing banner, missing ack) are terminal after their own bounded attempts.
func (e *Engine) Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return ExecutionResult{}, err
	}
	start := time.Now()
	execTimeout := e.cfg.ExecTimeout
	if req.Timeout > execTimeout {
		execTimeout = req.Timeout
	}

	var lastTimeout *transport.TimeoutError
	for attempt := 1; ; attempt++ {
		span, err := e.converse(ctx, req.Code, execTimeout)
		if err == nil {
			result := ParseResultSpan(span)
			result.Duration = time.Since(start)
			e.setState(StateIdle)
			outcome := "ok"
			if result.IsError {
				outcome = "device_error"
			}
			observability.RecordConversation(outcome, result.Duration)
			return result, nil
		}

		var te *transport.TimeoutError
		if errors.As(err, &te) && attempt < e.cfg.ExecAttempts {
			lastTimeout = te
			log.Warn().Int("attempt", attempt).
				Dur("elapsed", time.Since(start)).
				Msg("completion marker timed out, interrupting device")
			// double interrupt stops whatever is still running
			_ = e.tr.Write([]byte{CtrlInterrupt, CtrlInterrupt})
			if err := e.sleep(ctx, NextBackoffDelay(e.cfg.Backoff, attempt, e.rng)); err != nil {
				e.setState(StateError)
				return ExecutionResult{}, err
			}
			continue
		}

		e.setState(StateError)
		observability.RecordConversation("failed", time.Since(start))
		if errors.As(err, &te) {
			partial := te.Partial
			if partial == nil && lastTimeout != nil {
				partial = lastTimeout.Partial
			}
			return ExecutionResult{}, &transport.TimeoutError{
				Marker:   CompletionMarker,
				Elapsed:  time.Since(start),
				Attempts: attempt,
				Partial:  partial,
			}
		}
		return ExecutionResult{}, err
	}
}

// converse runs one full raw-mode round trip and returns the result span.
func (e *Engine) converse(ctx context.Context, code string, execTimeout time.Duration) ([]byte, error) {
	if err := e.enterRaw(ctx); err != nil {
		return nil, err
	}
	// the device must end back at its friendly prompt no matter how the
	// conversation went
	defer e.exitRaw()

	e.setState(StateExecuting)
	if err := e.write("send code", []byte(code)); err != nil {
		return nil, err
	}
	if err := e.write("send code", []byte{CtrlEOT}); err != nil {
		return nil, err
	}

	ackBuf, err := e.read(ctx, "await ack", AckToken, e.cfg.AckTimeout)
	if err != nil {
		var te *transport.TimeoutError
		if errors.As(err, &te) {
			return nil, &ProtocolError{Op: "await ack", Reason: ErrNoAck, LastBuffer: te.Partial}
		}
		return nil, err
	}

	e.setState(StateAwaitingResult)
	// bytes past the ack token already belong to the result span
	span := spanAfter(ackBuf, AckToken)
	out, err := e.read(ctx, "await completion", CompletionMarker, execTimeout)
	if err != nil {
		return nil, err
	}
	return append(span, out...), nil
}

func (e *Engine) enterRaw(ctx context.Context) error {
	e.setState(StateEnteringRaw)
	var last []byte
	for attempt := 1; attempt <= e.cfg.EntryAttempts; attempt++ {
		if err := e.write("enter raw mode", []byte{CtrlRawEnter}); err != nil {
			return err
		}
		_, err := e.read(ctx, "enter raw mode", RawBanner, e.cfg.RawEntryTimeout)
		if err == nil {
			e.setState(StateRawActive)
			return nil
		}
		var te *transport.TimeoutError
		if !errors.As(err, &te) {
			return err
		}
		last = te.Partial
		observability.RecordRawEntryRetry()
		if attempt < e.cfg.EntryAttempts {
			_ = e.write("enter raw mode", []byte{CtrlInterrupt})
			if err := e.sleep(ctx, NextBackoffDelay(e.cfg.Backoff, attempt, e.rng)); err != nil {
				return err
			}
		}
	}
	e.setState(StateError)
	return &ProtocolError{Op: "enter raw mode", Reason: ErrRawEntryFailed, LastBuffer: last}
}

func (e *Engine) exitRaw() {
	e.setState(StateExitingRaw)
	if err := e.tr.Write([]byte{CtrlRawExit}); err != nil {
		log.Warn().Err(err).Msg("raw mode exit write failed")
	}
}

// read is the cancellation checkpoint: ctx is checked before the bounded read
// begins and immediately after it returns, never mid-read.
func (e *Engine) read(ctx context.Context, op string, marker []byte, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := e.tr.ReadUntil(ctx, marker, timeout)
	if err != nil {
		var te *transport.TimeoutError
		if errors.As(err, &te) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &TransportError{Op: op, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *Engine) write(op string, p []byte) error {
	if err := e.tr.Write(p); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// spanAfter returns the bytes following the first occurrence of token.
func spanAfter(buf, token []byte) []byte {
	idx := bytes.Index(buf, token)
	if idx < 0 {
		return nil
	}
	return append([]byte(nil), buf[idx+len(token):]...)
}
