package protocol_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/belay-dotnet/belay-go/internal/protocol"
	"github.com/belay-dotnet/belay-go/internal/testutil/fakedev"
	"github.com/belay-dotnet/belay-go/internal/testutil/testlog"
	"github.com/belay-dotnet/belay-go/internal/transport"
)

func fastConfig() protocol.Config {
	return protocol.Config{
		RawEntryTimeout: 20 * time.Millisecond,
		AckTimeout:      20 * time.Millisecond,
		ExecTimeout:     50 * time.Millisecond,
		EntryAttempts:   2,
		ExecAttempts:    2,
		Backoff:         protocol.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: 5 * time.Millisecond},
	}
}

func TestExecuteReturnsParsedOutput(t *testing.T) {
	testlog.Start(t)
	dev := fakedev.New()
	dev.Results["print(1+1)"] = fakedev.Reply{Output: "2\r\n"}
	engine := protocol.NewEngine(dev, fastConfig())

	result, err := engine.Execute(context.Background(), protocol.ExecutionRequest{Code: "print(1+1)"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected device error: %q", result.ErrorMessage)
	}
	if result.Output != "2" {
		t.Fatalf("unexpected output: %q", result.Output)
	}
	if result.Duration <= 0 {
		t.Fatalf("duration not measured")
	}
	if got := engine.State(); got != protocol.StateIdle {
		t.Fatalf("engine not back to idle: %v", got)
	}
}

func TestExecuteConnectionReusableAfterSuccess(t *testing.T) {
	testlog.Start(t)
	dev := fakedev.New()
	dev.Results["print('a')"] = fakedev.Reply{Output: "a\r\n"}
	dev.Results["print('b')"] = fakedev.Reply{Output: "b\r\n"}
	engine := protocol.NewEngine(dev, fastConfig())

	for _, want := range []struct{ code, out string }{
		{"print('a')", "a"},
		{"print('b')", "b"},
	} {
		result, err := engine.Execute(context.Background(), protocol.ExecutionRequest{Code: want.code})
		if err != nil {
			t.Fatalf("execute %q: %v", want.code, err)
		}
		if result.Output != want.out {
			t.Fatalf("execute %q: got %q", want.code, result.Output)
		}
	}
}

func TestExecuteDeviceTraceback(t *testing.T) {
	testlog.Start(t)
	dev := fakedev.New()
	dev.Results["1/0"] = fakedev.Reply{
		Traceback: "Traceback (most recent call last):\r\n  File \"<stdin>\", line 1, in <module>\r\nZeroDivisionError: division by zero\r\n",
	}
	engine := protocol.NewEngine(dev, fastConfig())

	result, err := engine.Execute(context.Background(), protocol.ExecutionRequest{Code: "1/0"})
	if err != nil {
		t.Fatalf("a remote traceback is a successful conversation, got %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected IsError")
	}
	if !strings.Contains(result.ErrorMessage, "ZeroDivisionError") {
		t.Fatalf("traceback lost: %q", result.ErrorMessage)
	}
	if result.Output != "" {
		t.Fatalf("unexpected output: %q", result.Output)
	}
}

func TestExecuteRawEntryExhaustsTwoAttempts(t *testing.T) {
	testlog.Start(t)
	dev := fakedev.New()
	dev.SilentEntry = true
	engine := protocol.NewEngine(dev, fastConfig())

	_, err := engine.Execute(context.Background(), protocol.ExecutionRequest{Code: "print(1)"})
	if !errors.Is(err, protocol.ErrRawEntryFailed) {
		t.Fatalf("expected raw entry failure, got %v", err)
	}
	var protoErr *protocol.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected *protocol.ProtocolError, got %T", err)
	}
	if got := dev.CountWrites([]byte{protocol.CtrlRawEnter}); got != 2 {
		t.Fatalf("expected exactly 2 entry attempts, got %d", got)
	}
	// no code bytes may ever reach the transport on entry failure
	if len(dev.Execs()) != 0 {
		t.Fatalf("code was executed: %v", dev.Execs())
	}
	for _, w := range dev.Writes() {
		if strings.Contains(w, "print(1)") {
			t.Fatalf("code was written to transport: %q", w)
		}
	}
}

func TestExecuteMissingAck(t *testing.T) {
	testlog.Start(t)
	dev := fakedev.New()
	dev.SilentAck = true
	engine := protocol.NewEngine(dev, fastConfig())

	_, err := engine.Execute(context.Background(), protocol.ExecutionRequest{Code: "print(1)"})
	if !errors.Is(err, protocol.ErrNoAck) {
		t.Fatalf("expected missing-ack protocol error, got %v", err)
	}
	// raw-mode exit is written even on the error path
	if got := dev.CountWrites([]byte{protocol.CtrlRawExit}); got != 1 {
		t.Fatalf("raw exit writes=%d", got)
	}
}

func TestExecuteCompletionTimeoutRetriesWholeConversation(t *testing.T) {
	testlog.Start(t)
	dev := fakedev.New()
	dev.SilentCompletion = true
	engine := protocol.NewEngine(dev, fastConfig())

	_, err := engine.Execute(context.Background(), protocol.ExecutionRequest{Code: "while True: pass"})
	var timeoutErr *transport.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if timeoutErr.Attempts != 2 {
		t.Fatalf("attempts=%d", timeoutErr.Attempts)
	}
	if timeoutErr.Elapsed <= 0 {
		t.Fatalf("elapsed not accumulated")
	}
	if got := len(dev.Execs()); got != 2 {
		t.Fatalf("expected the conversation re-attempted once, execs=%d", got)
	}
	if got := dev.CountWrites([]byte{protocol.CtrlInterrupt, protocol.CtrlInterrupt}); got != 1 {
		t.Fatalf("double-interrupt writes=%d", got)
	}
}

func TestExecuteCancelledBeforeConversation(t *testing.T) {
	testlog.Start(t)
	dev := fakedev.New()
	engine := protocol.NewEngine(dev, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Execute(ctx, protocol.ExecutionRequest{Code: "print(1)"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(dev.Execs()) != 0 {
		t.Fatalf("code executed after cancellation")
	}
}

func TestExecuteRejectsInvalidRequests(t *testing.T) {
	testlog.Start(t)
	engine := protocol.NewEngine(fakedev.New(), fastConfig())

	if _, err := engine.Execute(context.Background(), protocol.ExecutionRequest{Code: "  "}); !errors.Is(err, protocol.ErrInvalidRequest) {
		t.Fatalf("empty code accepted: %v", err)
	}
	if _, err := engine.Execute(context.Background(), protocol.ExecutionRequest{Code: "x", Timeout: -time.Second}); !errors.Is(err, protocol.ErrInvalidRequest) {
		t.Fatalf("negative timeout accepted: %v", err)
	}
}

func TestExecuteTransportFailureIsTyped(t *testing.T) {
	testlog.Start(t)
	dev := fakedev.New()
	_ = dev.Close()
	engine := protocol.NewEngine(dev, fastConfig())

	_, err := engine.Execute(context.Background(), protocol.ExecutionRequest{Code: "print(1)"})
	var transportErr *protocol.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *protocol.TransportError, got %T: %v", err, err)
	}
	if !errors.Is(err, protocol.ErrTransportFailed) {
		t.Fatalf("sentinel not matched: %v", err)
	}
}
