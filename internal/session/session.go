// Package session serializes all protocol conversations for one connection
// and hosts shared per-connection state.
//
// Ownership boundary:
// - the single gate over the transport conversation
// - the per-session key/value map
// - registered device-side resources and their teardown order
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/belay-dotnet/belay-go/internal/protocol"
)

var (
	ErrSessionClosed   = errors.New("session: session closed")
	ErrInvalidResource = errors.New("session: invalid resource")
)

// Executor runs one raw-mode conversation. Satisfied by *protocol.Engine.
type Executor interface {
	Execute(ctx context.Context, req protocol.ExecutionRequest) (protocol.ExecutionResult, error)
}

// Resource is a device-side artifact (a background thread, an open
// peripheral) that must be released before the session counts as closed.
type Resource struct {
	ID      string
	Kind    string
	Cleanup func(ctx context.Context) error
}

// Session exclusively owns the engine's conversational access to one
// transport. Nothing else may write to the transport while it exists.
type Session struct {
	ID        string
	CreatedAt time.Time

	engine Executor

	// gate is the sole serialization point: one conversation in flight per
	// transport, full stop.
	gate sync.Mutex

	mu        sync.RWMutex
	state     map[string]any
	resources []Resource
	closing   bool
	closed    bool
}

func New(engine Executor) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		engine:    engine,
		state:     make(map[string]any),
	}
}

// ExecuteSerialized acquires the gate, runs the conversation, and releases
// the gate regardless of outcome. Requests are served in gate acquisition
// order; two callers never interleave bytes on the wire.
func (s *Session) ExecuteSerialized(ctx context.Context, req protocol.ExecutionRequest) (protocol.ExecutionResult, error) {
	if s.isClosed() {
		return protocol.ExecutionResult{}, ErrSessionClosed
	}
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.engine.Execute(ctx, req)
}

// Value returns the session-scoped state stored under key.
func (s *Session) Value(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// SetValue stores session-scoped state; last write wins per key.
func (s *Session) SetValue(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state[key] = v
}

func (s *Session) DeleteValue(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, key)
}

// RegisterResource appends to the ordered cleanup list.
func (s *Session) RegisterResource(r Resource) error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidResource)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.closed {
		return ErrSessionClosed
	}
	s.resources = append(s.resources, r)
	return nil
}

// Resources returns a copy of the registered resources in order.
func (s *Session) Resources() []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Resource, len(s.resources))
	copy(out, s.resources)
	return out
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close releases registered resources in reverse registration order, logging
// and continuing past individual failures so one bad resource cannot block
// the rest, then clears session state. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closing || s.closed {
		s.mu.Unlock()
		return nil
	}
	// conversations stay possible while closing: cleanup hooks talk to the
	// device to stop what they registered
	s.closing = true
	resources := s.resources
	s.resources = nil
	s.mu.Unlock()

	failed := 0
	for i := len(resources) - 1; i >= 0; i-- {
		r := resources[i]
		if r.Cleanup == nil {
			continue
		}
		if err := r.Cleanup(ctx); err != nil {
			failed++
			log.Warn().Err(err).
				Str("session", s.ID).
				Str("resource", r.ID).
				Str("kind", r.Kind).
				Msg("resource cleanup failed")
		}
	}

	s.mu.Lock()
	s.closed = true
	s.state = make(map[string]any)
	s.mu.Unlock()

	log.Debug().Str("session", s.ID).Int("resources", len(resources)).Int("failed", failed).Msg("session closed")
	if failed > 0 {
		return fmt.Errorf("session: %d resource cleanup failure(s)", failed)
	}
	return nil
}
