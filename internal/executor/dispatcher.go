package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/belay-dotnet/belay-go/internal/cache"
	"github.com/belay-dotnet/belay-go/internal/device"
	"github.com/belay-dotnet/belay-go/internal/protocol"
	"github.com/belay-dotnet/belay-go/internal/session"
)

// InvokeError wraps an engine failure with the logical operation identity so
// callers see which remote method broke, never swallowing the cause.
type InvokeError struct {
	Method    string
	Signature string
	Err       error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("executor: invoke %s (%s): %v", e.Method, e.Signature, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// Dispatcher multiplexes the registered methods onto one session.
type Dispatcher struct {
	sess     *session.Session
	deployed *cache.Cache
	registry *Registry
	dev      device.Info
}

func NewDispatcher(sess *session.Session, deployed *cache.Cache, registry *Registry, dev device.Info) *Dispatcher {
	return &Dispatcher{sess: sess, deployed: deployed, registry: registry, dev: dev}
}

// Call runs a one-shot task method: deploy through the cache, then invoke.
func (d *Dispatcher) Call(ctx context.Context, name string, args ...any) (protocol.ExecutionResult, error) {
	m, err := d.resolve(name, RoleTask)
	if err != nil {
		return protocol.ExecutionResult{}, err
	}
	code, err := m.Generate(args...)
	if err != nil {
		return protocol.ExecutionResult{}, d.wrap(m, err)
	}
	if err := d.deploy(ctx, m, code); err != nil {
		return protocol.ExecutionResult{}, d.wrap(m, err)
	}

	call, err := renderCall(m.Name, args...)
	if err != nil {
		return protocol.ExecutionResult{}, d.wrap(m, err)
	}
	result, err := d.run(ctx, m, call)
	if err != nil {
		return protocol.ExecutionResult{}, err
	}
	return result, nil
}

// Setup runs an initialization method once per session, guarded by session
// state. Setup code is idempotent preparation, never cached across sessions.
func (d *Dispatcher) Setup(ctx context.Context, name string, args ...any) error {
	m, err := d.resolve(name, RoleSetup)
	if err != nil {
		return err
	}
	flag := "setup." + m.Name
	if _, done := d.sess.Value(flag); done {
		return nil
	}
	code, err := m.Generate(args...)
	if err != nil {
		return d.wrap(m, err)
	}
	if _, err := d.run(ctx, m, code); err != nil {
		return err
	}
	d.sess.SetValue(flag, true)
	return nil
}

// Start deploys and launches a backgrounded method whose generated code
// spawns a device-side thread, registers the thread as a session resource,
// and returns once the spawn conversation completes. The session gate is not
// held for the background task's runtime.
func (d *Dispatcher) Start(ctx context.Context, name string, args ...any) (string, error) {
	m, err := d.resolve(name, RoleThread)
	if err != nil {
		return "", err
	}
	code, err := m.Generate(args...)
	if err != nil {
		return "", d.wrap(m, err)
	}
	if _, err := d.run(ctx, m, code); err != nil {
		return "", err
	}

	id := uuid.NewString()
	resource := session.Resource{
		ID:   id,
		Kind: "device-thread",
		Cleanup: func(ctx context.Context) error {
			stop := fmt.Sprintf("%s = True", stopFlag(m.Name))
			_, err := d.run(ctx, m, stop)
			return err
		},
	}
	if err := d.sess.RegisterResource(resource); err != nil {
		return "", d.wrap(m, err)
	}
	log.Debug().Str("method", m.Name).Str("resource", id).Msg("device thread started")
	return id, nil
}

// Close runs every teardown-role method best-effort, then closes the session.
// Teardown always executes even when earlier cleanup failed; errors are
// logged, not propagated.
func (d *Dispatcher) Close(ctx context.Context) error {
	for _, m := range d.registry.ByRole(RoleTeardown) {
		code, err := m.Generate()
		if err != nil {
			log.Warn().Err(err).Str("method", m.Name).Msg("teardown codegen failed")
			continue
		}
		if _, err := d.run(ctx, m, code); err != nil {
			log.Warn().Err(err).Str("method", m.Name).Msg("teardown failed")
		}
	}
	return d.sess.Close(ctx)
}

// deploy sends the method body through the deployment cache; identical code
// for the same device identity is transmitted at most once while cached.
func (d *Dispatcher) deploy(ctx context.Context, m Method, code string) error {
	key := cache.Key{
		DeviceType:      d.dev.DeviceType,
		FirmwareVersion: d.dev.FirmwareVersion,
		MethodSignature: m.Signature,
		Fingerprint:     cache.Fingerprint(code),
	}
	_, err := d.deployed.GetOrDeploy(ctx, key, func(ctx context.Context) (string, error) {
		if _, err := d.run(ctx, m, code); err != nil {
			return "", err
		}
		return code, nil
	})
	return err
}

// run executes one conversation, translating a remote traceback into a
// typed device error.
func (d *Dispatcher) run(ctx context.Context, m Method, code string) (protocol.ExecutionResult, error) {
	result, err := d.sess.ExecuteSerialized(ctx, protocol.ExecutionRequest{Code: code})
	if err != nil {
		return protocol.ExecutionResult{}, d.wrap(m, err)
	}
	if result.IsError {
		return protocol.ExecutionResult{}, d.wrap(m, &protocol.DeviceError{
			Method:    m.Name,
			Traceback: result.ErrorMessage,
		})
	}
	return result, nil
}

func (d *Dispatcher) resolve(name string, role Role) (Method, error) {
	m, ok := d.registry.Resolve(name)
	if !ok {
		return Method{}, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	if m.Role != role {
		return Method{}, fmt.Errorf("%w: %s is %s, not %s", ErrRoleMismatch, name, m.Role, role)
	}
	return m, nil
}

func (d *Dispatcher) wrap(m Method, err error) error {
	var invokeErr *InvokeError
	if errors.As(err, &invokeErr) {
		return err
	}
	return &InvokeError{Method: m.Name, Signature: m.Signature, Err: err}
}
