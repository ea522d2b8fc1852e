package executor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Role selects the lifecycle and caching policy for a method; protocol
// mechanics are identical across roles.
type Role string

const (
	// RoleTask is a one-shot remote call, cacheable by default.
	RoleTask Role = "task"
	// RoleSetup runs once per session and is never cached across sessions.
	RoleSetup Role = "setup"
	// RoleThread spawns a device-side background task and returns.
	RoleThread Role = "thread"
	// RoleTeardown runs best-effort during session close.
	RoleTeardown Role = "teardown"
)

var (
	ErrMethodExists   = errors.New("executor: method already registered")
	ErrInvalidMethod  = errors.New("executor: invalid method")
	ErrMethodNotFound = errors.New("executor: method not found")
	ErrRoleMismatch   = errors.New("executor: role mismatch")
)

// GenerateFunc renders the deployable device code for one method.
type GenerateFunc func(args ...any) (string, error)

// Method is one entry in the static registration table, built once at
// startup; there is no runtime reflection in the dispatch path.
type Method struct {
	Name      string
	Signature string
	Role      Role
	Generate  GenerateFunc
}

// Registry stores methods by stable identifier.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Method
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Method)}
}

// Register adds a method to the table.
func (r *Registry) Register(m Method) error {
	if err := validateMethod(m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[m.Name]; ok {
		return fmt.Errorf("%w: %s", ErrMethodExists, m.Name)
	}
	r.items[m.Name] = m
	return nil
}

// Resolve returns a method by name.
func (r *Registry) Resolve(name string) (Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[name]
	return m, ok
}

// ByRole returns all methods with the given role, sorted by name.
func (r *Registry) ByRole(role Role) []Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Method
	for _, m := range r.items {
		if m.Role == role {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func validateMethod(m Method) error {
	name := strings.TrimSpace(m.Name)
	if name == "" || strings.TrimSpace(m.Signature) == "" {
		return fmt.Errorf("%w: name and signature are required", ErrInvalidMethod)
	}
	if !isIdentifier(name) {
		return fmt.Errorf("%w: name %q is not a device identifier", ErrInvalidMethod, name)
	}
	if m.Generate == nil {
		return fmt.Errorf("%w: missing generate func", ErrInvalidMethod)
	}
	switch m.Role {
	case RoleTask, RoleSetup, RoleThread, RoleTeardown:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMethod, m.Role)
	}
	return nil
}

// isIdentifier reports whether name is usable as an interpreter-side
// identifier, since invocation and thread-stop code embed it verbatim.
func isIdentifier(name string) bool {
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return len(name) > 0
}
