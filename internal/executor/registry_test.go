package executor

import (
	"errors"
	"testing"

	"github.com/belay-dotnet/belay-go/internal/testutil/testlog"
)

func noopGenerate(args ...any) (string, error) { return "pass", nil }

func TestRegistryRegisterAndResolve(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	err := r.Register(Method{
		Name:      "ReadTemperature",
		Signature: "ReadTemperature() -> float",
		Role:      RoleTask,
		Generate:  noopGenerate,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	m, ok := r.Resolve("ReadTemperature")
	if !ok || m.Role != RoleTask {
		t.Fatalf("resolve failed: %+v ok=%v", m, ok)
	}
	if _, ok := r.Resolve("Unknown"); ok {
		t.Fatalf("resolved unregistered method")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	m := Method{Name: "Init", Signature: "Init()", Role: RoleSetup, Generate: noopGenerate}
	if err := r.Register(m); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(m); !errors.Is(err, ErrMethodExists) {
		t.Fatalf("duplicate accepted: %v", err)
	}
}

func TestRegistryValidation(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	cases := []struct {
		name string
		m    Method
	}{
		{"missing name", Method{Signature: "X()", Role: RoleTask, Generate: noopGenerate}},
		{"missing signature", Method{Name: "X", Role: RoleTask, Generate: noopGenerate}},
		{"bad identifier", Method{Name: "1bad name", Signature: "X()", Role: RoleTask, Generate: noopGenerate}},
		{"missing generate", Method{Name: "X", Signature: "X()", Role: RoleTask}},
		{"unknown role", Method{Name: "X", Signature: "X()", Role: Role("mystery"), Generate: noopGenerate}},
	}
	for _, tc := range cases {
		if err := r.Register(tc.m); !errors.Is(err, ErrInvalidMethod) {
			t.Fatalf("%s: accepted (%v)", tc.name, err)
		}
	}
}

func TestRegistryByRole(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	for _, m := range []Method{
		{Name: "zTeardown", Signature: "z()", Role: RoleTeardown, Generate: noopGenerate},
		{Name: "aTeardown", Signature: "a()", Role: RoleTeardown, Generate: noopGenerate},
		{Name: "task", Signature: "t()", Role: RoleTask, Generate: noopGenerate},
	} {
		if err := r.Register(m); err != nil {
			t.Fatalf("register %s: %v", m.Name, err)
		}
	}
	got := r.ByRole(RoleTeardown)
	if len(got) != 2 || got[0].Name != "aTeardown" || got[1].Name != "zTeardown" {
		t.Fatalf("by role: %+v", got)
	}
}

func TestLiteralRendering(t *testing.T) {
	testlog.Start(t)
	call, err := renderCall("Configure", "mode", 3, 1.5, true, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := `print(Configure("mode", 3, 1.5, True, None))`
	if call != want {
		t.Fatalf("rendered %q", call)
	}
	if _, err := renderCall("Bad", struct{}{}); err == nil {
		t.Fatalf("unsupported argument accepted")
	}
}
