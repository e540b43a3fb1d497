package kernel

import (
	"errors"
	"slices"
	"testing"

	"ex-hermes/pkg/hermes"
)

func TestServiceRegistryRegisterAndResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		registerName  string
		registerValue any
		duplicate     bool
	}{
		{name: "register and resolve success", registerName: "cache", registerValue: "memory"},
		{name: "duplicate registration fails", registerName: "db", registerValue: "none", duplicate: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			registry := NewServiceRegistry()
			if err := registry.Register(testCase.registerName, testCase.registerValue); err != nil {
				t.Fatalf("first register failed: %v", err)
			}
			if testCase.duplicate {
				err := registry.Register(testCase.registerName, "duplicate")
				if !errors.Is(err, hermes.ErrServiceAlreadyRegistered) {
					t.Fatalf("duplicate register error = %v, want %v", err, hermes.ErrServiceAlreadyRegistered)
				}
			}

			resolved, err := registry.Resolve(testCase.registerName)
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if resolved != testCase.registerValue {
				t.Fatalf("resolve value = %v, want %v", resolved, testCase.registerValue)
			}
		})
	}
}

func TestServiceRegistryErrors(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()

	if err := registry.Register("", "value"); err == nil {
		t.Fatal("expected empty name register error")
	}
	if err := registry.Register("svc", nil); err == nil {
		t.Fatal("expected nil service register error")
	}
	var nilPointerService *struct{}
	if err := registry.Register("svc-pointer", nilPointerService); err == nil {
		t.Fatal("expected nil pointer service register error")
	}
	if _, err := registry.Resolve("missing"); !errors.Is(err, hermes.ErrServiceNotFound) {
		t.Fatalf("resolve missing error = %v, want %v", err, hermes.ErrServiceNotFound)
	}
}

func TestServiceRegistryNames(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	for _, name := range []string{"b", "a", "c"} {
		if err := registry.Register(name, name); err != nil {
			t.Fatalf("register %s failed: %v", name, err)
		}
	}

	if got := registry.Names(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("Names() = %v, want [a b c]", got)
	}
}
