package services

import (
	"testing"
)

func TestNewRegistry(t *testing.T) {
	var _ Registry = (*registry)(nil)
}

func TestRegistryAccessors(t *testing.T) {
	reg := NewRegistry(Options{})

	if reg.Primary() != nil {
		t.Error("expected nil primary client")
	}
	if reg.Secondary() != nil {
		t.Error("expected nil secondary client")
	}
	if reg.Elevation() != nil {
		t.Error("expected nil elevation client")
	}
	if reg.Locator() != nil {
		t.Error("expected nil locator")
	}
	if reg.Refiner() != nil {
		t.Error("expected nil refiner")
	}
	if reg.Merger() != nil {
		t.Error("expected nil merger")
	}
	if reg.Sink() != nil {
		t.Error("expected nil sink")
	}
	if reg.Events() != nil {
		t.Error("expected nil events registry")
	}
	if reg.Runner() != nil {
		t.Error("expected nil runner")
	}
	if err := reg.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestRegistryClose_ReverseOrder(t *testing.T) {
	var order []int
	reg := NewRegistry(Options{
		Closers: []func(){
			func() { order = append(order, 1) },
			func() { order = append(order, 2) },
		},
	})

	if err := reg.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("closers ran in order %v, want [2 1]", order)
	}

	// A second Close is a no-op.
	if err := reg.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
	if len(order) != 2 {
		t.Errorf("closers ran again: %v", order)
	}
}
