package stream

import (
	"testing"
)

func TestSessionMessageIDPrefersBackendID(t *testing.T) {
	s := NewSession()

	if got := s.MessageID(); got != s.PlaceholderID.String() {
		t.Fatalf("MessageID() = %q, want placeholder %q", got, s.PlaceholderID)
	}

	s.SetBackendID("backend-42")
	if got := s.MessageID(); got != "backend-42" {
		t.Fatalf("MessageID() = %q, want backend-42", got)
	}
}

func TestSessionDisposeRunsCleanupsInReverseOrder(t *testing.T) {
	s := NewSession()

	var order []int
	s.OnDispose(func() { order = append(order, 1) })
	s.OnDispose(func() { order = append(order, 2) })
	s.OnDispose(func() { order = append(order, 3) })

	s.Dispose()

	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("cleanup order = %v, want [3 2 1]", order)
	}
	if !s.Disposed() {
		t.Error("Disposed() = false after Dispose")
	}
}

func TestSessionDisposeIdempotent(t *testing.T) {
	s := NewSession()

	runs := 0
	s.OnDispose(func() { runs++ })

	s.Dispose()
	s.Dispose()

	if runs != 1 {
		t.Fatalf("cleanup ran %d times, want 1", runs)
	}
}

func TestSessionLateRegistrationRunsImmediately(t *testing.T) {
	s := NewSession()
	s.Dispose()

	ran := false
	s.OnDispose(func() { ran = true })

	if !ran {
		t.Fatal("cleanup registered after Dispose did not run immediately")
	}
}
