package circuit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() *Config {
	return &Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         20 * time.Millisecond,
		ResetTimeout:    time.Minute,
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	cb := New(testConfig())
	if cb.GetState() != StateClosed {
		t.Errorf("initial state = %s, want closed", cb.GetState())
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(testConfig())
	failing := func() error { return errors.New("mint unreachable") }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), failing)
	}

	if cb.GetState() != StateOpen {
		t.Errorf("state after %d failures = %s, want open", 3, cb.GetState())
	}

	// While open, calls are rejected without executing
	calls := 0
	err := cb.Execute(context.Background(), func() error {
		calls++
		return nil
	})
	if err == nil {
		t.Error("expected rejection while open")
	}
	if calls != 0 {
		t.Errorf("function ran %d times while open, want 0", calls)
	}
}

func TestBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := New(testConfig())
	failing := func() error { return errors.New("mint unreachable") }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), failing)
	}

	// Wait out the open timeout so the next call probes half-open
	time.Sleep(25 * time.Millisecond)

	ok := func() error { return nil }
	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), ok); err != nil {
			t.Fatalf("half-open probe %d failed: %v", i, err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("state after recovery = %s, want closed", cb.GetState())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	failing := func() error { return errors.New("mint unreachable") }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), failing)
	}

	time.Sleep(25 * time.Millisecond)

	_ = cb.Execute(context.Background(), failing)

	if cb.GetState() != StateOpen {
		t.Errorf("state after half-open failure = %s, want open", cb.GetState())
	}
}

func TestBreaker_Reset(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("state after reset = %s, want closed", cb.GetState())
	}
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("Execute after reset failed: %v", err)
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := New(testConfig())

	got, err := ExecuteWithResult(context.Background(), cb, func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult() error = %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
