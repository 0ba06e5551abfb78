package status

import (
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	wrapped := fmt.Errorf("frame 0x1001: %w", ErrInvalidValue)

	if Code(nil) != 0 {
		t.Errorf("Expected 0 for nil, got %d", Code(nil))
	}
	if Code(wrapped) != -1 {
		t.Errorf("Expected -1 for wrapped invalid value, got %d", Code(wrapped))
	}
	if Code(ErrPermission) != -6 {
		t.Errorf("Expected -6 for permission error, got %d", Code(ErrPermission))
	}
	if Code(fmt.Errorf("otro")) != -255 {
		t.Errorf("Expected -255 for unknown error, got %d", Code(fmt.Errorf("otro")))
	}
}

func TestAssert_Halts(t *testing.T) {
	hookCalled := false
	unregister := OnHalt(func() { hookCalled = true })
	defer unregister()

	fatal := CatchFatal(func() {
		Assert(1 == 2, "estado invalido %d", 7)
	})

	if fatal == nil {
		t.Fatal("Expected a fatal error")
	}
	if fatal.Message != "estado invalido 7" {
		t.Errorf("Expected message 'estado invalido 7', got %q", fatal.Message)
	}
	if fatal.File != "status_test.go" {
		t.Errorf("Expected file status_test.go, got %s", fatal.File)
	}
	if !hookCalled {
		t.Error("Expected halt hook to be called")
	}
}

func TestAssert_PassingConditionDoesNothing(t *testing.T) {
	fatal := CatchFatal(func() {
		Assert(true, "nunca")
	})
	if fatal != nil {
		t.Errorf("Expected no fatal error, got %v", fatal)
	}
}

func TestCatchFatal_PropagatesOtherPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != "otro panic" {
			t.Errorf("Expected 'otro panic' to propagate, got %v", r)
		}
	}()
	CatchFatal(func() { panic("otro panic") })
}
