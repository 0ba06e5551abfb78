package services

import (
	"errors"
	"reflect"
	"testing"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

func TestMutex_LockUnlock(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)
	mutex := kernel.NewMutex()

	if err := mutex.Lock(); err != nil {
		t.Fatalf("Expected lock to succeed, got %v", err)
	}
	owner, ok := mutex.Owner()
	if !ok || owner != kernel.Threads.IdleThread().ID {
		t.Errorf("Expected idle to own the mutex, got %d (%v)", owner, ok)
	}

	if err := mutex.Unlock(); err != nil {
		t.Errorf("Expected unlock to succeed, got %v", err)
	}
	if _, ok := mutex.Owner(); ok {
		t.Errorf("Expected mutex without owner")
	}
}

func TestMutex_Errors(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)

	tests := []struct {
		name     string
		run      func(m *Mutex) error
		expected error
	}{
		{"unlock without owner", func(m *Mutex) error { return m.Unlock() }, status.ErrPermission},
		{"lock twice", func(m *Mutex) error {
			_ = m.Lock()
			return m.Lock()
		}, status.ErrBusy},
		{"trylock taken", func(m *Mutex) error {
			_ = m.Lock()
			return m.TryLock()
		}, status.ErrBusy},
		{"lock destroyed", func(m *Mutex) error {
			m.Destroy()
			return m.Lock()
		}, status.ErrInterrupted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(kernel.NewMutex())
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestMutex_TryLockFree(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)
	mutex := kernel.NewMutex()

	if err := mutex.TryLock(); err != nil {
		t.Errorf("Expected trylock to succeed, got %v", err)
	}
	if _, ok := mutex.Owner(); !ok {
		t.Errorf("Expected mutex owned after trylock")
	}
}

func TestMutex_HandsOwnershipToWaiter(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)
	mutex := kernel.NewMutex()

	if err := mutex.Lock(); err != nil {
		t.Fatalf("Expected lock to succeed, got %v", err)
	}

	var trace []string
	var lockErr, intruderErr error
	waiter, _ := kernel.Threads.Create("waiter", func(any) {
		lockErr = mutex.Lock()
		trace = append(trace, "waiter locked")
		_ = mutex.Unlock()
	}, nil, 1)
	_, _ = kernel.Threads.Create("intruder", func(any) {
		intruderErr = mutex.Unlock()
	}, nil, 1)

	kernel.Threads.Yield()

	if waiter.State != models.ThreadBlocked {
		t.Errorf("Expected waiter %s, got %s", models.ThreadBlocked, waiter.State)
	}
	if mutex.Waiters() != 1 {
		t.Errorf("Expected 1 waiter, got %d", mutex.Waiters())
	}
	if !errors.Is(intruderErr, status.ErrPermission) {
		t.Errorf("Expected ErrPermission for a non owner, got %v", intruderErr)
	}
	if len(trace) != 0 {
		t.Errorf("Expected waiter still blocked, got %v", trace)
	}

	if err := mutex.Unlock(); err != nil {
		t.Fatalf("Expected unlock to succeed, got %v", err)
	}
	owner, ok := mutex.Owner()
	if !ok || owner != waiter.ID {
		t.Errorf("Expected ownership handed to %d, got %d (%v)", waiter.ID, owner, ok)
	}
	if waiter.State != models.ThreadReady {
		t.Errorf("Expected waiter %s, got %s", models.ThreadReady, waiter.State)
	}

	kernel.Threads.Yield()

	if lockErr != nil {
		t.Errorf("Expected waiter lock to succeed, got %v", lockErr)
	}
	if !reflect.DeepEqual(trace, []string{"waiter locked"}) {
		t.Errorf("Expected waiter to run its critical section, got %v", trace)
	}
	if _, ok := mutex.Owner(); ok {
		t.Errorf("Expected mutex released by the waiter")
	}
}

func TestMutex_DestroyWakesWaiters(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)
	mutex := kernel.NewMutex()
	_ = mutex.Lock()

	var lockErr error
	waiter, _ := kernel.Threads.Create("waiter", func(any) {
		lockErr = mutex.Lock()
	}, nil, 1)

	kernel.Threads.Yield()
	mutex.Destroy()

	if waiter.State != models.ThreadReady {
		t.Errorf("Expected waiter %s, got %s", models.ThreadReady, waiter.State)
	}

	kernel.Threads.Yield()

	if !errors.Is(lockErr, status.ErrInterrupted) {
		t.Errorf("Expected ErrInterrupted, got %v", lockErr)
	}
}
