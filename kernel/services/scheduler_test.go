package services

import (
	"reflect"
	"testing"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/interrupts"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

func readyNames(s *Scheduler) []string {
	var names []string
	for _, info := range s.ReadyQueue() {
		names = append(names, info.Name)
	}
	return names
}

func TestSetReady_OrdersByPriority(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)

	tests := []struct {
		name     string
		priority uint8
	}{
		{"p3", 3},
		{"p1", 1},
		{"p2", 2},
	}
	for _, tt := range tests {
		if _, err := kernel.Threads.Create(tt.name, noop, nil, tt.priority); err != nil {
			t.Fatalf("Failed to create %s: %v", tt.name, err)
		}
	}

	expected := []string{"p3", "p2", "p1"}
	if got := readyNames(kernel.Scheduler); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected ready queue %v, got %v", expected, got)
	}
}

func TestSetReady_FIFOForEqualPriority(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)

	for _, thread := range []struct {
		name     string
		priority uint8
	}{{"a", 2}, {"b", 2}, {"c", 5}, {"d", 2}} {
		if _, err := kernel.Threads.Create(thread.name, noop, nil, thread.priority); err != nil {
			t.Fatalf("Failed to create %s: %v", thread.name, err)
		}
	}

	expected := []string{"c", "a", "b", "d"}
	if got := readyNames(kernel.Scheduler); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected ready queue %v, got %v", expected, got)
	}
}

func TestSetReady_AlreadyReadyIsNoop(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)

	thread, _ := kernel.Threads.Create("once", noop, nil, 1)
	kernel.Scheduler.SetReady(thread)

	if kernel.Scheduler.Len() != 1 {
		t.Errorf("Expected thread queued once, got %d entries", kernel.Scheduler.Len())
	}
}

func TestSetReady_RejectsZombie(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)

	zombie := &models.Thread{ID: 99, State: models.ThreadZombie}
	fatal := status.CatchFatal(func() { kernel.Scheduler.SetReady(zombie) })
	if fatal == nil {
		t.Errorf("Expected readying a zombie thread to halt")
	}
}

func TestSchedule_RunsHighestPriorityFirst(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)

	var trace []uint8
	record := func(arg any) { trace = append(trace, arg.(uint8)) }
	for _, priority := range []uint8{3, 1, 2} {
		if _, err := kernel.Threads.Create("worker", record, priority, priority); err != nil {
			t.Fatalf("Failed to create thread: %v", err)
		}
	}

	kernel.Threads.Yield()

	expected := []uint8{3, 2, 1}
	if !reflect.DeepEqual(trace, expected) {
		t.Errorf("Expected run order %v, got %v", expected, trace)
	}
	if kernel.Threads.Current() != kernel.Threads.IdleThread() {
		t.Errorf("Expected idle to be back on the CPU")
	}
	if kernel.Scheduler.Len() != 0 {
		t.Errorf("Expected empty ready queue, got %v", readyNames(kernel.Scheduler))
	}
}

func TestSchedule_RoundRobinWithIdle(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)

	var trace []uint8
	loop := func(arg any) {
		for {
			trace = append(trace, arg.(uint8))
			kernel.Threads.Yield()
		}
	}
	for _, priority := range []uint8{5, 3, 1} {
		if _, err := kernel.Threads.Create("looper", loop, priority, priority); err != nil {
			t.Fatalf("Failed to create thread: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		kernel.Threads.Yield()
		trace = append(trace, 0)
	}

	expected := []uint8{5, 3, 1, 0, 5, 3, 1, 0}
	if !reflect.DeepEqual(trace, expected) {
		t.Errorf("Expected run order %v, got %v", expected, trace)
	}
}

func TestSchedule_AloneKeepsRunning(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)

	kernel.Threads.Yield()

	idle := kernel.Threads.IdleThread()
	if idle.State != models.ThreadRunning {
		t.Errorf("Expected idle %s, got %s", models.ThreadRunning, idle.State)
	}
	if kernel.Scheduler.Len() != 0 {
		t.Errorf("Expected empty ready queue, got %d", kernel.Scheduler.Len())
	}
}

func TestTimerHandler_PreemptsCurrentThread(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)

	ran := false
	if _, err := kernel.Threads.Create("preempted", func(any) { ran = true }, nil, 1); err != nil {
		t.Fatalf("Failed to create thread: %v", err)
	}

	kernel.Interrupts.Raise(interrupts.IRQTimer)
	kernel.Preempt()

	if !ran {
		t.Errorf("Expected the timer tick to hand the CPU to the ready thread")
	}
	if !kernel.Interrupts.Enabled() {
		t.Errorf("Expected interrupts enabled after the tick")
	}
	if kernel.Interrupts.Pending() {
		t.Errorf("Expected no pending interrupts")
	}
}

func TestReadyQueue_ReportsThreadInfo(t *testing.T) {
	kernel := newTestKernel(t, models.HeapBackingNone)

	thread, _ := kernel.Threads.Create("info", noop, nil, 7)
	queue := kernel.Scheduler.ReadyQueue()

	if len(queue) != 1 {
		t.Fatalf("Expected 1 ready thread, got %d", len(queue))
	}
	info := queue[0]
	if info.ID != thread.ID || info.State != models.ThreadReady || info.Priority != 7 {
		t.Errorf("Expected ready info for thread %d, got %+v", thread.ID, info)
	}
	if info.ESP != thread.Context.StackPointer() {
		t.Errorf("Expected ESP %#x, got %#x", thread.Context.StackPointer(), info.ESP)
	}
}
