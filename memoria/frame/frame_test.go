package frame

import (
	"errors"
	"testing"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/interrupts"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/mmu"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

const testRam = 16 * mmu.PageSize

func newTestAllocator(t *testing.T, reserved ...Region) *Allocator {
	t.Helper()
	irq := interrupts.NewController()
	t.Cleanup(irq.Stop)

	allocator, err := Setup(irq, testRam, reserved...)
	if err != nil {
		t.Fatalf("Failed to set up frames: %v", err)
	}
	return allocator
}

func checkConservation(t *testing.T, a *Allocator) {
	t.Helper()
	stats := a.Stats()
	if stats.Free+stats.Used != stats.Total {
		t.Errorf("Expected free+used == total, got %d+%d != %d", stats.Free, stats.Used, stats.Total)
	}
}

func TestSetup_ReservedRegionsStartUsed(t *testing.T) {
	a := newTestAllocator(t, Region{Start: 0x1000, End: 0x2800})

	stats := a.Stats()
	if stats.Total != 15 || stats.Used != 2 || stats.Free != 13 {
		t.Errorf("Expected 15 total, 2 used, 13 free, got %+v", stats)
	}

	for _, address := range []uint32{0x1000, 0x2000} {
		count, err := a.RefCount(address)
		if err != nil || count != 1 {
			t.Errorf("Expected reserved frame %#x with count 1, got %d (%v)", address, count, err)
		}
	}
	if _, err := a.RefCount(NoFrame); !errors.Is(err, status.ErrInvalidValue) {
		t.Errorf("Expected page 0 to be outside the allocator, got %v", err)
	}
}

func TestAlloc_HighestAddressFirstThenLIFO(t *testing.T) {
	a := newTestAllocator(t)

	first, _ := a.Alloc()
	second, _ := a.Alloc()
	if first != 15*mmu.PageSize || second != 14*mmu.PageSize {
		t.Errorf("Expected 0xf000 and 0xe000, got %#x and %#x", first, second)
	}

	_, _ = a.Free(first)
	again, _ := a.Alloc()
	if again != first {
		t.Errorf("Expected the last freed frame %#x, got %#x", first, again)
	}
	checkConservation(t, a)
}

func TestAlloc_Exhaustion(t *testing.T) {
	a := newTestAllocator(t)

	seen := make(map[uint32]bool)
	for {
		address, err := a.Alloc()
		if err != nil {
			if !errors.Is(err, status.ErrNoMemory) {
				t.Errorf("Expected ErrNoMemory, got %v", err)
			}
			if address != NoFrame {
				t.Errorf("Expected NoFrame, got %#x", address)
			}
			break
		}
		if seen[address] {
			t.Fatalf("Frame %#x handed out twice", address)
		}
		seen[address] = true
		checkConservation(t, a)
	}

	if len(seen) != 15 {
		t.Errorf("Expected 15 frames, got %d", len(seen))
	}
}

func TestAllocFree_RoundTrip(t *testing.T) {
	a := newTestAllocator(t, Region{Start: 0x3000, End: 0x4000})
	before := a.Stats()

	var frames []uint32
	for i := 0; i < 8; i++ {
		address, err := a.Alloc()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		frames = append(frames, address)
	}
	for _, address := range frames {
		released, err := a.Free(address)
		if err != nil || !released {
			t.Errorf("Expected frame %#x released, got %v (%v)", address, released, err)
		}
		checkConservation(t, a)
	}

	if after := a.Stats(); after != before {
		t.Errorf("Expected stats %+v after round trip, got %+v", before, after)
	}
}

func TestFree_InvalidAddresses(t *testing.T) {
	a := newTestAllocator(t)

	tests := []struct {
		name    string
		address uint32
	}{
		{name: "unaligned", address: 0x2004},
		{name: "page zero", address: 0},
		{name: "outside ram", address: testRam},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Free(tt.address); !errors.Is(err, status.ErrInvalidValue) {
				t.Errorf("Expected ErrInvalidValue, got %v", err)
			}
			if _, err := a.Ref(tt.address); !errors.Is(err, status.ErrInvalidValue) {
				t.Errorf("Expected ErrInvalidValue on ref, got %v", err)
			}
		})
	}
}

func TestFree_DoubleFreeDoesNotUnderflow(t *testing.T) {
	a := newTestAllocator(t)

	address, _ := a.Alloc()
	if released, err := a.Free(address); err != nil || !released {
		t.Fatalf("Expected first free to release, got %v (%v)", released, err)
	}

	if _, err := a.Free(address); !errors.Is(err, status.ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue on double free, got %v", err)
	}
	if count, _ := a.RefCount(address); count != 0 {
		t.Errorf("Expected count 0, got %d", count)
	}
	checkConservation(t, a)
}

func TestRef_SharedFrame(t *testing.T) {
	a := newTestAllocator(t)

	address, _ := a.Alloc()
	shared, err := a.Ref(address)
	if err != nil || !shared {
		t.Errorf("Expected shared frame, got %v (%v)", shared, err)
	}

	released, _ := a.Free(address)
	if released {
		t.Error("Expected frame still referenced after first free")
	}
	released, _ = a.Free(address)
	if !released {
		t.Error("Expected frame released after second free")
	}
	checkConservation(t, a)
}

func TestRef_FreeFrameMovesToUsed(t *testing.T) {
	a := newTestAllocator(t)
	before := a.Stats()

	shared, err := a.Ref(0x5000)
	if err != nil || shared {
		t.Errorf("Expected first reference, got shared=%v (%v)", shared, err)
	}

	after := a.Stats()
	if after.Free != before.Free-1 || after.Used != before.Used+1 {
		t.Errorf("Expected one frame moved to used, got %+v -> %+v", before, after)
	}

	for i := 0; i < after.Free; i++ {
		if address, _ := a.Alloc(); address == 0x5000 {
			t.Fatal("Expected referenced frame not to be handed out")
		}
	}
}

func TestTableSize(t *testing.T) {
	tests := []struct {
		ramSize  uint32
		expected uint32
	}{
		{ramSize: 16 * mmu.PageSize, expected: mmu.PageSize},
		{ramSize: 32 << 20, expected: 24 * mmu.PageSize},
		{ramSize: 128 << 20, expected: 96 * mmu.PageSize},
	}

	for _, tt := range tests {
		if got := TableSize(tt.ramSize); got != tt.expected {
			t.Errorf("TableSize(%#x): expected %#x, got %#x", tt.ramSize, tt.expected, got)
		}
	}
}
