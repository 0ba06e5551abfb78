package heap

import (
	"errors"
	"testing"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/interrupts"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/mmu"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/frame"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/paging"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

const (
	testRam       = 256 * mmu.PageSize
	identityStart = 0x10000
	identityEnd   = 0x20000
)

var testFramebuffer = frame.Region{Start: 0x8000, End: 0xa000}

func newTestHeap(t *testing.T, ramSize uint32) *Allocator {
	t.Helper()
	irq := interrupts.NewController()
	t.Cleanup(irq.Stop)

	heap, err := Setup(irq, ramSize, identityStart, identityEnd, 1, testFramebuffer)
	if err != nil {
		t.Fatalf("Failed to set up heap: %v", err)
	}
	return heap
}

// checkCoverage verifica que los rangos no se pisen y cubran todo el heap.
func checkCoverage(t *testing.T, a *Allocator) {
	t.Helper()
	cursor := a.Base()
	for _, r := range a.Ranges() {
		if r.Base != cursor {
			t.Fatalf("Expected range at %#x, got %#x (ranges %+v)", cursor, r.Base, a.Ranges())
		}
		cursor = r.Base + r.Pages*mmu.PageSize
	}
	if cursor != a.Top() {
		t.Fatalf("Expected ranges to end at %#x, got %#x", a.Top(), cursor)
	}
}

func TestSetup_Zones(t *testing.T) {
	heap := newTestHeap(t, testRam)

	expected := []RangeInfo{
		{Base: 0x4000, Pages: 4, Free: true},
		{Base: 0x8000, Pages: 2},
		{Base: 0xa000, Pages: 6, Free: true},
		{Base: 0x10000, Pages: 16},
		{Base: 0x20000, Pages: 1},
		{Base: 0x21000, Pages: 223, Free: true},
	}

	ranges := heap.Ranges()
	if len(ranges) != len(expected) {
		t.Fatalf("Expected %d ranges, got %+v", len(expected), ranges)
	}
	for i := range expected {
		if ranges[i] != expected[i] {
			t.Errorf("Range %d: expected %+v, got %+v", i, expected[i], ranges[i])
		}
	}
	checkCoverage(t, heap)
}

func TestSetup_ClipsZonesToHeapSpace(t *testing.T) {
	irq := interrupts.NewController()
	t.Cleanup(irq.Stop)

	// framebuffer fuera de la RAM y kernel debajo de VMBase
	heap, err := Setup(irq, testRam, 0x1000, 0x6000, 1, frame.Region{Start: 0xfd000000, End: 0xfd300000})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	ranges := heap.Ranges()
	if ranges[0] != (RangeInfo{Base: VMBase, Pages: 2}) {
		t.Errorf("Expected kernel zone clipped to VMBase, got %+v", ranges[0])
	}
	checkCoverage(t, heap)
}

func TestTop(t *testing.T) {
	tests := []struct {
		ramSize  uint32
		expected uint32
	}{
		{ramSize: testRam, expected: testRam},
		{ramSize: testRam + 100, expected: testRam},
		{ramSize: 0x80000000, expected: paging.MirrorVaddr},
	}

	for _, tt := range tests {
		if got := Top(tt.ramSize); got != tt.expected {
			t.Errorf("Top(%#x): expected %#x, got %#x", tt.ramSize, tt.expected, got)
		}
	}
}

func TestAlloc_CarvesFromTheEnd(t *testing.T) {
	heap := newTestHeap(t, testRam)

	tests := []struct {
		size     uint32
		expected uint32
	}{
		{size: 0, expected: 0xff000},
		{size: 1, expected: 0xfe000},
		{size: mmu.PageSize, expected: 0xfd000},
		{size: mmu.PageSize + 1, expected: 0xfb000},
	}

	for _, tt := range tests {
		addr, err := heap.Alloc(tt.size)
		if err != nil || addr != tt.expected {
			t.Errorf("Alloc(%d): expected %#x, got %#x (%v)", tt.size, tt.expected, addr, err)
		}
		checkCoverage(t, heap)
	}
}

func TestAlloc_ExactFitMovesTheRange(t *testing.T) {
	heap := newTestHeap(t, testRam)
	before := heap.Stats()

	addr, err := heap.Alloc(223 * mmu.PageSize)
	if err != nil || addr != 0x21000 {
		t.Fatalf("Expected the whole range at 0x21000, got %#x (%v)", addr, err)
	}

	after := heap.Stats()
	if after.FreeRanges != before.FreeRanges-1 || after.UsedRanges != before.UsedRanges+1 {
		t.Errorf("Expected the record to move lists, stats %+v -> %+v", before, after)
	}
	if after.ArenaUsed != before.ArenaUsed {
		t.Errorf("Expected no new record for an exact fit, got %d -> %d", before.ArenaUsed, after.ArenaUsed)
	}

	// La siguiente reserva sale del próximo rango libre de la lista.
	addr, _ = heap.Alloc(5 * mmu.PageSize)
	if addr != 0xb000 {
		t.Errorf("Expected 0xb000, got %#x", addr)
	}
	checkCoverage(t, heap)
}

func TestAlloc_NoFit(t *testing.T) {
	heap := newTestHeap(t, testRam)

	if _, err := heap.Alloc(224 * mmu.PageSize); !errors.Is(err, status.ErrNoMemory) {
		t.Errorf("Expected ErrNoMemory, got %v", err)
	}
	checkCoverage(t, heap)
}

func TestFree(t *testing.T) {
	heap := newTestHeap(t, testRam)
	before := heap.Stats()

	addr, _ := heap.Alloc(3 * mmu.PageSize)
	if err := heap.Free(addr); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	after := heap.Stats()
	if after.FreePages != before.FreePages || after.UsedPages != before.UsedPages {
		t.Errorf("Expected pages back, stats %+v -> %+v", before, after)
	}
	checkCoverage(t, heap)

	// El rango liberado está al frente de la lista y se vuelve a usar.
	again, _ := heap.Alloc(3 * mmu.PageSize)
	if again != addr {
		t.Errorf("Expected %#x to be reused, got %#x", addr, again)
	}
}

func TestFree_InvalidAddresses(t *testing.T) {
	heap := newTestHeap(t, testRam)

	if err := heap.Free(0); err != nil {
		t.Errorf("Expected nil address to be a no-op, got %v", err)
	}

	addr, _ := heap.Alloc(2 * mmu.PageSize)
	for _, bad := range []uint32{addr + mmu.PageSize, 0x21000, 0x4000} {
		if err := heap.Free(bad); !errors.Is(err, status.ErrInvalidValue) {
			t.Errorf("Free(%#x): expected ErrInvalidValue, got %v", bad, err)
		}
	}

	_ = heap.Free(addr)
	if err := heap.Free(addr); !errors.Is(err, status.ErrInvalidValue) {
		t.Errorf("Expected double free to fail, got %v", err)
	}
	checkCoverage(t, heap)
}

// Los rangos libres vecinos no se unen: dos páginas contiguas liberadas por
// separado no alcanzan para una reserva de dos páginas.
func TestFree_DoesNotMergeNeighbours(t *testing.T) {
	heap := newTestHeap(t, testRam)

	first, _ := heap.Alloc(mmu.PageSize)
	second, _ := heap.Alloc(mmu.PageSize)
	if first != second+mmu.PageSize {
		t.Fatalf("Expected adjacent pages, got %#x and %#x", first, second)
	}

	for _, pages := range []uint32{221, 6, 4} {
		if _, err := heap.Alloc(pages * mmu.PageSize); err != nil {
			t.Fatalf("Failed to exhaust the heap: %v", err)
		}
	}

	_ = heap.Free(first)
	_ = heap.Free(second)

	if _, err := heap.Alloc(2 * mmu.PageSize); !errors.Is(err, status.ErrNoMemory) {
		t.Errorf("Expected fragmentation to make the request fail, got %v", err)
	}
	if stats := heap.Stats(); stats.FreePages != 2 || stats.FreeRanges != 2 {
		t.Errorf("Expected two separate free pages, got %+v", stats)
	}
	checkCoverage(t, heap)
}

func TestAlloc_ArenaExhaustion(t *testing.T) {
	heap := newTestHeap(t, 1024*mmu.PageSize)
	capacity := heap.Stats().ArenaCapacity

	var err error
	for i := 0; i < capacity; i++ {
		if _, err = heap.Alloc(1); err != nil {
			break
		}
	}
	if !errors.Is(err, status.ErrNoMemory) {
		t.Fatalf("Expected ErrNoMemory when the arena runs out, got %v", err)
	}

	stats := heap.Stats()
	if stats.ArenaUsed != stats.ArenaCapacity {
		t.Errorf("Expected arena full, got %+v", stats)
	}
	if stats.FreePages == 0 {
		t.Error("Expected free pages left behind the full arena")
	}
	checkCoverage(t, heap)
}

type fakeBacking struct {
	mapped   [][2]uint32
	unmapped [][2]uint32
	err      error
}

func (f *fakeBacking) MapRange(base, top uint32, user bool) error {
	if f.err != nil {
		return f.err
	}
	f.mapped = append(f.mapped, [2]uint32{base, top})
	return nil
}

func (f *fakeBacking) UnmapRange(base, top uint32) error {
	f.unmapped = append(f.unmapped, [2]uint32{base, top})
	return nil
}

func TestBacking_MapsAndUnmaps(t *testing.T) {
	heap := newTestHeap(t, testRam)
	backing := &fakeBacking{}
	heap.SetBacking(backing)

	addr, _ := heap.Alloc(2 * mmu.PageSize)
	_ = heap.Free(addr)

	expected := [2]uint32{addr, addr + 2*mmu.PageSize}
	if len(backing.mapped) != 1 || backing.mapped[0] != expected {
		t.Errorf("Expected map of %v, got %v", expected, backing.mapped)
	}
	if len(backing.unmapped) != 1 || backing.unmapped[0] != expected {
		t.Errorf("Expected unmap of %v, got %v", expected, backing.unmapped)
	}
}

func TestBacking_FailureRollsBack(t *testing.T) {
	heap := newTestHeap(t, testRam)
	heap.SetBacking(&fakeBacking{err: status.ErrNoMemory})
	before := heap.Stats()

	for _, pages := range []uint32{1, 223} {
		if _, err := heap.Alloc(pages * mmu.PageSize); !errors.Is(err, status.ErrNoMemory) {
			t.Errorf("Expected ErrNoMemory, got %v", err)
		}
	}

	after := heap.Stats()
	if after.FreePages != before.FreePages || after.FreeRanges != before.FreeRanges {
		t.Errorf("Expected heap unchanged, stats %+v -> %+v", before, after)
	}
	checkCoverage(t, heap)
}

func TestBacking_FailuresDoNotConsumeArena(t *testing.T) {
	heap := newTestHeap(t, testRam)
	backing := &fakeBacking{err: status.ErrNoMemory}
	heap.SetBacking(backing)
	before := heap.Stats()

	for i := 0; i < before.ArenaCapacity+10; i++ {
		if _, err := heap.Alloc(mmu.PageSize); !errors.Is(err, status.ErrNoMemory) {
			t.Fatalf("Expected ErrNoMemory on attempt %d, got %v", i, err)
		}
	}
	if after := heap.Stats(); after.ArenaUsed != before.ArenaUsed {
		t.Errorf("Expected arena used %d, got %d", before.ArenaUsed, after.ArenaUsed)
	}

	backing.err = nil
	addr, err := heap.Alloc(mmu.PageSize)
	if err != nil {
		t.Fatalf("Expected alloc to succeed once frames are back, got %v", err)
	}
	if len(backing.mapped) != 1 || backing.mapped[0][0] != addr {
		t.Errorf("Expected one mapping at %#x, got %v", addr, backing.mapped)
	}
	checkCoverage(t, heap)
}

func TestBacking_WithPagingManager(t *testing.T) {
	irq := interrupts.NewController()
	t.Cleanup(irq.Stop)

	machine, _ := mmu.NewMachine(mmu.Config{RamSize: testRam, TlbEntries: 4})
	frames, _ := frame.Setup(irq, testRam, frame.Region{Start: 0, End: identityEnd + mmu.PageSize})
	manager, err := paging.Setup(machine, frames, irq, identityStart, identityEnd+mmu.PageSize)
	if err != nil {
		t.Fatalf("Failed to set up paging: %v", err)
	}

	heap, _ := Setup(irq, testRam, identityStart, identityEnd, 1)
	heap.SetBacking(manager)
	before := frames.Stats()

	addr, err := heap.Alloc(2 * mmu.PageSize)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := machine.Write32(addr+mmu.PageSize, 1234); err != nil {
		t.Fatalf("Expected heap memory to be writable, got %v", err)
	}
	if value, _ := machine.Read32(addr + mmu.PageSize); value != 1234 {
		t.Errorf("Expected 1234, got %d", value)
	}

	_ = heap.Free(addr)
	if _, err := manager.Translate(addr); !errors.Is(err, status.ErrUnresolvedVirtualAddress) {
		t.Errorf("Expected heap page unmapped after free, got %v", err)
	}
	if after := frames.Stats(); after != before {
		t.Errorf("Expected frames back after free, stats %+v -> %+v", before, after)
	}
}
