package mmu

import (
	"fmt"
	"log/slog"
)

type TLBEntry struct {
	PageNumber  uint32
	FrameNumber uint32
	Writable    bool
	LastUsed    int64 //contador para LRU
}

type tlb struct {
	entries   []TLBEntry
	maxSize   int
	algorithm string // "FIFO" o "LRU"
	counter   int64
}

func newTLB(maxSize int, algorithm string) *tlb {
	if maxSize < 0 {
		maxSize = 0
	}
	if algorithm != "LRU" {
		algorithm = "FIFO"
	}
	return &tlb{
		entries:   make([]TLBEntry, 0, maxSize),
		maxSize:   maxSize,
		algorithm: algorithm,
	}
}

func (t *tlb) enabled() bool {
	return t.maxSize > 0
}

func (t *tlb) search(pageNumber uint32) (TLBEntry, bool) {
	for i := range t.entries {
		if t.entries[i].PageNumber == pageNumber {
			if t.algorithm == "LRU" {
				t.counter++
				t.entries[i].LastUsed = t.counter
			}
			return t.entries[i], true
		}
	}
	return TLBEntry{}, false
}

func (t *tlb) insert(pageNumber, frameNumber uint32, writable bool) {
	if !t.enabled() {
		return
	}

	t.counter++
	entry := TLBEntry{
		PageNumber:  pageNumber,
		FrameNumber: frameNumber,
		Writable:    writable,
		LastUsed:    t.counter,
	}

	if len(t.entries) < t.maxSize {
		t.entries = append(t.entries, entry)
		return
	}

	victimIndex := 0
	if t.algorithm == "LRU" {
		minUsage := t.entries[0].LastUsed
		for i, e := range t.entries {
			if e.LastUsed < minUsage {
				minUsage = e.LastUsed
				victimIndex = i
			}
		}
		t.entries[victimIndex] = entry
	} else {
		// FIFO: sale la más vieja, la nueva entra al final
		t.entries = append(t.entries[1:], entry)
	}

	slog.Debug(fmt.Sprintf("TLB reemplazo: página %#x -> frame %#x (%s)", pageNumber, frameNumber, t.algorithm))
}

func (t *tlb) invalidate(pageNumber uint32) {
	for i := range t.entries {
		if t.entries[i].PageNumber == pageNumber {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

func (t *tlb) flush() {
	t.entries = t.entries[:0]
}
