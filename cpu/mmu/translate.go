package mmu

import (
	"fmt"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

// Read32 lee una palabra de 32 bits en la dirección virtual vaddr.
// Sin paginación la dirección virtual es la física.
func (m *Machine) Read32(vaddr uint32) (uint32, error) {
	paddr, err := m.translate(vaddr, false)
	if err != nil {
		return 0, err
	}
	return m.ReadPhys32(paddr)
}

// Write32 escribe una palabra de 32 bits en la dirección virtual vaddr.
func (m *Machine) Write32(vaddr uint32, value uint32) error {
	paddr, err := m.translate(vaddr, true)
	if err != nil {
		return err
	}
	return m.WritePhys32(paddr, value)
}

// Translate resuelve vaddr como lo haría la MMU en una lectura.
func (m *Machine) Translate(vaddr uint32) (uint32, error) {
	return m.translate(vaddr, false)
}

func (m *Machine) translate(vaddr uint32, write bool) (uint32, error) {
	if !m.pagingEnabled {
		return vaddr, nil
	}

	pageNumber := vaddr >> PageShift
	offset := vaddr & PageMask

	if entry, ok := m.tlb.search(pageNumber); ok {
		if write && !entry.Writable {
			return 0, m.fault(vaddr, FaultProtection|FaultWrite)
		}
		return entry.FrameNumber<<PageShift | offset, nil
	}

	var code uint32
	if write {
		code |= FaultWrite
	}

	pdeAddr := m.cr3 + (vaddr>>22)*4
	pde, err := m.ReadPhys32(pdeAddr)
	if err != nil {
		return 0, err
	}
	if pde&entryPresent == 0 {
		return 0, m.fault(vaddr, code)
	}

	pteAddr := (pde &^ PageMask) + ((vaddr>>PageShift)&0x3ff)*4
	pte, err := m.ReadPhys32(pteAddr)
	if err != nil {
		return 0, err
	}
	if pte&entryPresent == 0 {
		return 0, m.fault(vaddr, code)
	}

	writable := pde&entryWrite != 0 && pte&entryWrite != 0
	if write && !writable {
		return 0, m.fault(vaddr, code|FaultProtection)
	}

	// El hardware marca Accessed y, si es escritura, Dirty.
	updated := pte | entryAccessed
	if write {
		updated |= entryDirty
	}
	if updated != pte {
		if err := m.WritePhys32(pteAddr, updated); err != nil {
			return 0, err
		}
	}

	frameNumber := pte >> PageShift
	m.tlb.insert(pageNumber, frameNumber, writable)
	return frameNumber<<PageShift | offset, nil
}

func (m *Machine) fault(vaddr uint32, code uint32) error {
	m.cr2 = vaddr
	if m.faultHandler != nil {
		m.faultHandler(vaddr, code)
	}
	return fmt.Errorf("%w: page fault en %#x (código %#x)", status.ErrUnresolvedVirtualAddress, vaddr, code)
}
