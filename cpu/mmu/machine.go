package mmu

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

const (
	PageSize  = 4096
	PageShift = 12
	PageMask  = PageSize - 1

	// PageFaultVector es la excepción #PF de x86.
	PageFaultVector = 14
)

// Bits de las entradas que el walk de hardware necesita mirar.
// El formato completo lo maneja memoria/paging.
const (
	entryPresent  = 1 << 0
	entryWrite    = 1 << 1
	entryAccessed = 1 << 5
	entryDirty    = 1 << 6
)

// Bits del código de error de un page fault.
const (
	FaultProtection = 1 << 0 // 0: página no presente, 1: violación de protección
	FaultWrite      = 1 << 1 // el acceso era una escritura
)

type Config struct {
	RamSize        uint32 `json:"ram_size"`
	TlbEntries     int    `json:"tlb_entries"`
	TlbReplacement string `json:"tlb_replacement"` // "FIFO" o "LRU"
}

// FaultHandler recibe la dirección que falló (CR2) y el código de error.
type FaultHandler func(addr uint32, code uint32)

type mmioRegion struct {
	start uint64
	end   uint64
}

// Machine simula la memoria física y la MMU de un x86 de 32 bits:
// RAM, CR0.PG, CR2, CR3 y la TLB.
type Machine struct {
	ram  []byte
	mmio []mmioRegion

	pagingEnabled bool
	cr2           uint32
	cr3           uint32

	tlb *tlb

	faultHandler FaultHandler
}

func NewMachine(config Config) (*Machine, error) {
	ramSize := config.RamSize &^ PageMask
	if ramSize < 2*PageSize {
		return nil, fmt.Errorf("%w: ram_size %d demasiado chica", status.ErrInvalidValue, config.RamSize)
	}

	machine := &Machine{
		ram: make([]byte, ramSize),
		tlb: newTLB(config.TlbEntries, config.TlbReplacement),
	}

	slog.Debug("Memoria física inicializada", "ram_size", ramSize, "tlb_entries", config.TlbEntries)
	return machine, nil
}

func (m *Machine) RamSize() uint32 {
	return uint32(len(m.ram))
}

// AddMMIO registra una ventana de hardware (por ejemplo el framebuffer)
// fuera de la RAM. Los accesos ahí se aceptan y se descartan.
func (m *Machine) AddMMIO(start, size uint32) {
	if size == 0 {
		return
	}
	m.mmio = append(m.mmio, mmioRegion{start: uint64(start), end: uint64(start) + uint64(size)})
}

func (m *Machine) isMMIO(paddr uint32) bool {
	for _, region := range m.mmio {
		if uint64(paddr) >= region.start && uint64(paddr) < region.end {
			return true
		}
	}
	return false
}

func (m *Machine) checkPhys(paddr uint32) (bool, error) {
	if paddr&3 != 0 {
		return false, fmt.Errorf("%w: acceso desalineado a %#x", status.ErrInvalidValue, paddr)
	}
	if uint64(paddr)+4 <= uint64(len(m.ram)) {
		return true, nil
	}
	if m.isMMIO(paddr) {
		return false, nil
	}
	return false, fmt.Errorf("%w: dirección física %#x fuera de la RAM", status.ErrInvalidValue, paddr)
}

func (m *Machine) ReadPhys32(paddr uint32) (uint32, error) {
	inRAM, err := m.checkPhys(paddr)
	if err != nil || !inRAM {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.ram[paddr:]), nil
}

func (m *Machine) WritePhys32(paddr uint32, value uint32) error {
	inRAM, err := m.checkPhys(paddr)
	if err != nil || !inRAM {
		return err
	}
	binary.LittleEndian.PutUint32(m.ram[paddr:], value)
	return nil
}

// ZeroPhysPage pone en cero el frame que empieza en paddr.
func (m *Machine) ZeroPhysPage(paddr uint32) error {
	if paddr&PageMask != 0 || uint64(paddr)+PageSize > uint64(len(m.ram)) {
		return fmt.Errorf("%w: frame %#x", status.ErrInvalidValue, paddr)
	}
	clear(m.ram[paddr : paddr+PageSize])
	return nil
}

// LoadCR3 carga el directorio de páginas activo. Como en el hardware real,
// vacía la TLB.
func (m *Machine) LoadCR3(pageDirectory uint32) error {
	if pageDirectory&PageMask != 0 || uint64(pageDirectory)+PageSize > uint64(len(m.ram)) {
		return fmt.Errorf("%w: directorio %#x", status.ErrInvalidValue, pageDirectory)
	}
	m.cr3 = pageDirectory
	m.tlb.flush()
	return nil
}

func (m *Machine) CR3() uint32 {
	return m.cr3
}

// CR2 devuelve la última dirección que produjo un page fault.
func (m *Machine) CR2() uint32 {
	return m.cr2
}

// EnablePaging prende CR0.PG. Necesita un directorio cargado en CR3.
func (m *Machine) EnablePaging() error {
	if m.cr3 == 0 {
		return fmt.Errorf("%w: CR3 sin directorio", status.ErrInvalidValue)
	}
	m.pagingEnabled = true
	slog.Debug("Paginación habilitada", "cr3", fmt.Sprintf("%#x", m.cr3))
	return nil
}

func (m *Machine) PagingEnabled() bool {
	return m.pagingEnabled
}

// SetFaultHandler registra el handler de la excepción 14.
func (m *Machine) SetFaultHandler(handler FaultHandler) {
	m.faultHandler = handler
}

// Invalidate es invlpg: descarta la entrada de la TLB para vaddr.
func (m *Machine) Invalidate(vaddr uint32) {
	m.tlb.invalidate(vaddr >> PageShift)
}

func (m *Machine) FlushTLB() {
	m.tlb.flush()
}

// TLBSize devuelve la cantidad de entradas cargadas en la TLB.
func (m *Machine) TLBSize() int {
	return len(m.tlb.entries)
}
