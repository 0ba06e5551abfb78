package paging

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/mmu"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/frame"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

// Ventana espejo: el directorio se mapea a sí mismo en la entrada 255, así
// la tabla i queda en MirrorVaddr + i*PageSize y el directorio en
// MirrorVaddr + 255*PageSize.
const (
	MirrorVaddr uint32 = 0x3fc00000
	MirrorSize  uint32 = 1 << 22

	entriesPerTable = 1024
	mirrorIndex     = MirrorVaddr >> 22
	directoryVaddr  = MirrorVaddr + mirrorIndex*mmu.PageSize
)

// Protecciones de Map.
const (
	ProtNone  = 0
	ProtRead  = 1 << 0
	ProtWrite = 1 << 1
)

type State int

const (
	Uninitialized State = iota
	IdentityMapped
	Active
)

func (s State) String() string {
	switch s {
	case IdentityMapped:
		return "IDENTITY_MAPPED"
	case Active:
		return "ACTIVE"
	default:
		return "UNINITIALIZED"
	}
}

// Machine es la parte de la MMU que usa el administrador de paginación.
type Machine interface {
	Read32(vaddr uint32) (uint32, error)
	Write32(vaddr uint32, value uint32) error
	ReadPhys32(paddr uint32) (uint32, error)
	WritePhys32(paddr uint32, value uint32) error
	ZeroPhysPage(paddr uint32) error
	LoadCR3(pageDirectory uint32) error
	EnablePaging() error
	Invalidate(vaddr uint32)
	SetFaultHandler(handler mmu.FaultHandler)
}

// Manager administra el directorio activo y sus tablas.
type Manager struct {
	machine   Machine
	frames    *frame.Allocator
	irq       frame.Guarder
	directory uint32
	state     State
}

func directoryIndex(vaddr uint32) uint32 {
	return vaddr >> 22
}

func tableIndex(vaddr uint32) uint32 {
	return (vaddr >> mmu.PageShift) & (entriesPerTable - 1)
}

// InMirror indica si vaddr cae en la ventana espejo.
func InMirror(vaddr uint32) bool {
	return vaddr >= MirrorVaddr && vaddr-MirrorVaddr < MirrorSize
}

func pageRange(start, end uint32) (uint64, uint64) {
	first := uint64(start) &^ mmu.PageMask
	last := (uint64(end) + mmu.PageMask) &^ mmu.PageMask
	return first, last
}

// Setup arma el directorio inicial: mapea 1:1 [identityStart, identityEnd) y las
// regiones extra (framebuffer), instala la ventana espejo, carga CR3 y
// habilita la paginación.
func Setup(machine Machine, frames *frame.Allocator, irq frame.Guarder,
	identityStart, identityEnd uint32, extra ...frame.Region) (*Manager, error) {

	if identityEnd <= identityStart || uint64(identityEnd) > uint64(MirrorVaddr) {
		return nil, fmt.Errorf("%w: zona identidad [%#x, %#x)", status.ErrInvalidValue, identityStart, identityEnd)
	}
	for _, region := range extra {
		if region.End > region.Start && region.Start < MirrorVaddr+MirrorSize && region.End > MirrorVaddr {
			return nil, fmt.Errorf("%w: la región [%#x, %#x) pisa la ventana espejo", status.ErrInvalidValue, region.Start, region.End)
		}
	}

	m := &Manager{machine: machine, frames: frames, irq: irq}

	directory, err := frames.Alloc()
	if err != nil {
		return nil, fmt.Errorf("no se pudo reservar el directorio de páginas: %w", err)
	}
	if err := machine.ZeroPhysPage(directory); err != nil {
		return nil, err
	}
	m.directory = directory

	regions := append([]frame.Region{{Start: identityStart, End: identityEnd}}, extra...)
	for _, region := range regions {
		first, last := pageRange(region.Start, region.End)
		for page := first; page < last; page += mmu.PageSize {
			if err := m.identityMap(uint32(page)); err != nil {
				return nil, err
			}
		}
	}
	m.state = IdentityMapped

	mirror := NewEntry(directory, FlagPresent|FlagRW)
	if err := machine.WritePhys32(directory+mirrorIndex*4, uint32(mirror)); err != nil {
		return nil, err
	}

	if err := machine.LoadCR3(directory); err != nil {
		return nil, err
	}
	if err := machine.EnablePaging(); err != nil {
		return nil, err
	}
	machine.SetFaultHandler(m.reportFault)
	m.state = Active

	slog.Info("Paginación activa",
		"directorio", fmt.Sprintf("%#x", directory),
		"identidad", fmt.Sprintf("[%#x, %#x)", identityStart, identityEnd))
	return m, nil
}

// identityMap instala vaddr == paddr antes de prender la paginación,
// escribiendo las tablas por su dirección física.
func (m *Manager) identityMap(page uint32) error {
	pdeAddr := m.directory + directoryIndex(page)*4
	raw, err := m.machine.ReadPhys32(pdeAddr)
	if err != nil {
		return err
	}
	pde := Entry(raw)

	newTable := false
	if !pde.Present() {
		table, err := m.frames.Alloc()
		if err != nil {
			return fmt.Errorf("no se pudo reservar una tabla de páginas: %w", err)
		}
		if err := m.machine.ZeroPhysPage(table); err != nil {
			return err
		}
		pde = NewEntry(table, FlagPresent|FlagRW)
		if err := m.machine.WritePhys32(pdeAddr, uint32(pde)); err != nil {
			return err
		}
		newTable = true
	}

	pteAddr := pde.Frame() + tableIndex(page)*4
	raw, err = m.machine.ReadPhys32(pteAddr)
	if err != nil {
		return err
	}
	if Entry(raw).Present() {
		return nil
	}

	m.refTarget(page)
	if !newTable {
		_, _ = m.frames.Ref(pde.Frame())
	}
	return m.machine.WritePhys32(pteAddr, uint32(NewEntry(page, FlagPresent|FlagRW)))
}

// refTarget cuenta una referencia al frame mapeado. Las páginas fuera de la
// RAM (MMIO) no se cuentan.
func (m *Manager) refTarget(paddr uint32) {
	if m.frames.Contains(paddr) {
		_, _ = m.frames.Ref(paddr)
	}
}

func (m *Manager) releaseTarget(paddr uint32) {
	if m.frames.Contains(paddr) {
		_, _ = m.frames.Free(paddr)
	}
}

func (m *Manager) guard() func() {
	if m.irq == nil {
		return func() {}
	}
	return m.irq.Guard()
}

func (m *Manager) State() State {
	return m.state
}

// Directory devuelve la dirección física del directorio activo (CR3).
func (m *Manager) Directory() uint32 {
	return m.directory
}

func (m *Manager) readPDE(index uint32) (Entry, error) {
	raw, err := m.machine.Read32(directoryVaddr + index*4)
	return Entry(raw), err
}

func (m *Manager) writePDE(index uint32, entry Entry) error {
	return m.machine.Write32(directoryVaddr+index*4, uint32(entry))
}

func tableVaddr(index uint32) uint32 {
	return MirrorVaddr + index*mmu.PageSize
}

func (m *Manager) readPTE(pdIndex, ptIndex uint32) (Entry, error) {
	raw, err := m.machine.Read32(tableVaddr(pdIndex) + ptIndex*4)
	return Entry(raw), err
}

func (m *Manager) writePTE(pdIndex, ptIndex uint32, entry Entry) error {
	return m.machine.Write32(tableVaddr(pdIndex)+ptIndex*4, uint32(entry))
}

// Map mapea la página virtual vaddr al frame paddr.
//
// Si la tabla que cubre vaddr no existe se reserva un frame nuevo y se limpia
// a través de la ventana espejo. Si la entrada ya estaba presente el frame
// anterior pierde una referencia.
func (m *Manager) Map(paddr, vaddr uint32, user bool, prot int) error {
	release := m.guard()
	defer release()

	paddr &^= mmu.PageMask
	vaddr &^= mmu.PageMask

	if InMirror(vaddr) {
		return fmt.Errorf("%w: %#x está en la ventana espejo", status.ErrInvalidValue, vaddr)
	}

	pdIndex, ptIndex := directoryIndex(vaddr), tableIndex(vaddr)
	pde, err := m.readPDE(pdIndex)
	if err != nil {
		return err
	}

	newTable := false
	if !pde.Present() {
		table, err := m.frames.Alloc()
		if err != nil {
			return fmt.Errorf("no se pudo reservar una tabla para %#x: %w", vaddr, err)
		}

		flags := FlagPresent | FlagRW
		if user {
			flags |= FlagUser
		}
		pde = NewEntry(table, flags)
		if err := m.writePDE(pdIndex, pde); err != nil {
			return err
		}
		m.machine.Invalidate(tableVaddr(pdIndex))

		for i := uint32(0); i < entriesPerTable; i++ {
			if err := m.machine.Write32(tableVaddr(pdIndex)+i*4, 0); err != nil {
				return err
			}
		}
		newTable = true
	} else if user && !pde.HasFlags(FlagUser) {
		pde.SetFlags(FlagUser)
		if err := m.writePDE(pdIndex, pde); err != nil {
			return err
		}
	}

	pte, err := m.readPTE(pdIndex, ptIndex)
	if err != nil {
		return err
	}

	m.refTarget(paddr)
	if pte.Present() {
		m.releaseTarget(pte.Frame())
	} else if !newTable {
		_, _ = m.frames.Ref(pde.Frame())
	}

	flags := FlagPresent
	if prot&ProtWrite != 0 {
		flags |= FlagRW
	}
	if user {
		flags |= FlagUser
	}
	if err := m.writePTE(pdIndex, ptIndex, NewEntry(paddr, flags)); err != nil {
		return err
	}

	m.machine.Invalidate(vaddr)
	return nil
}

// Unmap borra el mapeo de vaddr y libera su frame. Si la tabla queda sin
// mapeos también se libera y se borra su entrada del directorio.
func (m *Manager) Unmap(vaddr uint32) error {
	release := m.guard()
	defer release()

	vaddr &^= mmu.PageMask
	if InMirror(vaddr) {
		return fmt.Errorf("%w: %#x está en la ventana espejo", status.ErrInvalidValue, vaddr)
	}

	pdIndex, ptIndex := directoryIndex(vaddr), tableIndex(vaddr)
	pde, err := m.readPDE(pdIndex)
	if err != nil {
		return err
	}
	if !pde.Present() {
		return fmt.Errorf("%w: %#x no tiene tabla", status.ErrInvalidValue, vaddr)
	}

	pte, err := m.readPTE(pdIndex, ptIndex)
	if err != nil {
		return err
	}
	if !pte.Present() {
		return fmt.Errorf("%w: %#x no está mapeada", status.ErrInvalidValue, vaddr)
	}

	m.releaseTarget(pte.Frame())
	if err := m.writePTE(pdIndex, ptIndex, 0); err != nil {
		return err
	}
	m.machine.Invalidate(vaddr)

	released, err := m.frames.Free(pde.Frame())
	if err != nil {
		return err
	}
	if released {
		if err := m.writePDE(pdIndex, 0); err != nil {
			return err
		}
		m.machine.Invalidate(tableVaddr(pdIndex))
	}
	return nil
}

// Translate devuelve la dirección física de vaddr recorriendo las tablas
// por la ventana espejo. El desplazamiento dentro de la página se mantiene.
func (m *Manager) Translate(vaddr uint32) (uint32, error) {
	release := m.guard()
	defer release()

	pdIndex := directoryIndex(vaddr)
	pde, err := m.readPDE(pdIndex)
	if err != nil {
		return frame.NoFrame, err
	}
	if !pde.Present() {
		return frame.NoFrame, fmt.Errorf("%w: %#x sin tabla", status.ErrUnresolvedVirtualAddress, vaddr)
	}

	pte, err := m.readPTE(pdIndex, tableIndex(vaddr))
	if err != nil {
		return frame.NoFrame, err
	}
	if !pte.Present() {
		return frame.NoFrame, fmt.Errorf("%w: %#x sin página", status.ErrUnresolvedVirtualAddress, vaddr)
	}

	return pte.Frame() | vaddr&mmu.PageMask, nil
}

// WriteMapped32 escribe value en vaddr si la página está mapeada. Una página
// ausente no genera page fault: retorna false sin escribir.
func (m *Manager) WriteMapped32(vaddr, value uint32) (bool, error) {
	if vaddr&3 != 0 {
		return false, fmt.Errorf("%w: %#x no está alineada", status.ErrInvalidValue, vaddr)
	}

	release := m.guard()
	defer release()

	paddr, err := m.Translate(vaddr)
	if errors.Is(err, status.ErrUnresolvedVirtualAddress) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, m.machine.WritePhys32(paddr, value)
}

// MapRange respalda cada página de [base, top) con un frame nuevo.
// Si falla deshace lo que llegó a mapear.
func (m *Manager) MapRange(base, top uint32, user bool) error {
	first, last := pageRange(base, top)
	for page := first; page < last; page += mmu.PageSize {
		if err := m.mapFresh(uint32(page), user); err != nil {
			if page > first {
				_ = m.UnmapRange(uint32(first), uint32(page))
			}
			return err
		}
	}
	return nil
}

func (m *Manager) mapFresh(vaddr uint32, user bool) error {
	paddr, err := m.frames.Alloc()
	if err != nil {
		return err
	}

	err = m.Map(paddr, vaddr, user, ProtRead|ProtWrite)
	// Map sumó su propia referencia: se suelta la de Alloc.
	_, _ = m.frames.Free(paddr)
	return err
}

// UnmapRange desmapea cada página de [base, top). Las páginas que no estaban
// mapeadas se ignoran.
func (m *Manager) UnmapRange(base, top uint32) error {
	first, last := pageRange(base, top)
	for page := first; page < last; page += mmu.PageSize {
		err := m.Unmap(uint32(page))
		if err != nil && !errors.Is(err, status.ErrInvalidValue) {
			return err
		}
	}
	return nil
}

// reportFault es el handler de la excepción 14: no hay paginación por
// demanda, así que un fallo detiene el kernel.
func (m *Manager) reportFault(addr uint32, code uint32) {
	slog.Error("Page fault",
		"cr2", fmt.Sprintf("%#x", addr),
		"presente", code&mmu.FaultProtection != 0,
		"escritura", code&mmu.FaultWrite != 0)
	status.Halt("page fault en %#x (código %#x)", addr, code)
}
