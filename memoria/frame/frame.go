package frame

import (
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/mmu"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/list"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

// NoFrame es la dirección que devuelve Alloc cuando no hay memoria.
// La página 0 nunca se entrega.
const NoFrame uint32 = 0

// recordSize es lo que ocupa un registro de frame en la tabla del kernel
// (dirección, contador y enlace).
const recordSize = 12

// Region es un rango físico [Start, End).
type Region struct {
	Start uint32
	End   uint32
}

// Guarder abre una sección crítica. Lo implementa interrupts.Controller.
type Guarder interface {
	Guard() (release func())
}

type record struct {
	address  uint32
	refCount uint32
}

type Stats struct {
	Total int `json:"total"`
	Free  int `json:"free"`
	Used  int `json:"used"`
}

// Allocator lleva la cuenta de referencias de cada frame físico.
// Los frames libres forman una pila: el último liberado es el primero
// en volver a entregarse.
type Allocator struct {
	irq     Guarder
	ramSize uint32
	frames  []record
	free    *list.ArrayList[uint32]
	used    *list.ArrayList[uint32]
}

// TableSize devuelve los bytes que ocupa la tabla de frames para ramSize,
// redondeados a páginas.
func TableSize(ramSize uint32) uint32 {
	bytes := (ramSize >> mmu.PageShift) * recordSize
	return (bytes + mmu.PageMask) &^ mmu.PageMask
}

// Setup reparte la RAM en frames. Los que se superponen con alguna región
// reservada arrancan usados con contador 1; la página 0 queda afuera.
func Setup(irq Guarder, ramSize uint32, reserved ...Region) (*Allocator, error) {
	ramSize &^= mmu.PageMask
	if ramSize < 2*mmu.PageSize {
		return nil, fmt.Errorf("%w: ram_size %d", status.ErrInvalidValue, ramSize)
	}

	a := &Allocator{
		irq:     irq,
		ramSize: ramSize,
		frames:  make([]record, ramSize>>mmu.PageShift),
		free:    &list.ArrayList[uint32]{},
		used:    &list.ArrayList[uint32]{},
	}

	for i := range a.frames {
		address := uint32(i) << mmu.PageShift
		a.frames[i].address = address

		if address == NoFrame {
			continue
		}

		if overlapsAny(address, reserved) {
			a.frames[i].refCount = 1
			a.used.Add(address)
		} else {
			a.free.Add(address)
		}
	}

	slog.Debug("Frames inicializados",
		"total", len(a.frames)-1,
		"libres", a.free.Size(),
		"reservados", a.used.Size())
	return a, nil
}

func overlapsAny(address uint32, regions []Region) bool {
	end := uint64(address) + mmu.PageSize
	for _, r := range regions {
		if uint64(r.Start) < end && uint64(address) < uint64(r.End) {
			return true
		}
	}
	return false
}

func (a *Allocator) guard() func() {
	if a.irq == nil {
		return func() {}
	}
	return a.irq.Guard()
}

// RamSize devuelve la memoria administrada, alineada a página.
func (a *Allocator) RamSize() uint32 {
	return a.ramSize
}

func (a *Allocator) lookup(address uint32) (*record, error) {
	if address&mmu.PageMask != 0 || address < mmu.PageSize || address >= a.ramSize {
		return nil, fmt.Errorf("%w: frame %#x", status.ErrInvalidValue, address)
	}
	return &a.frames[address>>mmu.PageShift], nil
}

// Alloc saca un frame de la pila de libres y lo marca con contador 1.
func (a *Allocator) Alloc() (uint32, error) {
	release := a.guard()
	defer release()

	address, err := a.free.Pop()
	if err != nil {
		return NoFrame, fmt.Errorf("%w: no quedan frames libres", status.ErrNoMemory)
	}

	frame := &a.frames[address>>mmu.PageShift]
	status.Assert(frame.refCount == 0, "frame libre %#x con contador %d", address, frame.refCount)

	frame.refCount = 1
	a.used.Add(address)
	return address, nil
}

// Free resta una referencia. released es true cuando el frame volvió a la
// pila de libres.
func (a *Allocator) Free(address uint32) (released bool, err error) {
	release := a.guard()
	defer release()

	frame, err := a.lookup(address)
	if err != nil {
		return false, err
	}
	if frame.refCount == 0 {
		return false, fmt.Errorf("%w: doble liberación del frame %#x", status.ErrInvalidValue, address)
	}

	frame.refCount--
	if frame.refCount > 0 {
		return false, nil
	}

	a.used.RemoveWhere(func(addr uint32) bool { return addr == address })
	a.free.Add(address)
	return true, nil
}

// Ref suma una referencia a un frame. shared es true cuando el frame ya
// estaba referenciado antes de la llamada.
func (a *Allocator) Ref(address uint32) (shared bool, err error) {
	release := a.guard()
	defer release()

	frame, err := a.lookup(address)
	if err != nil {
		return false, err
	}

	frame.refCount++
	if frame.refCount > 1 {
		return true, nil
	}

	a.free.RemoveWhere(func(addr uint32) bool { return addr == address })
	a.used.Add(address)
	return false, nil
}

// RefCount devuelve el contador de referencias del frame.
func (a *Allocator) RefCount(address uint32) (uint32, error) {
	frame, err := a.lookup(address)
	if err != nil {
		return 0, err
	}
	return frame.refCount, nil
}

// Contains indica si address es un frame administrado (página 0 excluida).
func (a *Allocator) Contains(address uint32) bool {
	_, err := a.lookup(address &^ mmu.PageMask)
	return err == nil
}

func (a *Allocator) Stats() Stats {
	release := a.guard()
	defer release()

	return Stats{
		Total: len(a.frames) - 1,
		Free:  a.free.Size(),
		Used:  a.used.Size(),
	}
}
