package paging

import "github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/mmu"

// Entry es una entrada de directorio o de tabla de páginas de x86 (32 bits).
// El formato lo fija el hardware: los bits 0 a 8 son flags, 9 a 11 quedan
// para el sistema y 12 a 31 son la dirección del frame.
type Entry uint32

const (
	FlagPresent      Entry = 1 << 0
	FlagRW           Entry = 1 << 1
	FlagUser         Entry = 1 << 2
	FlagWriteThrough Entry = 1 << 3
	FlagCacheDisable Entry = 1 << 4
	FlagAccessed     Entry = 1 << 5
	FlagDirty        Entry = 1 << 6
	// FlagPageSize en un PDE indica página de 4 MiB; en un PTE es el bit PAT.
	FlagPageSize Entry = 1 << 7
	FlagGlobal   Entry = 1 << 8
)

const (
	availableShift = 9
	availableMask  = Entry(0x7) << availableShift
	frameMask      = Entry(^uint32(mmu.PageMask))
)

// NewEntry arma una entrada que apunta a frame con los flags dados.
// La dirección se alinea a página.
func NewEntry(frame uint32, flags Entry) Entry {
	return Entry(frame)&frameMask | flags&^frameMask
}

func (e Entry) Frame() uint32 {
	return uint32(e & frameMask)
}

func (e Entry) Present() bool {
	return e&FlagPresent != 0
}

// HasFlags es true si están prendidos todos los flags pedidos.
func (e Entry) HasFlags(flags Entry) bool {
	return e&flags == flags
}

func (e *Entry) SetFlags(flags Entry) {
	*e |= flags &^ frameMask
}

func (e *Entry) ClearFlags(flags Entry) {
	*e &^= flags &^ frameMask
}

func (e *Entry) SetFrame(frame uint32) {
	*e = *e&^frameMask | Entry(frame)&frameMask
}

// Available devuelve los tres bits libres para el sistema operativo.
func (e Entry) Available() uint8 {
	return uint8((e & availableMask) >> availableShift)
}

func (e *Entry) SetAvailable(value uint8) {
	*e = *e&^availableMask | (Entry(value)<<availableShift)&availableMask
}
