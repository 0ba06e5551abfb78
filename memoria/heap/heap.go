package heap

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/mmu"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/frame"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/paging"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/list"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

// VMBase es la primera dirección virtual que administra el heap.
const VMBase uint32 = 0x4000

// recordSize es lo que ocupa un registro de rango en el arena de metadatos
// (base, cantidad de páginas y enlace).
const recordSize = 12

// Range es un rango virtual de Pages páginas a partir de Base.
type Range struct {
	Base  uint32
	Pages uint32
}

func (r *Range) top() uint32 {
	return r.Base + r.Pages*mmu.PageSize
}

type RangeInfo struct {
	Base  uint32 `json:"base"`
	Pages uint32 `json:"pages"`
	Free  bool   `json:"free"`
}

type Stats struct {
	FreePages     uint32 `json:"free_pages"`
	UsedPages     uint32 `json:"used_pages"`
	FreeRanges    int    `json:"free_ranges"`
	UsedRanges    int    `json:"used_ranges"`
	ArenaUsed     int    `json:"arena_used"`
	ArenaCapacity int    `json:"arena_capacity"`
}

// Backing respalda con frames las páginas que entrega el heap.
// Lo implementa paging.Manager.
type Backing interface {
	MapRange(base, top uint32, user bool) error
	UnmapRange(base, top uint32) error
}

// Allocator reparte el espacio virtual [VMBase, top) en páginas enteras.
//
// Los rangos libres se recorren desde el último insertado (first fit en el
// orden de la lista). Al liberar no se unen rangos vecinos.
type Allocator struct {
	irq     frame.Guarder
	backing Backing

	base uint32
	top  uint32

	free *list.ArrayList[*Range]
	used *list.ArrayList[*Range]

	arenaUsed     int
	arenaCapacity int
}

// Top devuelve el límite del heap para ramSize: la RAM o la ventana espejo,
// lo que esté más abajo.
func Top(ramSize uint32) uint32 {
	top := ramSize &^ mmu.PageMask
	if top > paging.MirrorVaddr {
		top = paging.MirrorVaddr
	}
	return top
}

type zone struct {
	start uint32
	end   uint32
}

// Setup arma las listas de rangos recorriendo las zonas fijas en orden:
// las regiones reservadas (framebuffer), el kernel [identityStart, identityEnd)
// y metadataPages páginas de metadatos desde identityEnd quedan usadas; los
// huecos entre ellas quedan libres.
func Setup(irq frame.Guarder, ramSize, identityStart, identityEnd uint32, metadataPages int, reserved ...frame.Region) (*Allocator, error) {
	if metadataPages <= 0 {
		metadataPages = 1
	}

	a := &Allocator{
		irq:           irq,
		base:          VMBase,
		top:           Top(ramSize),
		free:          &list.ArrayList[*Range]{},
		used:          &list.ArrayList[*Range]{},
		arenaCapacity: metadataPages * mmu.PageSize / recordSize,
	}
	if a.top <= a.base {
		return nil, fmt.Errorf("%w: no hay espacio para el heap (ram_size %#x)", status.ErrInvalidValue, ramSize)
	}

	metadataStart := alignUp(uint64(identityEnd))
	zones := []zone{
		a.clip(alignDown(uint64(identityStart)), alignUp(uint64(identityEnd))),
		a.clip(metadataStart, metadataStart+uint64(metadataPages)*mmu.PageSize),
	}
	for _, region := range reserved {
		zones = append(zones, a.clip(alignDown(uint64(region.Start)), alignUp(uint64(region.End))))
	}

	cursor := a.base
	for _, z := range mergeOverlapping(zones) {
		if z.start > cursor {
			if err := a.addRange(a.free, cursor, z.start); err != nil {
				return nil, err
			}
		}
		if err := a.addRange(a.used, z.start, z.end); err != nil {
			return nil, err
		}
		cursor = z.end
	}
	if cursor < a.top {
		if err := a.addRange(a.free, cursor, a.top); err != nil {
			return nil, err
		}
	}

	stats := a.Stats()
	slog.Debug("Heap inicializado",
		"base", fmt.Sprintf("%#x", a.base),
		"top", fmt.Sprintf("%#x", a.top),
		"paginas_libres", stats.FreePages,
		"paginas_usadas", stats.UsedPages)
	return a, nil
}

func alignDown(addr uint64) uint64 {
	return addr &^ mmu.PageMask
}

func alignUp(addr uint64) uint64 {
	return (addr + mmu.PageMask) &^ mmu.PageMask
}

func (a *Allocator) clip(start, end uint64) zone {
	if start < uint64(a.base) {
		start = uint64(a.base)
	}
	if end > uint64(a.top) {
		end = uint64(a.top)
	}
	if end < start {
		end = start
	}
	return zone{start: uint32(start), end: uint32(end)}
}

// mergeOverlapping ordena las zonas y une las que se pisan. Las que sólo se
// tocan quedan separadas. Las vacías se descartan.
func mergeOverlapping(zones []zone) []zone {
	sort.Slice(zones, func(i, j int) bool { return zones[i].start < zones[j].start })

	var merged []zone
	for _, z := range zones {
		if z.end <= z.start {
			continue
		}
		last := len(merged) - 1
		if last >= 0 && z.start < merged[last].end {
			if z.end > merged[last].end {
				merged[last].end = z.end
			}
			continue
		}
		merged = append(merged, z)
	}
	return merged
}

// newRecord toma un registro del arena de metadatos. Los registros que
// llegan a una lista nunca se recuperan.
func (a *Allocator) newRecord(base, pages uint32) (*Range, error) {
	if a.arenaUsed >= a.arenaCapacity {
		return nil, fmt.Errorf("%w: arena de metadatos del heap agotada", status.ErrNoMemory)
	}
	a.arenaUsed++
	return &Range{Base: base, Pages: pages}, nil
}

// dropRecord devuelve el último registro tomado, que no llegó a ninguna lista.
func (a *Allocator) dropRecord() {
	a.arenaUsed--
}

func (a *Allocator) addRange(ranges *list.ArrayList[*Range], start, end uint32) error {
	if end-start < mmu.PageSize {
		return nil
	}
	r, err := a.newRecord(start, (end-start)/mmu.PageSize)
	if err != nil {
		return err
	}
	pushFront(ranges, r)
	return nil
}

func pushFront(ranges *list.ArrayList[*Range], r *Range) {
	ranges.InsertBefore(r, func(*Range) bool { return true })
}

func (a *Allocator) guard() func() {
	if a.irq == nil {
		return func() {}
	}
	return a.irq.Guard()
}

// SetBacking hace que cada página entregada se mapee a un frame nuevo.
func (a *Allocator) SetBacking(backing Backing) {
	a.backing = backing
}

func (a *Allocator) Base() uint32 {
	return a.base
}

func (a *Allocator) Top() uint32 {
	return a.top
}

func pagesFor(size uint32) uint32 {
	pages := (uint64(size) + mmu.PageMask) / mmu.PageSize
	if pages == 0 {
		pages = 1
	}
	return uint32(pages)
}

// Alloc reserva size bytes redondeados a páginas (mínimo una).
// Un rango más grande que lo pedido se achica y la reserva sale de su final.
func (a *Allocator) Alloc(size uint32) (uint32, error) {
	release := a.guard()
	defer release()

	pages := pagesFor(size)
	r, _, found := a.free.Find(func(r *Range) bool { return r.Pages >= pages })
	if !found {
		slog.Warn("No hay rango libre para la reserva", "bytes", size, "paginas", pages)
		return 0, fmt.Errorf("%w: no hay %d páginas contiguas en el heap", status.ErrNoMemory, pages)
	}

	allocated := r
	if r.Pages > pages {
		carved, err := a.newRecord(r.Base+(r.Pages-pages)*mmu.PageSize, pages)
		if err != nil {
			slog.Warn("No se pudo reservar", "bytes", size, "error", err)
			return 0, err
		}
		r.Pages -= pages
		allocated = carved
	} else {
		a.free.RemoveWhere(func(other *Range) bool { return other == r })
	}

	if a.backing != nil {
		if err := a.backing.MapRange(allocated.Base, allocated.top(), false); err != nil {
			if allocated == r {
				pushFront(a.free, r)
			} else {
				r.Pages += pages
				a.dropRecord()
			}
			return 0, fmt.Errorf("no se pudo respaldar [%#x, %#x): %w", allocated.Base, allocated.top(), err)
		}
	}

	a.used.Add(allocated)
	return allocated.Base, nil
}

// Free devuelve a la lista de libres el rango que empieza en addr.
// addr == 0 no hace nada.
func (a *Allocator) Free(addr uint32) error {
	if addr == 0 {
		return nil
	}

	release := a.guard()
	defer release()

	r, _, found := a.used.Find(func(r *Range) bool { return r.Base == addr })
	if !found {
		return fmt.Errorf("%w: %#x no es una reserva del heap", status.ErrInvalidValue, addr)
	}
	a.used.RemoveWhere(func(other *Range) bool { return other == r })

	if a.backing != nil {
		if err := a.backing.UnmapRange(r.Base, r.top()); err != nil {
			slog.Error("No se pudo liberar el respaldo del rango", "base", fmt.Sprintf("%#x", r.Base), "error", err)
		}
	}

	pushFront(a.free, r)
	return nil
}

// Ranges devuelve todos los rangos ordenados por dirección.
func (a *Allocator) Ranges() []RangeInfo {
	release := a.guard()
	defer release()

	var ranges []RangeInfo
	a.free.ForEach(func(r *Range) {
		ranges = append(ranges, RangeInfo{Base: r.Base, Pages: r.Pages, Free: true})
	})
	a.used.ForEach(func(r *Range) {
		ranges = append(ranges, RangeInfo{Base: r.Base, Pages: r.Pages})
	})
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Base < ranges[j].Base })
	return ranges
}

func (a *Allocator) Stats() Stats {
	release := a.guard()
	defer release()

	stats := Stats{
		FreeRanges:    a.free.Size(),
		UsedRanges:    a.used.Size(),
		ArenaUsed:     a.arenaUsed,
		ArenaCapacity: a.arenaCapacity,
	}
	a.free.ForEach(func(r *Range) { stats.FreePages += r.Pages })
	a.used.ForEach(func(r *Range) { stats.UsedPages += r.Pages })
	return stats
}
