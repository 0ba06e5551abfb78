package paging

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/mmu"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

// Dump escribe en writer el contenido de [vaddr, vaddr+size) leído con las
// tablas activas. Las páginas sin mapear se rellenan con ceros; devuelve
// cuántas páginas faltaban.
func (m *Manager) Dump(writer io.Writer, vaddr, size uint32) (int, error) {
	end := uint64(vaddr) + uint64(size)
	if vaddr&3 != 0 || size&3 != 0 || end > 1<<32 {
		return 0, fmt.Errorf("%w: dump de [%#x, %#x)", status.ErrInvalidValue, vaddr, end)
	}

	release := m.guard()
	defer release()

	slog.Debug(fmt.Sprintf("## Memory Dump solicitado [%#x, %#x)", vaddr, end))

	dumpData := make([]byte, 0, size)
	missing := 0
	for addr := uint64(vaddr); addr < end; {
		pageEnd := min(addr&^uint64(mmu.PageMask)+mmu.PageSize, end)

		paddr, err := m.Translate(uint32(addr))
		if err != nil {
			slog.Warn("Página no mapeada durante el dump, se rellena con ceros", "vaddr", fmt.Sprintf("%#x", addr))
			dumpData = append(dumpData, make([]byte, pageEnd-addr)...)
			missing++
			addr = pageEnd
			continue
		}

		for ; addr < pageEnd; addr += 4 {
			value, err := m.machine.ReadPhys32(paddr)
			if err != nil {
				return missing, err
			}
			dumpData = binary.LittleEndian.AppendUint32(dumpData, value)
			paddr += 4
		}
	}

	if _, err := writer.Write(dumpData); err != nil {
		return missing, fmt.Errorf("fallo al escribir el dump: %w", err)
	}
	return missing, nil
}
