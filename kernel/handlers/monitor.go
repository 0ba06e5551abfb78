package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/services"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/frame"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/heap"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/web/server"
)

const (
	DefaultTimeout = 2 * time.Second

	// MaxDumpSize es el tamaño máximo de un dump pedido por el monitor.
	MaxDumpSize = 1 << 20
)

// Monitor expone el estado del kernel por HTTP. Los handlers nunca leen las
// estructuras del kernel directamente: piden a la CPU que lo haga.
type Monitor struct {
	kernel  *services.Kernel
	timeout time.Duration
}

func NewMonitor(kernel *services.Kernel, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{kernel: kernel, timeout: timeout}
}

type HeapResponse struct {
	Stats  heap.Stats       `json:"stats"`
	Ranges []heap.RangeInfo `json:"ranges"`
}

type TranslationResponse struct {
	Vaddr uint32 `json:"vaddr"`
	Paddr uint32 `json:"paddr"`
}

// onCPU ejecuta fn en la CPU simulada. Si el kernel no la atiende a tiempo
// responde 503.
func (m *Monitor) onCPU(writer http.ResponseWriter, fn func()) bool {
	if err := m.kernel.Interrupts.CallAndWait(fn, m.timeout); err != nil {
		slog.Warn("El kernel no atendió el pedido del monitor", "error", err)
		server.SendJsonError(writer, http.StatusServiceUnavailable, "Kernel ocupado", 0)
		return false
	}
	return true
}

func (m *Monitor) ThreadsHandler() func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		var threads []models.ThreadInfo
		if !m.onCPU(writer, func() { threads = m.kernel.Threads.Threads() }) {
			return
		}
		server.SendJsonResponse(writer, http.StatusOK, threads)
	}
}

func (m *Monitor) ReadyQueueHandler() func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		var ready []models.ThreadInfo
		if !m.onCPU(writer, func() { ready = m.kernel.Scheduler.ReadyQueue() }) {
			return
		}
		if ready == nil {
			ready = []models.ThreadInfo{}
		}
		server.SendJsonResponse(writer, http.StatusOK, ready)
	}
}

func (m *Monitor) FramesHandler() func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		var stats frame.Stats
		if !m.onCPU(writer, func() { stats = m.kernel.Frames.Stats() }) {
			return
		}
		server.SendJsonResponse(writer, http.StatusOK, stats)
	}
}

func (m *Monitor) HeapHandler() func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		var response HeapResponse
		if !m.onCPU(writer, func() {
			response.Stats = m.kernel.Heap.Stats()
			response.Ranges = m.kernel.Heap.Ranges()
		}) {
			return
		}
		server.SendJsonResponse(writer, http.StatusOK, response)
	}
}

// TranslateHandler traduce ?vaddr= (decimal o 0x...) con las tablas activas.
func (m *Monitor) TranslateHandler() func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		raw := request.URL.Query().Get("vaddr")
		vaddr, err := strconv.ParseUint(raw, 0, 32)
		if err != nil {
			server.SendJsonError(writer, http.StatusBadRequest, fmt.Sprintf("Dirección virtual inválida: %q", raw), 0)
			return
		}

		var paddr uint32
		var translateErr error
		if !m.onCPU(writer, func() { paddr, translateErr = m.kernel.Paging.Translate(uint32(vaddr)) }) {
			return
		}

		if translateErr != nil {
			code := http.StatusInternalServerError
			if errors.Is(translateErr, status.ErrUnresolvedVirtualAddress) {
				code = http.StatusNotFound
			}
			server.SendJsonError(writer, code, translateErr.Error(), status.Code(translateErr))
			return
		}

		slog.Debug(fmt.Sprintf("Traducción %#x -> %#x", vaddr, paddr))
		server.SendJsonResponse(writer, http.StatusOK, TranslationResponse{Vaddr: uint32(vaddr), Paddr: paddr})
	}
}

// DumpHandler devuelve el contenido de [vaddr, vaddr+size) como bytes crudos.
// El header X-Missing-Pages indica cuántas páginas no estaban mapeadas.
func (m *Monitor) DumpHandler() func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		vaddr, err := strconv.ParseUint(query.Get("vaddr"), 0, 32)
		if err != nil {
			server.SendJsonError(writer, http.StatusBadRequest, fmt.Sprintf("Dirección virtual inválida: %q", query.Get("vaddr")), 0)
			return
		}
		size, err := strconv.ParseUint(query.Get("size"), 0, 32)
		if err != nil || size == 0 || size > MaxDumpSize {
			server.SendJsonError(writer, http.StatusBadRequest, fmt.Sprintf("Tamaño inválido: %q", query.Get("size")), 0)
			return
		}

		var dump bytes.Buffer
		var missing int
		var dumpErr error
		if !m.onCPU(writer, func() { missing, dumpErr = m.kernel.Paging.Dump(&dump, uint32(vaddr), uint32(size)) }) {
			return
		}
		if dumpErr != nil {
			server.SendJsonError(writer, http.StatusBadRequest, dumpErr.Error(), status.Code(dumpErr))
			return
		}

		writer.Header().Set("Content-Type", "application/octet-stream")
		writer.Header().Set("X-Missing-Pages", strconv.Itoa(missing))
		writer.WriteHeader(http.StatusOK)
		writer.Write(dump.Bytes())
	}
}

// Register da de alta las rutas del monitor en el mux.
func (m *Monitor) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /kernel/threads", m.ThreadsHandler())
	mux.HandleFunc("GET /kernel/ready", m.ReadyQueueHandler())
	mux.HandleFunc("GET /memoria/frames", m.FramesHandler())
	mux.HandleFunc("GET /memoria/heap", m.HeapHandler())
	mux.HandleFunc("GET /memoria/traducir", m.TranslateHandler())
	mux.HandleFunc("GET /memoria/dump", m.DumpHandler())
}
