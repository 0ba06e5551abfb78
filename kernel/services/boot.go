package services

import (
	"fmt"
	"log/slog"

	cpucontext "github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/context"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/interrupts"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/mmu"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/frame"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/heap"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/paging"
)

// Kernel agrupa todos los subsistemas ya inicializados.
type Kernel struct {
	Config     *models.Config
	Machine    *mmu.Machine
	Interrupts *interrupts.Controller
	CPU        *cpucontext.CPU
	Frames     *frame.Allocator
	Paging     *paging.Manager
	Heap       *heap.Allocator
	Scheduler  *Scheduler
	Threads    *ThreadManager
}

// Boot levanta el núcleo en orden: máquina, interrupciones, frames,
// paginación, heap y por último hilos. Al terminar, el flujo que llamó a
// Boot es el hilo idle y las interrupciones quedan habilitadas.
func Boot(config *models.Config) (*Kernel, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuración inválida: %w", err)
	}

	machine, err := mmu.NewMachine(config.Machine())
	if err != nil {
		return nil, err
	}

	var hardware []frame.Region
	if fb, ok := config.Framebuffer(); ok {
		machine.AddMMIO(fb.Start, fb.End-fb.Start)
		hardware = append(hardware, fb)
	}

	irq := interrupts.NewController()
	kernel := &Kernel{Config: config, Machine: machine, Interrupts: irq}

	layout := config.Layout()
	slog.Debug("Layout del kernel",
		"image", fmt.Sprintf("[%#x, %#x)", layout.IdentityStart, layout.ImageEnd),
		"frame_table", fmt.Sprintf("[%#x, %#x)", layout.ImageEnd, layout.TableEnd),
		"heap_metadata", fmt.Sprintf("[%#x, %#x)", layout.TableEnd, layout.MetadataEnd))

	reserved := append([]frame.Region{{Start: layout.IdentityStart, End: layout.MetadataEnd}}, hardware...)
	kernel.Frames, err = frame.Setup(irq, config.RamSize, reserved...)
	if err != nil {
		return nil, kernel.abort("frames", err)
	}

	kernel.Paging, err = paging.Setup(machine, kernel.Frames, irq, layout.IdentityStart, layout.MetadataEnd, hardware...)
	if err != nil {
		return nil, kernel.abort("paginación", err)
	}

	kernel.Heap, err = heap.Setup(irq, config.RamSize, layout.IdentityStart, layout.TableEnd, config.HeapMetadataPages, hardware...)
	if err != nil {
		return nil, kernel.abort("heap", err)
	}
	if config.HeapBacking == models.HeapBackingPaged {
		kernel.Heap.SetBacking(kernel.Paging)
	}

	kernel.CPU = cpucontext.NewCPU(irq)
	kernel.CPU.SetStackMemory(kernel.Paging)
	kernel.Scheduler = SetupScheduler(irq, kernel.CPU)
	kernel.Threads, err = SetupThreading(kernel.Heap, kernel.Scheduler, irq)
	if err != nil {
		return nil, kernel.abort("hilos", err)
	}

	if err := irq.Register(interrupts.IRQTimer, kernel.Scheduler.TimerHandler); err != nil {
		return nil, kernel.abort("timer", err)
	}
	irq.Enable()

	stats := kernel.Frames.Stats()
	slog.Info("Kernel iniciado",
		"ram", config.RamSize,
		"frames_libres", stats.Free,
		"heap_backing", config.HeapBacking)
	return kernel, nil
}

func (k *Kernel) abort(stage string, err error) error {
	k.Interrupts.Stop()
	return fmt.Errorf("error inicializando %s: %w", stage, err)
}

// StartTimer arranca el tick de desalojo con la frecuencia configurada.
func (k *Kernel) StartTimer() error {
	return k.Interrupts.StartTimer(k.Config.TimerHz)
}

// Preempt es un punto de desalojo: entrega las interrupciones pendientes.
func (k *Kernel) Preempt() {
	k.Interrupts.Poll()
}

// Shutdown frena el timer y despierta al hilo idle para que termine.
func (k *Kernel) Shutdown() {
	k.Interrupts.Stop()
	slog.Info("Kernel detenido")
}

// NewMutex y NewSemaphore crean primitivas atadas a este kernel.
func (k *Kernel) NewMutex() *Mutex {
	return NewMutex(k.Threads)
}

func (k *Kernel) NewSemaphore(value int) *Semaphore {
	return NewSemaphore(k.Threads, value)
}
