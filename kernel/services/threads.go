package services

import (
	"fmt"
	"log/slog"

	cpucontext "github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/context"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/mmu"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/list"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

const (
	ThreadStackSize = mmu.PageSize

	// threadStructSize es lo que ocupa la estructura de un hilo en el heap.
	threadStructSize = 64

	IdleThreadName = "idle"
)

// HeapAllocator es el heap del kernel visto desde el manejo de hilos.
type HeapAllocator interface {
	Alloc(size uint32) (uint32, error)
	Free(addr uint32) error
}

type ThreadManager struct {
	irq       Interrupts
	heap      HeapAllocator
	scheduler *Scheduler
	cpu       *cpucontext.CPU

	registry *list.ArrayList[*models.Thread]
	current  *models.Thread
	idle     *models.Thread
	nextID   uint
}

// SetupThreading crea el hilo idle a partir del flujo de arranque y lo deja
// como hilo actual.
func SetupThreading(heap HeapAllocator, scheduler *Scheduler, irq Interrupts) (*ThreadManager, error) {
	tm := &ThreadManager{
		irq:       irq,
		heap:      heap,
		scheduler: scheduler,
		cpu:       scheduler.cpu,
		registry:  &list.ArrayList[*models.Thread]{},
	}
	scheduler.threads = tm

	release := irq.Guard()
	defer release()

	idle, err := tm.allocate(IdleThreadName, 0)
	if err != nil {
		return nil, fmt.Errorf("no se pudo crear el hilo idle: %w", err)
	}
	idle.Context = tm.cpu.Boot()
	tm.idle = idle
	tm.registry.Add(idle)

	scheduler.SetReady(idle)
	scheduler.elect()

	slog.Info("Hilo idle creado", "id", idle.ID, "stack_base", fmt.Sprintf("%#x", idle.StackBase))
	return tm, nil
}

// allocate reserva la estructura y la pila de un hilo nuevo en el heap.
func (tm *ThreadManager) allocate(name string, priority uint8) (*models.Thread, error) {
	address, err := tm.heap.Alloc(threadStructSize)
	if err != nil {
		return nil, err
	}

	stackBase, err := tm.heap.Alloc(ThreadStackSize)
	if err != nil {
		if freeErr := tm.heap.Free(address); freeErr != nil {
			slog.Error("No se pudo liberar la estructura del hilo", "address", address, "error", freeErr)
		}
		return nil, err
	}

	thread := &models.Thread{
		ID:        tm.nextID,
		Name:      models.ThreadName(name),
		Priority:  priority,
		Address:   address,
		StackBase: stackBase,
		StackSize: ThreadStackSize,
	}
	tm.nextID++

	transitionThreadState(thread, models.ThreadCreated)
	return thread, nil
}

// Create crea un hilo que arranca en start(arg) y lo deja en la cola de
// listos. Cuando start retorna el hilo termina solo.
func (tm *ThreadManager) Create(name string, start models.ThreadFunc, arg any, priority uint8) (*models.Thread, error) {
	if start == nil {
		return nil, fmt.Errorf("%w: el hilo %q no tiene función de entrada", status.ErrInvalidValue, name)
	}

	release := tm.irq.Guard()
	defer release()

	thread, err := tm.allocate(name, priority)
	if err != nil {
		slog.Warn("No hay memoria para crear el hilo", "name", name, "error", err)
		return nil, err
	}

	thread.Context = tm.cpu.Init(start, arg, thread.StackBase, thread.StackSize, tm.exitFunc, nil)
	tm.registry.Add(thread)
	tm.scheduler.SetReady(thread)

	slog.Info(fmt.Sprintf("## (%d) Hilo creado", thread.ID), "name", thread.Name, "priority", thread.Priority)
	return thread, nil
}

func (tm *ThreadManager) exitFunc(any) {
	tm.Exit()
}

// Exit termina el hilo actual: libera su pila y su estructura y pasa la CPU
// al próximo listo. No retorna.
func (tm *ThreadManager) Exit() {
	// El guard no se libera: este hilo no vuelve a ejecutar.
	_ = tm.irq.Guard()

	thread := tm.Current()
	status.Assert(thread != tm.idle, "el hilo idle no puede terminar")

	tm.registry.RemoveWhere(func(registered *models.Thread) bool { return registered == thread })
	tm.scheduler.Remove(thread)

	if err := tm.heap.Free(thread.StackBase); err != nil {
		slog.Error("No se pudo liberar la pila del hilo", "id", thread.ID, "error", err)
	}
	if err := tm.heap.Free(thread.Address); err != nil {
		slog.Error("No se pudo liberar la estructura del hilo", "id", thread.ID, "error", err)
	}

	transitionThreadState(thread, models.ThreadZombie)
	slog.Info(fmt.Sprintf("## (%d) Finaliza el hilo", thread.ID), "name", thread.Name)

	next := tm.scheduler.elect()
	tm.cpu.SwitchAway(next.Context)
}

// Current devuelve el hilo en la CPU. El hilo actual siempre está en RUNNING.
func (tm *ThreadManager) Current() *models.Thread {
	release := tm.irq.Guard()
	defer release()

	status.Assert(tm.current != nil, "no hay hilo actual")
	status.Assert(tm.current.State == models.ThreadRunning,
		"el hilo actual %d está en estado %s", tm.current.ID, tm.current.State)
	return tm.current
}

// SetCurrent pone en la CPU a un hilo que estaba listo.
func (tm *ThreadManager) SetCurrent(thread *models.Thread) {
	release := tm.irq.Guard()
	defer release()

	status.Assert(thread.State == models.ThreadReady,
		"hilo %d en estado %s no puede pasar a RUNNING", thread.ID, thread.State)

	transitionThreadState(thread, models.ThreadRunning)
	tm.current = thread
}

// block saca al hilo actual de la CPU sin devolverlo a la cola de listos.
func (tm *ThreadManager) block(thread *models.Thread) {
	transitionThreadState(thread, models.ThreadBlocked)
}

// Yield cede la CPU voluntariamente.
func (tm *ThreadManager) Yield() {
	tm.scheduler.Schedule()
}

// Idle es el lazo del hilo idle: espera interrupciones hasta que el
// controlador se detiene.
func (tm *ThreadManager) Idle() {
	for tm.irq.WaitForInterrupt() {
	}
	slog.Debug("El hilo idle se detiene")
}

func (tm *ThreadManager) IdleThread() *models.Thread {
	return tm.idle
}

// Threads devuelve todos los hilos vivos en orden de creación.
func (tm *ThreadManager) Threads() []models.ThreadInfo {
	release := tm.irq.Guard()
	defer release()

	var threads []models.ThreadInfo
	tm.registry.ForEach(func(thread *models.Thread) {
		threads = append(threads, thread.Info())
	})
	return threads
}

// Find busca un hilo vivo por id.
func (tm *ThreadManager) Find(id uint) (models.ThreadInfo, bool) {
	release := tm.irq.Guard()
	defer release()

	thread, _, ok := tm.registry.Find(func(registered *models.Thread) bool { return registered.ID == id })
	if !ok {
		return models.ThreadInfo{}, false
	}
	return thread.Info(), true
}
