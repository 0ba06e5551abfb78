package services

import (
	"fmt"
	"log/slog"

	cpucontext "github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/context"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/list"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

// Interrupts es lo que el núcleo necesita del controlador de interrupciones.
type Interrupts interface {
	Guard() (release func())
	WaitForInterrupt() bool
}

// Scheduler mantiene la única cola de listos, ordenada por prioridad
// (FIFO entre hilos de igual prioridad).
type Scheduler struct {
	irq     Interrupts
	cpu     *cpucontext.CPU
	ready   *list.ArrayList[*models.Thread]
	threads *ThreadManager
}

func SetupScheduler(irq Interrupts, cpu *cpucontext.CPU) *Scheduler {
	return &Scheduler{
		irq:   irq,
		cpu:   cpu,
		ready: &list.ArrayList[*models.Thread]{},
	}
}

// SetReady pasa el hilo a READY y lo inserta delante del primer hilo de la
// cola con prioridad estrictamente menor. Si ya estaba listo no hace nada.
func (s *Scheduler) SetReady(thread *models.Thread) {
	release := s.irq.Guard()
	defer release()

	if thread.State == models.ThreadReady {
		return
	}

	status.Assert(thread.State == models.ThreadCreated ||
		thread.State == models.ThreadRunning ||
		thread.State == models.ThreadBlocked,
		"hilo %d en estado %s no puede pasar a READY", thread.ID, thread.State)

	transitionThreadState(thread, models.ThreadReady)
	s.ready.InsertBefore(thread, func(queued *models.Thread) bool {
		return queued.Priority < thread.Priority
	})
}

// Schedule rota la cola: el hilo actual, si sigue en RUNNING, vuelve al final
// como READY y la CPU pasa a la cabeza de la cola. Si la cabeza es el mismo
// hilo no hay cambio de contexto.
func (s *Scheduler) Schedule() {
	release := s.irq.Guard()
	defer release()

	previous := s.threads.current
	status.Assert(previous != nil, "schedule sin hilo actual")

	if previous.State == models.ThreadRunning {
		transitionThreadState(previous, models.ThreadReady)
		s.ready.Add(previous)
	}

	next := s.elect()
	if next == previous {
		return
	}

	s.cpu.Switch(previous.Context, next.Context)

	status.Assert(s.threads.current == previous, "hilo %d reanudado sin ser el actual", previous.ID)
	status.Assert(previous.State == models.ThreadRunning, "hilo %d reanudado en estado %s", previous.ID, previous.State)
}

// elect saca la cabeza de la cola y la pone en la CPU.
func (s *Scheduler) elect() *models.Thread {
	next, err := s.ready.Dequeue()
	status.Assert(err == nil, "cola de listos vacía")

	s.threads.SetCurrent(next)
	return next
}

// Remove saca un hilo de la cola de listos.
func (s *Scheduler) Remove(thread *models.Thread) {
	release := s.irq.Guard()
	defer release()

	s.ready.RemoveWhere(func(queued *models.Thread) bool { return queued == thread })
}

func (s *Scheduler) Len() int {
	return s.ready.Size()
}

// ReadyQueue devuelve la cola de listos en orden de despacho.
func (s *Scheduler) ReadyQueue() []models.ThreadInfo {
	release := s.irq.Guard()
	defer release()

	var queue []models.ThreadInfo
	s.ready.ForEach(func(thread *models.Thread) {
		queue = append(queue, thread.Info())
	})
	return queue
}

// TimerHandler es el handler de IRQ0: cada tick desaloja al hilo actual.
func (s *Scheduler) TimerHandler(line int) {
	slog.Debug(fmt.Sprintf("Tick del timer (IRQ%d)", line))
	s.Schedule()
}
