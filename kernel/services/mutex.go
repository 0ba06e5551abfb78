package services

import (
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/list"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

// Mutex es un mutex de hilos del kernel con cola de espera FIFO. Al liberarlo
// la propiedad pasa directo al primer hilo en espera.
type Mutex struct {
	threads   *ThreadManager
	owner     *models.Thread
	waiters   *list.ArrayList[*models.Thread]
	destroyed bool
}

func NewMutex(threads *ThreadManager) *Mutex {
	return &Mutex{
		threads: threads,
		waiters: &list.ArrayList[*models.Thread]{},
	}
}

// Lock toma el mutex. Si está tomado por otro hilo, el hilo actual se
// bloquea hasta recibir la propiedad.
func (m *Mutex) Lock() error {
	release := m.threads.irq.Guard()
	defer release()

	if m.destroyed {
		return status.ErrInterrupted
	}

	current := m.threads.Current()
	if m.owner == current {
		return fmt.Errorf("%w: el hilo %d ya tiene el mutex", status.ErrBusy, current.ID)
	}

	if m.owner == nil {
		m.owner = current
		return nil
	}

	slog.Debug(fmt.Sprintf("## (%d) Bloqueado esperando el mutex del hilo %d", current.ID, m.owner.ID))
	m.waiters.Add(current)
	m.threads.block(current)
	m.threads.scheduler.Schedule()

	if m.destroyed && m.owner != current {
		return status.ErrInterrupted
	}
	status.Assert(m.owner == current, "el hilo %d despertó sin ser dueño del mutex", current.ID)
	return nil
}

// TryLock toma el mutex sólo si está libre.
func (m *Mutex) TryLock() error {
	release := m.threads.irq.Guard()
	defer release()

	if m.destroyed {
		return status.ErrInterrupted
	}
	if m.owner != nil {
		return status.ErrBusy
	}
	m.owner = m.threads.Current()
	return nil
}

// Unlock libera el mutex. Sólo el dueño puede hacerlo.
func (m *Mutex) Unlock() error {
	release := m.threads.irq.Guard()
	defer release()

	current := m.threads.Current()
	if m.owner != current {
		return fmt.Errorf("%w: el hilo %d no es dueño del mutex", status.ErrPermission, current.ID)
	}

	next, err := m.waiters.Dequeue()
	if err != nil {
		m.owner = nil
		return nil
	}

	m.owner = next
	if next.State != models.ThreadRunning {
		m.threads.scheduler.SetReady(next)
	}
	return nil
}

// Owner devuelve el id del dueño, si hay.
func (m *Mutex) Owner() (uint, bool) {
	release := m.threads.irq.Guard()
	defer release()

	if m.owner == nil {
		return 0, false
	}
	return m.owner.ID, true
}

func (m *Mutex) Waiters() int {
	release := m.threads.irq.Guard()
	defer release()

	return m.waiters.Size()
}

// Destroy invalida el mutex y despierta a todos los que esperaban; su Lock
// devuelve ErrInterrupted.
func (m *Mutex) Destroy() {
	release := m.threads.irq.Guard()
	defer release()

	m.destroyed = true
	m.owner = nil
	for m.waiters.Size() > 0 {
		waiter, _ := m.waiters.Dequeue()
		m.threads.scheduler.SetReady(waiter)
	}
}
