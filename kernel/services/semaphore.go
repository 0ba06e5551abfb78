package services

import (
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/list"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

// Semaphore es un semáforo contador. Un valor negativo indica cuántos hilos
// están esperando.
type Semaphore struct {
	threads   *ThreadManager
	count     int
	waiters   *list.ArrayList[*models.Thread]
	destroyed bool

	// interrupted son los hilos que despertó Destroy y todavía no volvieron
	// de Down. Los que despertó Up se llevaron un permiso.
	interrupted map[*models.Thread]bool
}

func NewSemaphore(threads *ThreadManager, value int) *Semaphore {
	return &Semaphore{
		threads:     threads,
		count:       value,
		waiters:     &list.ArrayList[*models.Thread]{},
		interrupted: map[*models.Thread]bool{},
	}
}

// Down decrementa el contador y bloquea al hilo actual si queda negativo.
func (s *Semaphore) Down() error {
	release := s.threads.irq.Guard()
	defer release()

	if s.destroyed {
		return status.ErrInterrupted
	}

	s.count--
	if s.count >= 0 {
		return nil
	}

	current := s.threads.Current()
	slog.Debug(fmt.Sprintf("## (%d) Bloqueado en el semáforo", current.ID), "count", s.count)
	s.waiters.Add(current)
	s.threads.block(current)
	s.threads.scheduler.Schedule()

	if s.interrupted[current] {
		delete(s.interrupted, current)
		return status.ErrInterrupted
	}
	return nil
}

// Up incrementa el contador y, si había hilos esperando, despierta al primero.
func (s *Semaphore) Up() {
	release := s.threads.irq.Guard()
	defer release()

	if s.destroyed {
		return
	}

	s.count++
	if s.count > 0 {
		return
	}

	waiter, err := s.waiters.Dequeue()
	status.Assert(err == nil, "semáforo con contador %d y sin hilos esperando", s.count)
	s.threads.scheduler.SetReady(waiter)
}

func (s *Semaphore) Count() int {
	release := s.threads.irq.Guard()
	defer release()

	return s.count
}

func (s *Semaphore) Waiters() int {
	release := s.threads.irq.Guard()
	defer release()

	return s.waiters.Size()
}

// Destroy invalida el semáforo y despierta a todos los que esperaban; su
// Down devuelve ErrInterrupted. Un hilo que ya recibió el permiso de Up
// antes de Destroy lo conserva.
func (s *Semaphore) Destroy() {
	release := s.threads.irq.Guard()
	defer release()

	s.destroyed = true
	for s.waiters.Size() > 0 {
		waiter, _ := s.waiters.Dequeue()
		s.interrupted[waiter] = true
		s.threads.scheduler.SetReady(waiter)
	}
	s.count = 0
}
