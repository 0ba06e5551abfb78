package services

import (
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
)

const reporterName = "reporter"

// Workload es la carga de demostración: cada worker incrementa un contador
// compartido bajo un mutex y avisa por un semáforo cuando termina. Un hilo
// extra espera a todos y reporta el total.
type Workload struct {
	kernel   *Kernel
	workers  []models.WorkerConfig
	mutex    *Mutex
	done     *Semaphore
	counter  int
	finished chan struct{}
}

func NewWorkload(kernel *Kernel, workers []models.WorkerConfig) *Workload {
	return &Workload{
		kernel:   kernel,
		workers:  workers,
		mutex:    kernel.NewMutex(),
		done:     kernel.NewSemaphore(0),
		finished: make(chan struct{}),
	}
}

// Start crea los hilos de la carga. Los hilos quedan listos; corren cuando
// el hilo actual cede la CPU o llega un tick.
func (w *Workload) Start() error {
	for _, worker := range w.workers {
		if _, err := w.kernel.Threads.Create(worker.Name, w.run, worker, worker.Priority); err != nil {
			return fmt.Errorf("no se pudo crear el worker %q: %w", worker.Name, err)
		}
	}
	if _, err := w.kernel.Threads.Create(reporterName, w.report, nil, 0); err != nil {
		return fmt.Errorf("no se pudo crear el reporter: %w", err)
	}
	return nil
}

func (w *Workload) run(arg any) {
	worker := arg.(models.WorkerConfig)
	self := w.kernel.Threads.Current()

	for i := 0; i < worker.Iterations; i++ {
		if err := w.mutex.Lock(); err != nil {
			slog.Warn(fmt.Sprintf("## (%d) No se pudo tomar el mutex", self.ID), "error", err)
			break
		}
		w.counter++
		value := w.counter
		w.kernel.Preempt()
		if err := w.mutex.Unlock(); err != nil {
			slog.Error(fmt.Sprintf("## (%d) No se pudo liberar el mutex", self.ID), "error", err)
		}

		slog.Debug(fmt.Sprintf("## (%d) %s - iteración %d", self.ID, self.Name, i+1), "contador", value)
		w.kernel.Threads.Yield()
	}
	w.done.Up()
}

func (w *Workload) report(any) {
	for range w.workers {
		if err := w.done.Down(); err != nil {
			slog.Warn("La carga se interrumpió", "error", err)
			break
		}
	}

	slog.Info("Carga terminada", "workers", len(w.workers), "contador", w.Counter())
	w.mutex.Destroy()
	w.done.Destroy()
	close(w.finished)
}

// Counter devuelve el valor del contador compartido.
func (w *Workload) Counter() int {
	release := w.kernel.Interrupts.Guard()
	defer release()

	return w.counter
}

// Finished se cierra cuando el reporter terminó de esperar a los workers.
func (w *Workload) Finished() <-chan struct{} {
	return w.finished
}
