package services

import (
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
)

// transitionThreadState cambia el estado de un hilo y deja registro del cambio.
// Quien llama tiene que estar dentro de un guard de interrupciones.
func transitionThreadState(thread *models.Thread, newState models.ThreadState) {
	oldState := thread.State
	thread.State = newState

	if oldState == "" {
		slog.Debug(fmt.Sprintf("## (%d) Se crea el hilo %s - Estado : %s", thread.ID, thread.Name, newState))
		return
	}
	slog.Debug(fmt.Sprintf("## (%d) Pasa del estado %s al estado %s", thread.ID, oldState, newState))
}
