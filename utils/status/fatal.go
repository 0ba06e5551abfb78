package status

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
)

// FatalError es el valor con el que entra en pánico Halt. No es un error
// recuperable: indica que las estructuras del kernel ya están corruptas.
type FatalError struct {
	File    string
	Line    int
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("Asserted: %s:%d: %s", e.File, e.Line, e.Message)
}

var (
	hooksMu   sync.Mutex
	haltHooks []func()
)

// OnHalt registra una función que se ejecuta antes de detener el procesador
// (por ejemplo deshabilitar interrupciones y frenar el timer).
// Devuelve una función para desregistrarla.
func OnHalt(hook func()) func() {
	hooksMu.Lock()
	defer hooksMu.Unlock()

	haltHooks = append(haltHooks, hook)
	index := len(haltHooks) - 1
	return func() {
		hooksMu.Lock()
		defer hooksMu.Unlock()
		haltHooks[index] = nil
	}
}

// Assert detiene el kernel si la condición no se cumple.
//
// Parámetros:
//   - cond: condición que tiene que ser verdadera
//   - format, args: descripción de la condición, al estilo fmt.Sprintf
//
// Ejemplo:
//
//	func (s *Scheduler) Schedule() {
//		status.Assert(s.ready.Size() > 0, "cola de listos vacía")
//	}
func Assert(cond bool, format string, args ...any) {
	if cond {
		return
	}
	halt(2, fmt.Sprintf(format, args...))
}

// Halt detiene el kernel de manera incondicional.
func Halt(format string, args ...any) {
	halt(2, fmt.Sprintf(format, args...))
}

func halt(skip int, message string) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file = "???"
	}

	hooksMu.Lock()
	hooks := make([]func(), len(haltHooks))
	copy(hooks, haltHooks)
	hooksMu.Unlock()

	for _, hook := range hooks {
		if hook != nil {
			hook()
		}
	}

	fatal := &FatalError{File: filepath.Base(file), Line: line, Message: message}
	slog.Error(fatal.Error())
	panic(fatal)
}

// CatchFatal ejecuta fn y devuelve el FatalError si fn detuvo el kernel.
// Cualquier otro pánico se propaga.
func CatchFatal(fn func()) (fatal *FatalError) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(*FatalError)
			if !ok {
				panic(r)
			}
			fatal = f
		}
	}()
	fn()
	return nil
}
