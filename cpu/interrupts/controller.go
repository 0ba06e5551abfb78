package interrupts

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

// Líneas de IRQ del PIC simulado.
const (
	IRQTimer = 0
	IRQCall  = 15
	NumLines = 16
)

// Flags es el valor de EFLAGS.IF guardado por Disable.
type Flags bool

type Handler func(line int)

// Controller simula el flag de interrupciones de la CPU y el PIC.
//
// El kernel corre en una sola CPU: sólo el hilo que tiene la CPU toca
// las estructuras del núcleo. Raise y Call son las únicas operaciones que
// se pueden llamar desde otras goroutines (el timer, el monitor HTTP).
type Controller struct {
	enabled atomic.Bool
	pending atomic.Uint32
	wake    chan struct{}
	stopped atomic.Bool

	handlers [NumLines]Handler

	callsMu sync.Mutex
	calls   []func()

	timerMu   sync.Mutex
	timerStop chan struct{}

	unregisterHalt func()
}

func NewController() *Controller {
	c := &Controller{
		wake: make(chan struct{}, 1),
	}
	c.handlers[IRQCall] = func(int) { c.runCalls() }
	c.unregisterHalt = status.OnHalt(func() {
		c.enabled.Store(false)
		c.StopTimer()
	})
	return c
}

// Disable es cli: deshabilita las interrupciones y devuelve el estado anterior.
func (c *Controller) Disable() Flags {
	return Flags(c.enabled.Swap(false))
}

// Restore vuelve EFLAGS.IF al valor guardado por Disable.
// Las líneas pendientes se entregan en el próximo Poll.
func (c *Controller) Restore(flags Flags) {
	c.enabled.Store(bool(flags))
}

// Enable es sti.
func (c *Controller) Enable() {
	c.enabled.Store(true)
}

func (c *Controller) Enabled() bool {
	return c.enabled.Load()
}

// SetInterruptFlag lo usa cpu/context al arrancar un contexto nuevo con su EFLAGS.
func (c *Controller) SetInterruptFlag(enabled bool) {
	c.enabled.Store(enabled)
}

// Guard deshabilita las interrupciones y devuelve la función que las restaura.
// Es la sección crítica del kernel: toda operación que modifica frames, rangos
// del heap, la cola de listos o una cola de espera corre dentro de un Guard.
//
// Ejemplo:
//
//	func (a *Allocator) Alloc() (uint32, error) {
//		release := a.irq.Guard()
//		defer release()
//		...
//	}
func (c *Controller) Guard() func() {
	flags := c.Disable()
	return func() { c.Restore(flags) }
}

// Register instala el handler de una línea. Se hace durante el arranque.
func (c *Controller) Register(line int, handler Handler) error {
	if line < 0 || line >= NumLines || line == IRQCall {
		return fmt.Errorf("%w: línea de IRQ %d", status.ErrInvalidValue, line)
	}
	c.handlers[line] = handler
	return nil
}

// Raise marca la línea como pendiente y despierta a la CPU si estaba en hlt.
func (c *Controller) Raise(line int) {
	if line < 0 || line >= NumLines {
		return
	}
	c.pending.Or(1 << uint(line))
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pending devuelve true si hay alguna línea esperando ser atendida.
func (c *Controller) Pending() bool {
	return c.pending.Load() != 0
}

// Poll entrega las líneas pendientes, de menor a mayor, si IF está prendido.
// Es el punto de desalojo: el handler del timer llama a Schedule desde acá.
// Cada handler corre con las interrupciones deshabilitadas.
func (c *Controller) Poll() {
	for c.enabled.Load() {
		pending := c.pending.Load()
		if pending == 0 {
			return
		}
		line := bits.TrailingZeros32(pending)
		c.pending.And(^uint32(1 << uint(line)))

		handler := c.handlers[line]
		if handler == nil {
			slog.Debug("IRQ sin handler", "line", line)
			continue
		}

		flags := c.Disable()
		handler(line)
		c.Restore(flags)
	}
}

// WaitForInterrupt es hlt: bloquea hasta que se levante alguna línea y la entrega.
// Devuelve false cuando la máquina fue detenida con Stop.
func (c *Controller) WaitForInterrupt() bool {
	status.Assert(c.enabled.Load(), "hlt con interrupciones deshabilitadas")

	for c.pending.Load() == 0 && !c.stopped.Load() {
		<-c.wake
	}
	if c.stopped.Load() {
		return false
	}
	c.Poll()
	return true
}

// Stop apaga la máquina: frena el timer y despierta al hilo en hlt.
func (c *Controller) Stop() {
	c.stopped.Store(true)
	c.StopTimer()
	if c.unregisterHalt != nil {
		c.unregisterHalt()
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// StartTimer programa el PIT para levantar IRQ0 hz veces por segundo.
func (c *Controller) StartTimer(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("%w: frecuencia del timer %d", status.ErrInvalidValue, hz)
	}

	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timerStop != nil {
		return fmt.Errorf("%w: el timer ya está corriendo", status.ErrBusy)
	}

	stop := make(chan struct{})
	c.timerStop = stop
	ticker := time.NewTicker(time.Second / time.Duration(hz))

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Raise(IRQTimer)
			case <-stop:
				return
			}
		}
	}()

	slog.Debug("Timer iniciado", "hz", hz)
	return nil
}

func (c *Controller) StopTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
}

// Call encola fn para que la ejecute la CPU en el próximo Poll.
// Es la única forma de que otra goroutine lea estado del kernel.
func (c *Controller) Call(fn func()) {
	c.callsMu.Lock()
	c.calls = append(c.calls, fn)
	c.callsMu.Unlock()

	c.Raise(IRQCall)
}

// CallAndWait encola fn y espera a que la CPU la ejecute, con un timeout.
func (c *Controller) CallAndWait(fn func(), timeout time.Duration) error {
	done := make(chan struct{})
	c.Call(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w: la CPU no atendió el pedido en %v", status.ErrBusy, timeout)
	}
}

func (c *Controller) runCalls() {
	c.callsMu.Lock()
	calls := c.calls
	c.calls = nil
	c.callsMu.Unlock()

	for _, fn := range calls {
		fn()
	}
}
