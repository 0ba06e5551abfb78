package context

import (
	"fmt"
	"log/slog"
	"reflect"
	"runtime"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

// Selectores de la GDT del kernel.
const (
	KernelCodeSelector = 0x08
	KernelDataSelector = 0x10
)

// FlagIF es EFLAGS.IF.
const FlagIF = 1 << 9

// FrameSize es el tamaño en bytes del frame de registros guardado en la pila.
const FrameSize = 56

// TrampolineWords es la cantidad de palabras que Init apila antes del frame:
// dirección de retorno falsa, start, startArg, exit y exitArg.
const TrampolineWords = 5

// TrampolineAddress es la dirección donde está cargada la rutina trampolín.
const TrampolineAddress uint32 = 0x00100000

type Func func(arg any)

// Registers es el frame que se guarda al suspender un contexto.
// El orden es el que necesita iret al final.
type Registers struct {
	GS, FS, ES, DS, SS uint16

	EAX, EBX, ECX, EDX, ESI, EDI, EBP uint32

	ErrorCode uint32
	EIP       uint32
	CS        uint32
	EFLAGS    uint32

	// ESP apunta al frame dentro de la pila.
	ESP uint32
}

// Words codifica el frame como lo deja Init en la pila, de la dirección más
// baja a la más alta: los selectores de a dos por palabra, los registros de
// propósito general y después lo que consume iret.
func (r Registers) Words() [FrameSize / 4]uint32 {
	return [FrameSize / 4]uint32{
		uint32(r.GS) | uint32(r.FS)<<16,
		uint32(r.ES) | uint32(r.DS)<<16,
		uint32(r.SS),
		r.EAX, r.EBX, r.ECX, r.EDX, r.ESI, r.EDI, r.EBP,
		r.ErrorCode,
		r.EIP,
		r.CS,
		r.EFLAGS,
	}
}

// Context es el estado de CPU de un hilo del kernel.
//
// La ejecución de cada contexto la lleva una goroutine que sólo corre
// mientras tiene la CPU. Switch le pasa la CPU a otra goroutine y bloquea
// a la actual hasta que alguien la vuelva a reanudar.
type Context struct {
	Regs Registers

	start    Func
	startArg any
	exit     Func
	exitArg  any

	resume  chan struct{}
	started bool
	running bool
}

// InterruptFlag es la parte del controlador de interrupciones que necesita
// un contexto nuevo para cargar su EFLAGS.IF.
type InterruptFlag interface {
	SetInterruptFlag(enabled bool)
}

// StackMemory escribe en memoria virtual sin provocar page faults.
// Lo implementa paging.Manager.
type StackMemory interface {
	WriteMapped32(vaddr, value uint32) (bool, error)
}

// CPU crea y conmuta contextos.
type CPU struct {
	flag   InterruptFlag
	memory StackMemory
}

func NewCPU(flag InterruptFlag) *CPU {
	return &CPU{flag: flag}
}

// SetStackMemory hace que Init escriba el trampolín y el frame en la pila
// del hilo cuando sus páginas están mapeadas.
func (c *CPU) SetStackMemory(memory StackMemory) {
	c.memory = memory
}

// Boot devuelve el contexto del flujo que está corriendo ahora (el arranque).
// No tiene trampolín: ya está en ejecución.
func (c *CPU) Boot() *Context {
	return &Context{
		resume:  make(chan struct{}, 1),
		started: true,
		running: true,
	}
}

// Init arma el contexto inicial de un hilo sobre la pila [stackBase, stackBase+stackSize).
// Al reanudarse por primera vez ejecuta start(startArg) y, si vuelve, exit(exitArg).
func (c *CPU) Init(start Func, startArg any, stackBase, stackSize uint32, exit Func, exitArg any) *Context {
	status.Assert(start != nil, "contexto sin función de inicio")
	status.Assert(stackSize >= TrampolineWords*4+FrameSize, "pila de %d bytes demasiado chica", stackSize)

	top := stackBase + stackSize
	ctx := &Context{
		start:    start,
		startArg: startArg,
		exit:     exit,
		exitArg:  exitArg,
		resume:   make(chan struct{}, 1),
	}

	ctx.Regs = Registers{
		EIP:    TrampolineAddress,
		CS:     KernelCodeSelector,
		DS:     KernelDataSelector,
		ES:     KernelDataSelector,
		SS:     KernelDataSelector,
		EFLAGS: FlagIF,
		ESP:    top - TrampolineWords*4 - FrameSize,
	}
	c.writeStack(ctx)
	return ctx
}

// writeStack deja en memoria, desde ESP, el frame de registros y encima las
// palabras del trampolín. Las páginas sin mapear se saltean.
func (c *CPU) writeStack(ctx *Context) {
	if c.memory == nil {
		return
	}

	frame := ctx.Regs.Words()
	words := append(frame[:], 0, funcWord(ctx.start), argWord(ctx.startArg), funcWord(ctx.exit), argWord(ctx.exitArg))

	written := 0
	for i, word := range words {
		vaddr := ctx.Regs.ESP + uint32(i)*4
		ok, err := c.memory.WriteMapped32(vaddr, word)
		if err != nil {
			slog.Warn("No se pudo escribir la pila inicial", "vaddr", fmt.Sprintf("%#x", vaddr), "error", err)
			return
		}
		if ok {
			written++
		}
	}
	slog.Debug(fmt.Sprintf("Pila inicial en %#x: %d de %d palabras escritas", ctx.Regs.ESP, written, len(words)))
}

// funcWord es la parte baja de la dirección de código de fn.
func funcWord(fn Func) uint32 {
	if fn == nil {
		return 0
	}
	return uint32(reflect.ValueOf(fn).Pointer())
}

// argWord guarda los argumentos enteros; el resto no tiene representación
// en 32 bits y queda en cero.
func argWord(arg any) uint32 {
	switch v := arg.(type) {
	case int:
		return uint32(v)
	case uint:
		return uint32(v)
	case uint32:
		return v
	case int32:
		return uint32(v)
	default:
		return 0
	}
}

// Started indica si el contexto ya corrió alguna vez.
func (ctx *Context) Started() bool {
	return ctx.started
}

// StackPointer devuelve el ESP guardado.
func (ctx *Context) StackPointer() uint32 {
	return ctx.Regs.ESP
}

// Switch guarda el contexto actual en from y reanuda to. Vuelve recién
// cuando alguien reanude from.
func (c *CPU) Switch(from, to *Context) {
	status.Assert(from != to, "switch de un contexto a sí mismo")

	from.started = true
	from.running = false
	c.resume(to)
	<-from.resume
	from.running = true
}

// SwitchAway es el último switch de un hilo que termina: reanuda to y no vuelve.
func (c *CPU) SwitchAway(to *Context) {
	c.resume(to)
	runtime.Goexit()
}

func (c *CPU) resume(to *Context) {
	status.Assert(!to.running, "contexto reanudado sin haber sido suspendido")
	to.running = true

	if !to.started {
		to.started = true
		go c.trampoline(to)
		return
	}

	select {
	case to.resume <- struct{}{}:
	default:
		status.Halt("contexto reanudado dos veces")
	}
}

func (c *CPU) trampoline(ctx *Context) {
	if c.flag != nil {
		c.flag.SetInterruptFlag(ctx.Regs.EFLAGS&FlagIF != 0)
	}

	ctx.start(ctx.startArg)
	if ctx.exit != nil {
		ctx.exit(ctx.exitArg)
	}

	// Un hilo nunca tiene que volver de exit.
	slog.Error("El hilo volvió de su función de salida, queda detenido")
	select {}
}
