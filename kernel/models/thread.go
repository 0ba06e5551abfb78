package models

import (
	"unicode/utf8"

	cpucontext "github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/context"
)

type ThreadState string

const (
	ThreadCreated ThreadState = "CREATED"
	ThreadReady   ThreadState = "READY"
	ThreadRunning ThreadState = "RUNNING"
	ThreadBlocked ThreadState = "BLOCKED"
	ThreadZombie  ThreadState = "ZOMBIE"
)

const (
	ThreadNameMax     = 32
	DefaultThreadName = "[NONAME]"
)

// ThreadFunc es la función de entrada de un hilo del kernel.
type ThreadFunc = cpucontext.Func

// Thread es un hilo del kernel. Está en exactamente uno de: la cola de
// listos, la cola de espera de un mutex o semáforo, o la CPU.
type Thread struct {
	ID       uint        `json:"id"`
	Name     string      `json:"name"`
	State    ThreadState `json:"state"`
	Priority uint8       `json:"priority"`

	// Address es la dirección en el heap donde vive la estructura del hilo.
	Address   uint32 `json:"address"`
	StackBase uint32 `json:"stack_base"`
	StackSize uint32 `json:"stack_size"`

	Context *cpucontext.Context `json:"-"`
}

// ThreadName recorta el nombre a ThreadNameMax bytes sin partir un carácter.
// Un nombre vacío se reemplaza por DefaultThreadName.
func ThreadName(name string) string {
	if name == "" {
		return DefaultThreadName
	}
	if len(name) <= ThreadNameMax {
		return name
	}
	cut := ThreadNameMax
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// ThreadInfo es la vista de un hilo que se devuelve por el monitor.
type ThreadInfo struct {
	ID        uint        `json:"id"`
	Name      string      `json:"name"`
	State     ThreadState `json:"state"`
	Priority  uint8       `json:"priority"`
	Address   uint32      `json:"address"`
	StackBase uint32      `json:"stack_base"`
	StackSize uint32      `json:"stack_size"`
	ESP       uint32      `json:"esp"`
}

func (t *Thread) Info() ThreadInfo {
	info := ThreadInfo{
		ID:        t.ID,
		Name:      t.Name,
		State:     t.State,
		Priority:  t.Priority,
		Address:   t.Address,
		StackBase: t.StackBase,
		StackSize: t.StackSize,
	}
	if t.Context != nil {
		info.ESP = t.Context.StackPointer()
	}
	return info
}
