package status

import "errors"

// Errores recuperables del núcleo. Se comparan con errors.Is y se pueden
// envolver con fmt.Errorf("...: %w", err).
var (
	ErrInvalidValue             = errors.New("invalid value")
	ErrNotSupported             = errors.New("operation not supported")
	ErrNoMemory                 = errors.New("no memory")
	ErrBusy                     = errors.New("busy")
	ErrInterrupted              = errors.New("interrupted")
	ErrPermission               = errors.New("permission error")
	ErrUnresolvedVirtualAddress = errors.New("unresolved virtual address")
)

// Code devuelve el código numérico (negativo) que usaba el kernel para cada error.
// Sirve para los logs y para el monitor, donde se reporta el código junto al mensaje.
func Code(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidValue):
		return -1
	case errors.Is(err, ErrNotSupported):
		return -2
	case errors.Is(err, ErrNoMemory):
		return -3
	case errors.Is(err, ErrBusy):
		return -4
	case errors.Is(err, ErrInterrupted):
		return -5
	case errors.Is(err, ErrPermission):
		return -6
	case errors.Is(err, ErrUnresolvedVirtualAddress):
		return -7
	default:
		return -255
	}
}
