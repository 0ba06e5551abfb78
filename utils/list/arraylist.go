package list

import (
	"fmt"
	"sync"
)

// List Definir la interfaz List
type List[T any] interface {
	Add(item T)                                  // Añadir un elemento al final de la lista
	Dequeue() (T, error)                         // Eliminar y devolver el primer elemento de la lista
	Find(predicate func(T) bool) (T, int, bool)  // Permite buscar un elemento de la lista dado un predicado.
	ForEach(callback func(T))                    // A cada elemento de la lista se le va aplicar la función que le pase
	Get(index int) (T, error)                    // Obtener un elemento a partir de un índice dado
	GetAll() []T                                 // Retorna todos los elementos que se encuentra en la lista
	InsertBefore(item T, match func(T) bool) int // Inserta antes del primer elemento que cumpla el predicado
	Peek() (T, error)                            // Devuelve el primer elemento sin sacarlo
	Pop() (T, error)                             // Remover el último elemento de la lista
	RemoveWhere(match func(T) bool) bool         // Elimina el primer elemento que cumpla el predicado
	Size() int                                   // Retornar el tamaño de la lista
}

// ArrayList implements List
//
// El mutex interno sólo protege el slice contra lecturas concurrentes (por
// ejemplo el monitor). La exclusión entre operaciones del kernel la da el
// guard de interrupciones de quien llama.
type ArrayList[T any] struct {
	mu    sync.RWMutex
	items []T
}

// Add inserta un elemento al final de la lista.
//
// Parámetros:
//   - item: Elemento a insertar.
//
// Ejemplo:
//
//	func main() {
//		ready := &ArrayList[*models.Thread]{}
//		ready.Add(thread)
//	}
func (list *ArrayList[T]) Add(item T) {
	list.mu.Lock()
	defer list.mu.Unlock()

	list.items = append(list.items, item)
}

// Dequeue elimina y devuelve el primer elemento de la cola.
// En caso de que la lista se encuentre vacía retorna el valor "cero" del tipo T y un error.
//
// Ejemplo:
//
//	func main() {
//		waitQueue := &list.ArrayList[int]{}
//		waitQueue.Add(10)
//		waitQueue.Add(20)
//		value, _ := waitQueue.Dequeue()
//		fmt.Println("Valor: ", value) //output: 10
//	}
func (list *ArrayList[T]) Dequeue() (T, error) {
	list.mu.Lock()
	defer list.mu.Unlock()

	if len(list.items) == 0 {
		var zero T
		return zero, fmt.Errorf("list is empty")
	}
	value := list.items[0]
	var zero T
	list.items[0] = zero
	list.items = list.items[1:]
	return value, nil
}

// Peek devuelve el primer elemento de la cola sin sacarlo.
func (list *ArrayList[T]) Peek() (T, error) {
	list.mu.RLock()
	defer list.mu.RUnlock()

	if len(list.items) == 0 {
		var zero T
		return zero, fmt.Errorf("list is empty")
	}
	return list.items[0], nil
}

// Find permite buscar un elemento de la lista dado un predicado.
//
// Parámetros:
//   - predicate: Función que permite identificar el elemento buscado.
//
// Ejemplo:
//
//	func main() {
//		registry := &ArrayList[*models.Thread]{}
//		thread, index, found := registry.Find(func(t *models.Thread) bool {
//			return t.ID == 3
//		})
//	}
func (list *ArrayList[T]) Find(predicate func(T) bool) (T, int, bool) {
	list.mu.RLock()
	defer list.mu.RUnlock()

	for i, item := range list.items {
		if predicate(item) {
			return item, i, true
		}
	}
	var zero T
	return zero, -1, false
}

// Get devuelve el elemento en el índice proporcionado.
func (list *ArrayList[T]) Get(index int) (T, error) {
	list.mu.RLock()
	defer list.mu.RUnlock()

	if index < 0 || index >= len(list.items) {
		var zero T
		return zero, fmt.Errorf("index out of range: %d", index)
	}
	return list.items[index], nil
}

// InsertBefore inserta un elemento antes del primer elemento que cumpla el predicado.
// Si ninguno lo cumple, lo agrega al final. Devuelve la posición donde quedó.
//
// Parámetros:
//   - item: Elemento a insertar.
//   - match: Predicado que marca el punto de inserción.
//
// Ejemplo:
//
//	func main() {
//		priorities := &ArrayList[int]{}
//		priorities.Add(5)
//		priorities.Add(1)
//		// Se inserta delante del primero con menor prioridad: [5, 3, 1]
//		priorities.InsertBefore(3, func(p int) bool { return p < 3 })
//	}
func (list *ArrayList[T]) InsertBefore(item T, match func(T) bool) int {
	list.mu.Lock()
	defer list.mu.Unlock()

	index := len(list.items)
	for i, current := range list.items {
		if match(current) {
			index = i
			break
		}
	}

	var zero T
	list.items = append(list.items, zero)
	copy(list.items[index+1:], list.items[index:])
	list.items[index] = item
	return index
}

// Pop remueve el último elemento de la lista y lo devuelve.
// Usada como pila (LIFO) junto con Add.
//
// Ejemplo:
//
//	func main() {
//		freeFrames := &ArrayList[uint32]{}
//		freeFrames.Add(0x1000)
//		freeFrames.Add(0x2000)
//		value, _ := freeFrames.Pop()
//		fmt.Println("Valor: ", value) //Output: 0x2000
//	}
func (list *ArrayList[T]) Pop() (T, error) {
	list.mu.Lock()
	defer list.mu.Unlock()

	if len(list.items) == 0 {
		var zero T
		return zero, fmt.Errorf("list is empty")
	}
	lastIndex := len(list.items) - 1
	item := list.items[lastIndex]
	var zero T
	list.items[lastIndex] = zero
	list.items = list.items[:lastIndex]
	return item, nil
}

// RemoveWhere elimina el primer elemento que cumpla el predicado.
// Devuelve true si encontró alguno.
func (list *ArrayList[T]) RemoveWhere(match func(T) bool) bool {
	list.mu.Lock()
	defer list.mu.Unlock()

	for i, item := range list.items {
		if match(item) {
			list.items = append(list.items[:i], list.items[i+1:]...)
			return true
		}
	}
	return false
}

// Size devuelve el tamaño de la lista.
func (list *ArrayList[T]) Size() int {
	list.mu.RLock()
	defer list.mu.RUnlock()

	return len(list.items)
}

// ForEach a cada elemento de la lista se va a aplicar la función que le pase.
//
// Parámetros:
//   - callback: es una función que se ejecuta para cada elemento de la lista.
//
// Ejemplo
//
//	func main() {
//		ranges.ForEach(func(r *Range) {
//			fmt.Println("Base:", r.Base)
//		})
//	}
func (list *ArrayList[T]) ForEach(callback func(T)) {
	list.mu.RLock()
	defer list.mu.RUnlock()

	for _, item := range list.items {
		callback(item)
	}
}

// GetAll retorna una copia de todos los elementos que se encuentra en la lista
func (list *ArrayList[T]) GetAll() []T {
	list.mu.RLock()
	defer list.mu.RUnlock()

	// Copia del slice para evitar que modificaciones externas afecten la lista interna
	itemsCopy := make([]T, len(list.items))
	copy(itemsCopy, list.items)
	return itemsCopy
}
