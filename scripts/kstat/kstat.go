package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/handlers"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/frame"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/web/client"
)

// Muestra el estado de un kernel en ejecución a través del monitor.
// > ./kstat
// > ./kstat 127.0.0.1 8001
// > ./kstat 127.0.0.1 8001 0x100000

func main() {
	ip := "127.0.0.1"
	port := 8001
	if len(os.Args) > 1 {
		ip = os.Args[1]
	}
	if len(os.Args) > 2 {
		parsed, err := strconv.Atoi(os.Args[2])
		if err != nil {
			fmt.Printf("Puerto inválido: %s\n", os.Args[2])
			os.Exit(1)
		}
		port = parsed
	}

	var threads []models.ThreadInfo
	if err := client.GetJson(port, ip, "kernel/threads", &threads); err != nil {
		fmt.Printf("No se pudo consultar el kernel: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Hilos:")
	for _, thread := range threads {
		fmt.Printf("  (%d) %-20s %-8s prioridad %d  pila %#x  esp %#x\n",
			thread.ID, thread.Name, thread.State, thread.Priority, thread.StackBase, thread.ESP)
	}

	var ready []models.ThreadInfo
	if err := client.GetJson(port, ip, "kernel/ready", &ready); err == nil {
		fmt.Print("\nCola de listos:")
		for _, thread := range ready {
			fmt.Printf(" %d", thread.ID)
		}
		fmt.Println()
	}

	var frames frame.Stats
	if err := client.GetJson(port, ip, "memoria/frames", &frames); err == nil {
		fmt.Printf("\nFrames: %d libres, %d usados, %d en total\n", frames.Free, frames.Used, frames.Total)
	}

	var heap handlers.HeapResponse
	if err := client.GetJson(port, ip, "memoria/heap", &heap); err == nil {
		fmt.Printf("Heap: %d páginas libres en %d rangos, %d usadas en %d rangos\n",
			heap.Stats.FreePages, heap.Stats.FreeRanges, heap.Stats.UsedPages, heap.Stats.UsedRanges)
	}

	if len(os.Args) > 3 {
		var translation handlers.TranslationResponse
		if err := client.GetJson(port, ip, "memoria/traducir?vaddr="+os.Args[3], &translation); err != nil {
			fmt.Printf("\nNo se pudo traducir %s: %v\n", os.Args[3], err)
			return
		}
		fmt.Printf("\n%#x -> %#x\n", translation.Vaddr, translation.Paddr)
	}
}
