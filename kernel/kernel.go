package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	kernelHandler "github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/handlers"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/models"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/kernel/services"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/config"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/log"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/web/handlers"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/web/server"
)

const (
	ConfigPath = "kernel/configs/kernel.json"
	LogPath    = "./logs/kernel.log"
)

func main() {
	configPath := ConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	config.InitConfig(configPath, &models.KernelConfig)
	if err := os.MkdirAll(filepath.Dir(LogPath), 0755); err != nil {
		panic(err)
	}
	log.InitLogger(LogPath, models.KernelConfig.LogLevel)

	kernel, err := services.Boot(models.KernelConfig)
	if err != nil {
		slog.Error(fmt.Sprintf("No se pudo iniciar el kernel: %v", err))
		os.Exit(1)
	}

	workload := services.NewWorkload(kernel, models.KernelConfig.Workers)
	if err := workload.Start(); err != nil {
		slog.Error(fmt.Sprintf("No se pudo iniciar la carga: %v", err))
		os.Exit(1)
	}

	/* ----------> ENDPOINTS <----------*/
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", handlers.HandshakeHandler("Bienvenido al módulo de Kernel"))
	mux.HandleFunc("GET /kernel", handlers.HandshakeHandler("Kernel en funcionamiento 🚀"))
	kernelHandler.NewMonitor(kernel, kernelHandler.DefaultTimeout).Register(mux)

	go func() {
		slog.Debug(fmt.Sprintf("Port Kernel: %d", models.KernelConfig.PortKernel))
		if err := server.InitServer(models.KernelConfig.PortKernel, mux); err != nil {
			kernel.Shutdown()
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		kernel.Shutdown()
	}()

	if err := kernel.StartTimer(); err != nil {
		slog.Error(fmt.Sprintf("No se pudo iniciar el timer: %v", err))
		os.Exit(1)
	}

	// El flujo principal es el hilo idle hasta que el kernel se detiene.
	kernel.Threads.Idle()
	slog.Info("Contador final de la carga", "contador", workload.Counter())
}
