package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// ErrorResponse es el cuerpo JSON de una respuesta fallida. Code lleva el
// código de estado del kernel cuando el error viene de una operación.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"codigo,omitempty"`
}

// InitServer levanta el servidor HTTP en port con handler. Si handler es nil
// se usa http.DefaultServeMux. Sólo retorna cuando el servidor deja de escuchar.
//
// Ejemplo:
//
//	mux := http.NewServeMux()
//	monitor.Register(mux)
//	if err := server.InitServer(8001, mux); err != nil {
//		kernel.Shutdown()
//	}
func InitServer(port int, handler http.Handler) error {
	addr := ":" + strconv.Itoa(port)
	slog.Debug(fmt.Sprintf("Escuchando en %s", addr))

	err := http.ListenAndServe(addr, handler)
	if err != nil {
		slog.Error(fmt.Sprintf("Error al escuchar en el puerto %s", addr), "error", err)
	}
	return err
}

// SendJsonResponse escribe data como JSON con el código HTTP statusCode.
func SendJsonResponse(writer http.ResponseWriter, statusCode int, data any) {
	response, err := json.Marshal(data)
	if err != nil {
		slog.Error("Error al convertir datos a JSON", "error", err)
		http.Error(writer, "Error al convertir datos a JSON", http.StatusInternalServerError)
		return
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	writer.Write(response)
}

// SendJsonError responde un ErrorResponse. code es el código de estado del
// kernel (0 si no aplica).
func SendJsonError(writer http.ResponseWriter, statusCode int, message string, code int) {
	SendJsonResponse(writer, statusCode, ErrorResponse{Error: message, Code: code})
}
