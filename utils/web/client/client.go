package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/web/server"
)

// Timeout acota cada pedido. El monitor responde 503 antes de que venza si el
// kernel no atiende.
var Timeout = 5 * time.Second

// DoRequest hace un pedido HTTP a http://ip:port/query. bodies, si se pasa,
// es el body del pedido.
//
// Si el servidor responde algo distinto de 200 retorna la respuesta junto con
// un error; quien llama debe cerrar el body en ambos casos.
func DoRequest(port int, ip string, metodo string, query string, bodies ...[]byte) (*http.Response, error) {
	cliente := &http.Client{Timeout: Timeout}
	url := fmt.Sprintf("http://%s:%d/%s", ip, port, query)

	req, err := http.NewRequest(metodo, url, ifBody(bodies...))
	if err != nil {
		slog.Error(fmt.Sprintf("error creando request a ip: %s puerto: %d", ip, port))
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	respuesta, err := cliente.Do(req)
	if err != nil {
		slog.Error(fmt.Sprintf("error enviando request a ip: %s puerto: %d - %v", ip, port, err))
		return nil, err
	}

	if respuesta.StatusCode != http.StatusOK {
		errorMsg := fmt.Errorf("Status Error: %d %s", respuesta.StatusCode, http.StatusText(respuesta.StatusCode))
		slog.Error(errorMsg.Error(), "url", url)
		return respuesta, errorMsg
	}
	return respuesta, nil
}

// GetJson hace un GET y decodifica la respuesta en target. Si el servidor
// responde un ErrorResponse, su mensaje forma parte del error.
func GetJson(port int, ip string, query string, target any) error {
	response, err := DoRequest(port, ip, http.MethodGet, query)
	if response != nil {
		defer response.Body.Close()
	}

	if err != nil {
		if response == nil {
			return err
		}
		var failure server.ErrorResponse
		if body, readErr := io.ReadAll(response.Body); readErr == nil && json.Unmarshal(body, &failure) == nil && failure.Error != "" {
			return fmt.Errorf("%w: %s", err, failure.Error)
		}
		return err
	}

	return json.NewDecoder(response.Body).Decode(target)
}

func ifBody(bodies ...[]byte) io.Reader {
	if len(bodies) == 0 {
		return nil
	}
	return bytes.NewBuffer(bodies[0])
}
