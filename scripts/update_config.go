package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Para su uso se debe posicionar en la carpeta scripts
// > ./update_config port_kernel 8002
// > ./update_config heap_backing none tlb_replacement FIFO timer_hz 250
// > ./update_config log_level DEBUG

func main() {
	// Verificar que se pasen argumentos en pares: clave1 valor1 clave2 valor2 ...
	if len(os.Args) < 3 || len(os.Args)%2 != 1 {
		fmt.Println("Uso: update_config <clave_1> <valor_1> [<clave_2> <valor_2> ...]")
		fmt.Println("Ejemplo: update_config port_kernel 8002 heap_backing none")
		return
	}

	updates := parseUpdates(os.Args[1:])

	fmt.Println("Valores a actualizar:")
	for _, key := range sortedKeys(updates) {
		fmt.Printf("  %s: %v\n", key, updates[key])
	}

	configPath := filepath.Join("..", "kernel", "configs")
	fmt.Printf("\nProcesando configuraciones en %s\n", configPath)

	err := filepath.Walk(configPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			fmt.Printf("  Error al acceder %s: %v\n", path, err)
			return nil
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		modified, err := updateConfigFile(path, updates)
		switch {
		case err != nil:
			fmt.Printf("  Error en el archivo %s: %v\n", path, err)
		case len(modified) == 0:
			fmt.Printf("  No se encontraron claves a actualizar en %s.\n", path)
		default:
			for _, key := range modified {
				fmt.Printf("    Modificada '%s' en %s a '%v'\n", key, path, updates[key])
			}
			fmt.Printf("  El archivo %s ha sido actualizado correctamente.\n", path)
		}
		return nil
	})
	if err != nil {
		fmt.Printf("Error al buscar archivos en la carpeta %s: %v\n", configPath, err)
	}

	fmt.Println("\nProceso de actualización de configuraciones finalizado.")
}

// parseUpdates arma el mapa clave -> valor. Cada valor se interpreta como
// JSON (números, booleanos, listas) y si no lo es queda como string.
func parseUpdates(args []string) map[string]interface{} {
	updates := make(map[string]interface{})
	for i := 0; i+1 < len(args); i += 2 {
		var parsedValue interface{}
		if err := json.Unmarshal([]byte(args[i+1]), &parsedValue); err != nil {
			parsedValue = args[i+1]
		}
		updates[args[i]] = parsedValue
	}
	return updates
}

// updateConfigFile pisa en el archivo sólo las claves que ya existen y
// devuelve cuáles cambió.
func updateConfigFile(path string, updates map[string]interface{}) ([]string, error) {
	fileContent, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var data map[string]interface{}
	if err := json.Unmarshal(fileContent, &data); err != nil {
		return nil, fmt.Errorf("JSON inválido: %w", err)
	}

	var modified []string
	for _, key := range sortedKeys(updates) {
		if _, ok := data[key]; ok {
			data[key] = updates[key]
			modified = append(modified, key)
		}
	}
	if len(modified) == 0 {
		return nil, nil
	}

	newJSON, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, err
	}
	return modified, os.WriteFile(path, newJSON, 0644)
}

func sortedKeys(updates map[string]interface{}) []string {
	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
