package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// InitConfig lee el archivo de configuración y carga sus valores en config.
// Si el archivo no existe o no es un JSON válido, finaliza con panic.
//
// Parámetros:
//   - filePath: ubicacion donde se encuentra el archivo de configuracion
//   - config: puntero a cualquier tipo de estructura
//
// Ejemplo:
//
//	func main() {
//		config.InitConfig("kernel/configs/kernel.json", &models.KernelConfig)
//	}
func InitConfig(filePath string, config interface{}) {
	err := LoadConfig(filePath, config)
	if err != nil {
		panic(fmt.Errorf("error al configurar el archivo %s: %w", filePath, err))
	}
}

// LoadConfig hace lo mismo que InitConfig pero devuelve el error en vez de finalizar.
// Los campos desconocidos en el JSON se rechazan para detectar claves mal escritas.
func LoadConfig(filePath string, config interface{}) error {
	configFile, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer configFile.Close()

	jsonParser := json.NewDecoder(configFile)
	jsonParser.DisallowUnknownFields()

	if err := jsonParser.Decode(config); err != nil {
		return fmt.Errorf("decodificando %s: %w", filePath, err)
	}

	return nil
}
