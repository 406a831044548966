package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrFormatoConfig indica una extensión de configuración desconocida
var ErrFormatoConfig = errors.New("formato de configuración no soportado")

// CargarConfiguracion decodifica el archivo en ruta según su extensión (.json, .yaml, .yml)
func CargarConfiguracion[T any](ruta string) (*T, error) {
	InfoLog.Info("Cargando configuración", "ruta", ruta)

	absPath, err := filepath.Abs(ruta)
	if err != nil {
		return nil, fmt.Errorf("error obteniendo ruta absoluta de %s: %w", ruta, err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("error abriendo archivo de configuración: %w", err)
	}
	defer file.Close()

	var config T
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".json":
		decoder := json.NewDecoder(file)
		decoder.DisallowUnknownFields()
		err = decoder.Decode(&config)
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		err = decoder.Decode(&config)
	default:
		return nil, fmt.Errorf("%w: %s", ErrFormatoConfig, absPath)
	}
	if err != nil {
		return nil, fmt.Errorf("error decodificando %s: %w", absPath, err)
	}

	InfoLog.Info("Configuración cargada correctamente", "archivo", absPath)
	return &config, nil
}
