package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Modulo representa un módulo del sistema con su servidor de mensajes
type Modulo struct {
	Nombre      string
	Server      *HTTPServer
	HandlerFunc map[string]map[string]HTTPHandlerFunc
}

// NuevoModulo crea una nueva instancia de un módulo
func NuevoModulo(nombre string) *Modulo {
	return &Modulo{
		Nombre:      nombre,
		HandlerFunc: make(map[string]map[string]HTTPHandlerFunc),
	}
}

// RegistrarHandler registra un handler para un tipo de mensaje y operación específicos
func (m *Modulo) RegistrarHandler(tipo int, operacion string, handler HTTPHandlerFunc) {
	clave := strconv.Itoa(tipo)
	if _, existe := m.HandlerFunc[clave]; !existe {
		m.HandlerFunc[clave] = make(map[string]HTTPHandlerFunc)
	}
	m.HandlerFunc[clave][operacion] = handler
}

// PrepararServidor crea el servidor HTTP del módulo con los handlers registrados
func (m *Modulo) PrepararServidor(ip string, puerto int) *HTTPServer {
	m.Server = NewHTTPServer(ip, puerto, m.Nombre)

	for tipoStr, handlersPorOperacion := range m.HandlerFunc {
		handlersPorOperacion := handlersPorOperacion
		tipo, err := strconv.Atoi(tipoStr)
		if err != nil {
			ErrorLog.Error("Error al convertir tipo de mensaje a entero", "tipo", tipoStr, "error", err)
			continue
		}

		m.Server.RegisterHTTPHandler(tipo, func(msg *Mensaje) (interface{}, error) {
			operacion := msg.Operacion
			if operacion == "" {
				operacion = "default"
			}

			handler, existe := handlersPorOperacion[operacion]
			if !existe {
				handler, existe = handlersPorOperacion["default"]
				if !existe {
					ErrorLog.Error("No hay handler para operación", "tipo", tipo, "operacion", operacion)
					return nil, fmt.Errorf("no hay handler para operación %s", operacion)
				}
			}

			return handler(msg)
		})
	}
	return m.Server
}

// IniciarServidor levanta el servidor en segundo plano. Los errores de arranque llegan por el canal.
func (m *Modulo) IniciarServidor(ip string, puerto int) <-chan error {
	srv := m.PrepararServidor(ip, puerto)
	errs := make(chan error, 1)

	go func() {
		err := srv.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			ErrorLog.Error("Error al iniciar servidor HTTP", "error", err)
			errs <- err
		}
		close(errs)
	}()

	InfoLog.Info("Servidor HTTP iniciado", "módulo", m.Nombre, "dirección", fmt.Sprintf("%s:%d", ip, puerto))
	return errs
}

// DetenerServidor cierra el servidor del módulo si estaba levantado
func (m *Modulo) DetenerServidor(ctx context.Context) error {
	if m.Server == nil {
		return nil
	}
	return m.Server.Shutdown(ctx)
}

// ============================================================================
// Constantes para tipos de mensajes entre módulos
// ============================================================================
const (
	// === COMUNICACIÓN BÁSICA (1-9) ===
	MensajeHandshake = 1 // Conexión inicial
	MensajeOperacion = 2 // Operaciones genéricas

	// === CONSULTAS AL KERNEL (40-49) ===
	MensajeEstadoKernel = 40 // Resumen del planificador
)

// Operaciones de MensajeEstadoKernel
const (
	OperacionResumen = "resumen"
	OperacionSwap    = "swap"
)
