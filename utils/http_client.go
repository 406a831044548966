package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Mensaje es el sobre JSON que viaja por /mensaje
type Mensaje struct {
	Tipo      int         `json:"tipo"`
	Operacion string      `json:"operacion"`
	Origen    string      `json:"origen"`
	Datos     interface{} `json:"datos"`
}

// Salud es la respuesta de /health
type Salud struct {
	Status   string `json:"status"`
	Modulo   string `json:"module"`
	Arranque string `json:"arranque"`
}

// ErrorHTTP es una respuesta con código distinto de 200
type ErrorHTTP struct {
	Codigo int
	Cuerpo string
}

func (e *ErrorHTTP) Error() string {
	return fmt.Sprintf("respuesta HTTP no exitosa: %d - %s", e.Codigo, e.Cuerpo)
}

// HTTPClient habla con el servidor de mensajes de otro módulo
type HTTPClient struct {
	BaseURL string
	Nombre  string
	client  *http.Client
}

// NewHTTPClient crea un cliente contra ip:puerto
func NewHTTPClient(ip string, puerto int, nombre string) *HTTPClient {
	return NewHTTPClientURL(fmt.Sprintf("http://%s:%d", ip, puerto), nombre)
}

// NewHTTPClientURL crea un cliente contra una URL base ya armada
func NewHTTPClientURL(baseURL string, nombre string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Nombre:  nombre,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// EnviarHTTPMensaje manda un mensaje de tipo y operación dados y decodifica la respuesta
// en destino (si no es nil). Un código distinto de 200 vuelve como *ErrorHTTP.
func (c *HTTPClient) EnviarHTTPMensaje(ctx context.Context, tipo int, operacion string, datos, destino interface{}) error {
	cuerpo, err := json.Marshal(Mensaje{Tipo: tipo, Operacion: operacion, Origen: c.Nombre, Datos: datos})
	if err != nil {
		return fmt.Errorf("error al serializar mensaje: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/mensaje", bytes.NewReader(cuerpo))
	if err != nil {
		return fmt.Errorf("error armando pedido: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error al enviar mensaje %d/%s: %w", tipo, operacion, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		texto, _ := io.ReadAll(resp.Body)
		return &ErrorHTTP{Codigo: resp.StatusCode, Cuerpo: string(bytes.TrimSpace(texto))}
	}
	if destino == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(destino); err != nil {
		return fmt.Errorf("error al decodificar respuesta: %w", err)
	}
	return nil
}

// VerificarConexion consulta /health del módulo remoto
func (c *HTTPClient) VerificarConexion(ctx context.Context) (Salud, error) {
	var salud Salud
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return salud, fmt.Errorf("error armando pedido: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return salud, fmt.Errorf("error al verificar conexión con %s: %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return salud, &ErrorHTTP{Codigo: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(&salud); err != nil {
		return salud, fmt.Errorf("error al decodificar respuesta de verificación: %w", err)
	}

	InfoLog.Debug("Conexión verificada", "destino", c.BaseURL, "módulo", salud.Modulo, "arranque", salud.Arranque)
	return salud, nil
}
