package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
)

// HTTPHandlerFunc atiende un tipo de mensaje y devuelve lo que se responde como JSON
type HTTPHandlerFunc func(*Mensaje) (interface{}, error)

// HTTPServer es el servidor de mensajes de un módulo
type HTTPServer struct {
	IP     string
	Puerto int
	Nombre string
	// Listener, si no es nil, se usa en lugar de escuchar en IP:Puerto
	Listener net.Listener

	mu       sync.Mutex
	server   *http.Server
	handlers map[int]HTTPHandlerFunc
}

// NewHTTPServer crea un servidor sin handlers
func NewHTTPServer(ip string, puerto int, nombre string) *HTTPServer {
	return &HTTPServer{
		IP:       ip,
		Puerto:   puerto,
		Nombre:   nombre,
		handlers: make(map[int]HTTPHandlerFunc),
	}
}

// RegisterHTTPHandler asocia un handler a un tipo de mensaje
func (s *HTTPServer) RegisterHTTPHandler(tipoMensaje int, handler HTTPHandlerFunc) {
	s.handlers[tipoMensaje] = handler
}

func responderJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ErrorLog.Error("Error codificando respuesta", "error", err)
	}
}

// Handler arma el mux con /mensaje y /health
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /mensaje", func(w http.ResponseWriter, r *http.Request) {
		var mensaje Mensaje
		if err := json.NewDecoder(r.Body).Decode(&mensaje); err != nil {
			http.Error(w, fmt.Sprintf("Error decodificando mensaje: %v", err), http.StatusBadRequest)
			return
		}

		handler, ok := s.handlers[mensaje.Tipo]
		if !ok {
			http.Error(w, fmt.Sprintf("No hay manejador para el tipo de mensaje %d", mensaje.Tipo), http.StatusBadRequest)
			return
		}

		respuesta, err := handler(&mensaje)
		if err != nil {
			ErrorLog.Error("Error atendiendo mensaje", "tipo", mensaje.Tipo, "operacion", mensaje.Operacion, "origen", mensaje.Origen, "error", err)
			http.Error(w, fmt.Sprintf("Error en el manejador: %v", err), http.StatusInternalServerError)
			return
		}
		responderJSON(w, respuesta)
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		responderJSON(w, Salud{Status: "ok", Modulo: s.Nombre, Arranque: IDArranque})
	})

	return mux
}

// Start sirve hasta Shutdown, que hace volver http.ErrServerClosed
func (s *HTTPServer) Start() error {
	s.mu.Lock()
	srv := &http.Server{Handler: s.Handler()}
	s.server = srv
	s.mu.Unlock()

	if s.Listener != nil {
		InfoLog.Info("Servidor HTTP escuchando", "módulo", s.Nombre, "dirección", s.Listener.Addr().String())
		return srv.Serve(s.Listener)
	}

	srv.Addr = fmt.Sprintf("%s:%d", s.IP, s.Puerto)
	InfoLog.Info("Servidor HTTP escuchando", "módulo", s.Nombre, "dirección", srv.Addr)
	return srv.ListenAndServe()
}

// Shutdown detiene el servidor esperando las conexiones en curso
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
