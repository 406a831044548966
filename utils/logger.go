package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// IDArranque identifica la ejecución actual en todas las líneas de log
var IDArranque = uuid.NewString()

var (
	InfoLog  = slog.New(slog.NewTextHandler(os.Stdout, nil))
	ErrorLog = InfoLog
)

// InicializarLogger configura los loggers globales
func InicializarLogger(logLevel string, moduleName string) {
	InicializarLoggerEn(os.Stdout, logLevel, moduleName)
}

// InicializarLoggerEn configura los loggers globales escribiendo en w
func InicializarLoggerEn(w io.Writer, logLevel string, moduleName string) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: NivelLog(logLevel),
	})

	logger := slog.New(handler).With("modulo", moduleName, "arranque", IDArranque)

	InfoLog = logger
	ErrorLog = logger
}

// NivelLog traduce el nivel de la configuración; por defecto info
func NivelLog(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
