// Package tracing envuelve OpenTelemetry para registrar spans del kernel y del pager.
// Sin inicializar, los spans no hacen nada.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const nombreTracer = "github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes"

var (
	providerOnce sync.Once
	providerErr  error
	provider     *sdktrace.TracerProvider
)

// Inicializar exporta los spans en formato JSON al archivo indicado (stdout si está vacío).
// Devuelve la función que vacía el exportador y cierra el archivo.
func Inicializar(servicio, version, archivo string) (func(context.Context) error, error) {
	var w io.Writer = os.Stdout
	var f *os.File
	if archivo != "" {
		var err error
		f, err = os.Create(archivo)
		if err != nil {
			return nil, fmt.Errorf("error creando archivo de trazas: %w", err)
		}
		w = f
	}

	exportador, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("error creando exportador de trazas: %w", err)
	}
	if err := InicializarConExportador(servicio, version, exportador); err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		err := provider.Shutdown(ctx)
		if f != nil {
			if errCierre := f.Close(); err == nil {
				err = errCierre
			}
		}
		return err
	}, nil
}

// InicializarConExportador instala el proveedor global con exportador. Sólo vale la primera llamada.
func InicializarConExportador(servicio, version string, exportador sdktrace.SpanExporter) error {
	providerOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", servicio),
				attribute.String("service.version", version),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exportador)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	})
	return providerErr
}

// Span envuelve un span de OpenTelemetry
type Span struct {
	span trace.Span
}

// ConAtributos agrega atributos enteros al span
func (s *Span) ConAtributos(attrs map[string]int) *Span {
	if s == nil || len(attrs) == 0 {
		return s
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.Int(k, v))
	}
	s.span.SetAttributes(kvs...)
	return s
}

// Evento registra un evento con nombre dentro del span
func (s *Span) Evento(nombre string, attrs map[string]int) {
	if s == nil {
		return
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.Int(k, v))
	}
	s.span.AddEvent(nombre, trace.WithAttributes(kvs...))
}

// IniciarSpan abre un span hijo del que haya en ctx
func IniciarSpan(ctx context.Context, nombre string) (context.Context, *Span) {
	ctx, span := otel.Tracer(nombreTracer).Start(ctx, nombre, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, &Span{span: span}
}

// FinalizarSpan cierra el span marcando error u ok
func FinalizarSpan(sp *Span, err error) {
	if sp == nil {
		return
	}
	if err != nil {
		sp.span.RecordError(err)
		sp.span.SetStatus(codes.Error, err.Error())
	} else {
		sp.span.SetStatus(codes.Ok, "")
	}
	sp.span.End()
}
