package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansExportados(t *testing.T) {
	exportador := tracetest.NewInMemoryExporter()
	require.NoError(t, InicializarConExportador("kernel", "test", exportador))

	ctx, padre := IniciarSpan(context.Background(), "kernel.arranque")
	_, hijo := IniciarSpan(ctx, "pager.fallo")
	hijo.ConAtributos(map[string]int{"asid": 2, "marco": 3})
	hijo.Evento("desalojo", map[string]int{"victima": 1})
	FinalizarSpan(hijo, errors.New("flash"))
	FinalizarSpan(padre, nil)

	spans := exportador.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "pager.fallo", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	assert.Len(t, spans[0].Events, 2, "desalojo más el error registrado")
	assert.Equal(t, codes.Ok, spans[1].Status.Code)

	FinalizarSpan(nil, nil)
	var sp *Span
	assert.Nil(t, sp.ConAtributos(map[string]int{"x": 1}))
}
