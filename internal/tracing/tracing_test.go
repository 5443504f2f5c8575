package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/matheus3301/handychat/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestSetupNoneIsNoop(t *testing.T) {
	p, err := Setup(context.Background(), config.TracingConfig{Exporter: ExporterNone}, "handychat", nil, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))

	_, span := StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
}

func TestSetupUnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracingConfig{Exporter: "jaeger"}, "handychat", nil, nil)
	assert.Error(t, err)
}

func TestStdoutExporterWritesSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	p, err := Setup(context.Background(), config.TracingConfig{Exporter: ExporterStdout, SampleRate: 1}, "handychat-test", &buf, nil)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "outbox.send", attribute.String("client_id", "local-1"))
	End(span, errors.New("upload failed"))
	require.NoError(t, p.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "outbox.send")
	assert.Contains(t, out, "local-1")
	assert.Contains(t, out, "upload failed")
}
