// Package tracing instala o TracerProvider do OpenTelemetry usado pelo publisher.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const ServiceName = "smartdrop"

// Setup instala o provider global conforme o exporter:
//   - "": mantém o provider no-op
//   - "stdout": spans em JSON no writer (os.Stdout se nil)
//
// O shutdown devolvido descarrega os spans pendentes e restaura o provider anterior.
func Setup(exporter string, w io.Writer) (func(context.Context) error, error) {
	switch exporter {
	case "":
		return func(context.Context) error { return nil }, nil
	case "stdout":
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", exporter)
	}

	if w == nil {
		w = os.Stdout
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdouttrace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
		)),
	)
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		otel.SetTracerProvider(previous)
		return tp.Shutdown(ctx)
	}, nil
}
