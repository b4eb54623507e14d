package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartEnd(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	defer otel.SetTracerProvider(prev)

	_, span := Start(context.Background(), "memory.index", Session("wxid_a"))
	End(span, errors.New("boom"))
	_, span = Start(context.Background(), "memory.query")
	End(span, nil)

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "memory.index" || spans[0].Status().Code != codes.Error {
		t.Errorf("first span = %s %v", spans[0].Name(), spans[0].Status())
	}
	if got := spans[0].Attributes(); len(got) != 1 || got[0].Value.AsString() != "wxid_a" {
		t.Errorf("attributes = %v", got)
	}
	if spans[1].Status().Code == codes.Error {
		t.Error("second span should not be an error")
	}
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetupUnknownProtocol(t *testing.T) {
	if _, err := Setup(context.Background(), Config{Endpoint: "localhost:4318", Protocol: "udp"}); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}
