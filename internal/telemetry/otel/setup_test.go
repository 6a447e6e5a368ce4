package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, Options{Endpoint: endpoint})
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatal("providers should all be set")
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("shutdown should be no-op, got %v", err)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("second shutdown: %v", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	testCases := []struct {
		name     string
		endpoint string
	}{
		{"invalid characters", "://invalid"},
		{"malformed URL", "http://[invalid"},
		{"missing host", "http://"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewProviders(context.Background(), Options{Endpoint: tc.endpoint}); err == nil {
				t.Errorf("NewProviders(%q) should return error", tc.endpoint)
			}
		})
	}
}

func TestGRPCTarget(t *testing.T) {
	testCases := []struct {
		endpoint     string
		wantTarget   string
		wantInsecure bool
	}{
		{"localhost:4317", "localhost:4317", true},
		{"http://collector:4317", "collector:4317", true},
		{"https://collector:4317", "collector:4317", false},
		{"http://collector:4317/v1/traces", "collector:4317", true},
		{"http://collector:4317?param=value", "collector:4317", true},
	}
	for _, tc := range testCases {
		t.Run(tc.endpoint, func(t *testing.T) {
			target, insecure, err := grpcTarget(tc.endpoint)
			if err != nil {
				t.Fatalf("grpcTarget: %v", err)
			}
			if target != tc.wantTarget || insecure != tc.wantInsecure {
				t.Errorf("grpcTarget(%q) = %q, %v; want %q, %v", tc.endpoint, target, insecure, tc.wantTarget, tc.wantInsecure)
			}
		})
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource("", "staging")
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs[string(semconv.ServiceNameKey)] != DefaultServiceName {
		t.Errorf("service.name = %q, want %q", attrs[string(semconv.ServiceNameKey)], DefaultServiceName)
	}
	if attrs[string(semconv.DeploymentEnvironmentNameKey)] != "staging" {
		t.Errorf("deployment.environment.name = %q", attrs[string(semconv.DeploymentEnvironmentNameKey)])
	}

	res, err = newResource("license-worker", "")
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	for _, kv := range res.Attributes() {
		if kv.Key == semconv.DeploymentEnvironmentNameKey {
			t.Error("environment attribute should be omitted when empty")
		}
		if kv.Key == semconv.ServiceNameKey && kv.Value.AsString() != "license-worker" {
			t.Errorf("service.name = %q", kv.Value.AsString())
		}
	}
}

func TestSetGlobal_PartialProviders(t *testing.T) {
	ctx := context.Background()
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(ctx) }()

	oldTracerProvider := otel.GetTracerProvider()
	oldMeterProvider := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTracerProvider)
		otel.SetMeterProvider(oldMeterProvider)
	}()

	(&Providers{TracerProvider: tp}).SetGlobal()

	if otel.GetTracerProvider() != tp {
		t.Error("TracerProvider should be updated")
	}
	if otel.GetMeterProvider() != oldMeterProvider {
		t.Error("MeterProvider should not be updated when nil")
	}
}
