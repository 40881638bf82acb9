package tracing

import (
	"context"
	"strings"
	"testing"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got: %v", err)
	}
	if provider == nil {
		t.Fatal("expected provider to be non-nil")
	}

	// A tracer must still be usable when export is off.
	tracer := provider.Tracer("test")
	if tracer == nil {
		t.Fatal("expected tracer to be non-nil")
	}
	_, span := tracer.Start(context.Background(), "noop")
	span.End()

	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewProvider_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectedErr string
	}{
		{
			name: "missing service name",
			config: Config{
				Enabled:  true,
				Endpoint: "localhost:4317",
			},
			expectedErr: "service name is required",
		},
		{
			name: "missing endpoint",
			config: Config{
				Enabled:     true,
				ServiceName: "relayq",
			},
			expectedErr: "collector endpoint is required",
		},
		{
			name: "negative sample rate",
			config: Config{
				Enabled:     true,
				ServiceName: "relayq",
				Endpoint:    "localhost:4317",
				SampleRate:  -0.1,
			},
			expectedErr: "sample rate must be between 0 and 1",
		},
		{
			name: "sample rate above one",
			config: Config{
				Enabled:     true,
				ServiceName: "relayq",
				Endpoint:    "localhost:4317",
				SampleRate:  1.5,
			},
			expectedErr: "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tt.config)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.expectedErr) {
				t.Errorf("expected error containing %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

func TestProviderShutdown_NilSafe(t *testing.T) {
	var provider *Provider
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil provider shutdown to succeed, got: %v", err)
	}
}
