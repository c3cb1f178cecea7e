package observe

import (
	"context"
	"testing"
)

func TestNewTraceExporter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TraceConfig
		wantNil bool
		wantErr bool
	}{
		{name: "empty", cfg: TraceConfig{}, wantNil: true},
		{name: "none", cfg: TraceConfig{Exporter: "none"}, wantNil: true},
		{name: "stdout", cfg: TraceConfig{Exporter: "Stdout"}},
		{name: "otlp", cfg: TraceConfig{Exporter: "otlp", Endpoint: "localhost:4317", Insecure: true}},
		{name: "otlp without endpoint", cfg: TraceConfig{Exporter: "otlp"}, wantErr: true},
		{name: "unknown", cfg: TraceConfig{Exporter: "zipkin"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exp, err := NewTraceExporter(context.Background(), tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if (exp == nil) != tc.wantNil {
				t.Fatalf("exporter = %v, wantNil %v", exp, tc.wantNil)
			}
			if exp != nil {
				_ = exp.Shutdown(context.Background())
			}
		})
	}
}
