package tracing

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := Init(context.Background(), Options{}, nil)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Error("disabled Init replaced the global provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestInit_WritesSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Options{Enabled: true, Writer: &buf, SampleRatio: 1}, nil)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "cloud.put")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"Name":"cloud.put"`) {
		t.Errorf("span not exported:\n%s", out)
	}
	if !strings.Contains(out, ServiceName) {
		t.Errorf("service name missing from resource:\n%s", out)
	}
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "spans.json")
	shutdown, err := Init(context.Background(), Options{Enabled: true, File: path, SampleRatio: 1}, nil)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "secondary.create")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "secondary.create") {
		t.Errorf("trace file missing span:\n%s", data)
	}
}

func TestInit_ZeroRatioDropsRootSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Options{Enabled: true, Writer: &buf}, nil)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "cloud.fetch_all")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("unsampled span exported:\n%s", buf.String())
	}
}

func TestClampRatio(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0.25: 0.25, 3: 1} {
		if got := clampRatio(in); got != want {
			t.Errorf("clampRatio(%v) = %v, want %v", in, got, want)
		}
	}
}
