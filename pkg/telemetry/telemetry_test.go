package telemetry

import (
	"context"
	"strings"
	"testing"
)

func TestNewLogger_FileOutput(t *testing.T) {
	cfg := LoggingConfig{Level: "debug", Format: "json", Output: t.TempDir() + "/log.json"}

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Info("hello")
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger := NewNop()
	ctx := logger.WithContext(context.Background())

	if got := FromContext(ctx); got != logger {
		t.Error("FromContext did not return the stored logger")
	}
	// Missing logger falls back to a usable no-op.
	FromContext(context.Background()).Info("ignored")
}

func TestMetrics_Dump(t *testing.T) {
	m := NewMetrics()
	m.JobsExecuted.Inc()
	m.JobsExecuted.Inc()
	m.JobsFailed.Inc()
	m.JobDuration.Observe(1.5)

	dump, err := m.Dump()
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	if !strings.Contains(dump, "dentist_workflow_jobs_executed_total 2") {
		t.Errorf("dump missing executed counter:\n%s", dump)
	}
	if !strings.Contains(dump, "dentist_workflow_jobs_failed_total 1") {
		t.Errorf("dump missing failed counter:\n%s", dump)
	}
}

func TestInitTracing_Disabled(t *testing.T) {
	tracing, err := InitTracing(TracingConfig{})
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}

	// No-op tracing still hands out usable tracers.
	_, span := tracing.Tracer("test").Start(context.Background(), "noop")
	span.End()

	if err := tracing.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
