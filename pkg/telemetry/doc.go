// Package telemetry provides structured logging, execution metrics, and
// tracing for the workflow engine.
//
// Logging wraps zerolog with component child loggers and context
// propagation. Metrics are collected on a dedicated Prometheus registry so
// they can be dumped at the end of a run. Tracing uses OpenTelemetry with
// a stdout exporter intended for debugging.
package telemetry
