// Package telemetry streams electrical and environmental readings to
// InfluxDB so fleet energy use can be graphed and alerted on outside
// this library.
//
// Writes are non-blocking: the underlying client batches points and
// flushes them asynchronously, so recording a sample never stalls a
// command path. Telemetry is optional; the manager only emits points
// when a writer is configured.
package telemetry
