// Package logging provides structured logging for the client and its
// daemon.
//
// It wraps log/slog with configuration-driven level filtering, output
// format selection and default fields. Every other package in the
// module accepts any logger with Debug/Info/Warn/Error methods, so a
// *Logger from this package plugs in everywhere.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("starting", "mode", cfg.Transport.Mode)
//
//	mqttLog := log.With("component", "mqtt")
package logging
