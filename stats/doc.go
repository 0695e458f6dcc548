// Package stats counts what the fleet client does: commands per
// transport, pushes received and consumed, rate limiter verdicts, and
// broker reconnects.
//
// Counters are plain atomics so reading them is always cheap; when a
// prometheus.Registerer is supplied the same counts are exported as
// Prometheus metrics for scraping.
package stats
