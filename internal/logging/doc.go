// Package logging assembles structured slog loggers and formatting helpers used
// across parcel services.
//
// It owns the console/JSON handlers, centralizes level and output plumbing, and
// exposes context-aware helpers so workers and HTTP handlers can tag log lines
// with bundle IDs, chunk indices, and correlation IDs. The package also provides
// a no-op logger for tests and wiring code that cannot fail.
package logging
