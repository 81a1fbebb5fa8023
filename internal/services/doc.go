// Package services defines shared utilities consumed by the planner, workers,
// access gate, and HTTP layer.
//
// Key responsibilities:
//   - Context helpers that stamp bundle IDs, chunk indices, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that let callers classify
//     failures (planning, transient, permanent, access, timeout, unavailable)
//     with errors.Is instead of string matching.
package services
