// Package api is the application façade shared by the HTTP server and the
// CLI. It turns bundle records into transport-friendly DTOs and runs the
// operator operations (create, describe, list, revoke, stats) plus the public
// poll.
//
// # Key Types
//
// Bundle / BundleDetail: transport representation of a bundle and its chunks,
// with the effective status (revocation and expiry folded in) and advisory
// progress figures.
//
// WorkflowStatus / DaemonStatus: daemon running state, bundle counts, and
// dependency health.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds in
// UTC. Delivery polls return delivery.Snapshot unchanged so the public
// contract lives in one place.
package api
