// Package daemon coordinates the long-running parcel process.
//
// It wires configuration, the bundle store, the workflow manager, and the
// timeout sweeper into a single lifecycle with flock-based locking to prevent
// multiple instances. The daemon also serves the HTTP surface: admin routes
// for creating, inspecting, and revoking bundles, and the public delivery
// routes pollers use to watch a link and download its archive.
//
// Keep orchestration logic here: bundle processing lives in workflow and the
// bundle operations live in api, while the daemon focuses on startup,
// shutdown, and transport.
package daemon
