// Package workflow drives bundles from pending to ready.
//
// The Manager polls the bundle store for work, claims up to
// max_concurrent_bundles bundles at a time, and for each one runs the
// remaining chunks on the shared worker pool, finalizes the archive once every
// chunk completed, and publishes lifecycle notifications. Bundles interrupted
// by a shutdown stay in their processing status and resume from their pending
// chunks on the next start.
//
// The Sweeper is the supervisory timeout: it fails chunking and assembling
// bundles that made no progress within the hard ceiling and releases their
// staged segments.
package workflow
