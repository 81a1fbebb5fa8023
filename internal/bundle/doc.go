// Package bundle persists download bundles and their chunk plans in SQLite and
// exposes the atomic operations that drive a bundle's lifecycle.
//
// Every mutating call runs in a single transaction: Create stores the request
// together with its chunk plan, ApplyChunkEvent settles one chunk and updates
// the counters, Revoke stamps revocation, and FailTimedOut is the supervisory
// override for bundles that stopped making progress. Chunk completion is
// set-based (a chunk row moves from pending to a settled state at most once),
// so duplicate or out-of-order events never double count.
//
// Expired is never stored. Callers derive it from ExpiresAt through
// Request.EffectiveStatus so no background job races the clock.
//
// Schema changes bump schemaVersion in schema.go; operators clear the database
// to adopt the new schema.
package bundle
