// Package preflight provides readiness checks for the directories, buckets,
// and optional services parcel depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failure, so a
//     misconfigured bucket shows up before the first bundle is claimed.
//   - The CLI "parcel check" command prints the same results as a table.
//
// Each check is gated by its config value -- unconfigured services are skipped.
package preflight
