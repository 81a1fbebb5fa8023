// Package config loads, normalizes, and validates parcel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// PARCEL_API_TOKEN and PARCEL_SESSION_SECRET. The Config type centralizes every
// knob the daemon and CLI need, so bucket URLs, planner limits, worker bounds,
// and access settings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
