// Package recording provides the in-memory recording buffer and session
// lifecycle handling. It tracks active recordings keyed by an opaque
// identifier, appends uploaded chunks to per-recording temp files in arrival
// order, and sweeps sessions that went idle without an end signal.
package recording
