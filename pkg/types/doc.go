// Package types defines the shared domain types for the retrieval engine:
// research results, content chunks with provenance metadata, source records,
// retrieval results with tier attribution, and the error taxonomy used to
// decide whether a failure is retried, absorbed, or surfaced.
//
// Types here are plain data with validation methods. Behavior lives in the
// internal packages that operate on them.
package types
