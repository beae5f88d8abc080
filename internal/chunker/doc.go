// Package chunker splits research documents into overlapping, semantically
// coherent segments for embedding and similarity search.
//
// Splitting prefers sentence boundaries and falls back to hard character
// cuts only when a single sentence exceeds the target size. Adjacent chunks
// share roughly the configured overlap of trailing context, clamped so the
// overlap never reaches the target size. Every chunk carries a copy of the
// source metadata (URL, credibility, authority flag) plus its own sequence
// index.
//
// Chunking is pure computation: no I/O, no suspension points.
package chunker
