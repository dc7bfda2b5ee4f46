// Package memory defines the storage and embedding contracts of the
// memory subsystem.
//
// Architecture:
//   - Store: persistent vector storage, partitioned per (user, session, role)
//   - Embedder: text-to-vector conversion, pluggable across providers
//
// The store owns exactly one embedder for its lifetime. Dimensionality is
// a construction-time constant; switching the embedder variant on an
// existing partition is refused at startup.
//
// Implementations:
//   - memory/store/chromem: embedded on-disk vector database
//   - memory/embedder/glm: remote embedding API (embedding-3)
//   - memory/embedder/onnx: local multilingual sentence encoder (build tag onnx)
//   - memory/embedder/simple: deterministic hash embedder for development
package memory
