// Package services wires issuerag's components from configuration.
//
// Build constructs the embedder, vector store, feedback database,
// calibrator, optional generator and retrieval service in dependency
// order and returns them behind a Registry. Close releases them in
// reverse order.
package services
