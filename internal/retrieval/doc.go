// Package retrieval orchestrates the pipeline: documents are chunked,
// embedded and stored on ingest; queries are embedded, searched, scored
// with one calibration snapshot and optionally answered by a generator;
// feedback on answers flows into the feedback log and recalibration.
//
// A Service owns no storage itself. Every collaborator is passed in
// through Deps, so tests can run the whole pipeline in memory with the
// hash embedder and an in-memory chromem store.
package retrieval
