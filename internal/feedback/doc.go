// Package feedback records user judgements of retrieval results and
// summarizes them into precision and calibration metrics.
//
// Explicit ratings run 1..5. Implicit signals stand in for ratings when no
// explicit one is given: positive counts as 4, negative as 2. The log is
// append-only; MemoryStore keeps it in memory and storage/sqlite persists it.
package feedback
