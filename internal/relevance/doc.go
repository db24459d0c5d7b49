// Package relevance turns raw cosine distances into relevance scores and
// keeps the mapping calibrated against user feedback.
//
// A distance d maps to clamp01((max-d)/(max-min)), so min scores 1 and max
// scores 0. The range starts at [0.8, 2.0] and moves toward the distances
// users actually rate as relevant or irrelevant whenever the mean
// calibration error of a feedback window exceeds the threshold. Each change
// is a new immutable Params version.
package relevance
