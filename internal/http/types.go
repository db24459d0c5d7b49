package http

import (
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/document"
	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/fyrsmithlabs/issuerag/internal/retrieval"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version,omitempty"`
	Services    map[string]string `json:"services"`
	Counts      StatusCounts      `json:"counts"`
	Calibration *relevance.Params `json:"calibration"`
}

// StatusCounts holds corpus and feedback sizes; -1 means unknown.
type StatusCounts struct {
	Chunks   int `json:"chunks"`
	Feedback int `json:"feedback_entries"`
}

// IngestRequest is the request body for POST /api/v1/ingest.
type IngestRequest struct {
	Documents []document.Document `json:"documents"`
}

// IngestResponse is the response body for POST /api/v1/ingest. Error is set
// when ingestion was aborted; Report then covers the documents processed
// before the abort.
type IngestResponse struct {
	Report *retrieval.IngestionReport `json:"report,omitempty"`
	Error  *ErrorResponse             `json:"error,omitempty"`
}

// WindowRequest selects a feedback window. It is the optional body of
// POST /api/v1/calibration/recalibrate and the query of
// GET /api/v1/feedback/metrics.
type WindowRequest struct {
	Since *time.Time `json:"since,omitempty"`
	Limit int        `json:"limit,omitempty"`
}

func (w WindowRequest) window() feedback.Window {
	var out feedback.Window
	if w.Since != nil {
		out.Since = *w.Since
	}
	out.Limit = w.Limit
	return out
}

// StudyRequest is the request body for POST /api/v1/calibration/study.
type StudyRequest struct {
	Cases []relevance.StudyCase `json:"cases"`
}
