package services

import (
	"errors"

	"github.com/fyrsmithlabs/issuerag/internal/embeddings"
	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/fyrsmithlabs/issuerag/internal/retrieval"
	"github.com/fyrsmithlabs/issuerag/internal/scheduler"
	"github.com/fyrsmithlabs/issuerag/internal/storage/sqlite"
	"github.com/fyrsmithlabs/issuerag/internal/vectorstore"
)

// Registry provides access to the wired issuerag components.
type Registry interface {
	Retrieval() *retrieval.Service
	VectorStore() vectorstore.Store
	Embedder() embeddings.Provider
	Feedback() feedback.Store
	Calibrator() *relevance.Calibrator

	// Database is nil when feedback is kept in memory.
	Database() *sqlite.Store

	// Scheduler is nil when no recalibration schedule is configured. It
	// is returned stopped.
	Scheduler() *scheduler.CronScheduler

	// Close stops the scheduler and releases stores and the embedder.
	Close() error
}

// Options configures the registry with component instances.
type Options struct {
	Retrieval   *retrieval.Service
	VectorStore vectorstore.Store
	Embedder    embeddings.Provider
	Feedback    feedback.Store
	Calibrator  *relevance.Calibrator
	Database    *sqlite.Store
	Scheduler   *scheduler.CronScheduler
}

// registry is the concrete implementation of Registry.
type registry struct {
	retrieval   *retrieval.Service
	vectorStore vectorstore.Store
	embedder    embeddings.Provider
	feedback    feedback.Store
	calibrator  *relevance.Calibrator
	database    *sqlite.Store
	scheduler   *scheduler.CronScheduler
}

// NewRegistry creates a new registry over already-built components.
func NewRegistry(opts Options) Registry {
	return &registry{
		retrieval:   opts.Retrieval,
		vectorStore: opts.VectorStore,
		embedder:    opts.Embedder,
		feedback:    opts.Feedback,
		calibrator:  opts.Calibrator,
		database:    opts.Database,
		scheduler:   opts.Scheduler,
	}
}

func (r *registry) Retrieval() *retrieval.Service       { return r.retrieval }
func (r *registry) VectorStore() vectorstore.Store      { return r.vectorStore }
func (r *registry) Embedder() embeddings.Provider       { return r.embedder }
func (r *registry) Feedback() feedback.Store            { return r.feedback }
func (r *registry) Calibrator() *relevance.Calibrator   { return r.calibrator }
func (r *registry) Database() *sqlite.Store             { return r.database }
func (r *registry) Scheduler() *scheduler.CronScheduler { return r.scheduler }

func (r *registry) Close() error {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
	var errs []error
	if r.database != nil {
		errs = append(errs, r.database.Close())
	}
	if r.vectorStore != nil {
		errs = append(errs, r.vectorStore.Close())
	}
	if r.embedder != nil {
		errs = append(errs, r.embedder.Close())
	}
	return errors.Join(errs...)
}
