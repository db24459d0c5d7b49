package services

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/issuerag/internal/cache"
	"github.com/fyrsmithlabs/issuerag/internal/config"
	"github.com/fyrsmithlabs/issuerag/internal/document"
	"github.com/fyrsmithlabs/issuerag/internal/source"
	"go.uber.org/zap"
)

// SourceSpec selects where documents come from. Exactly one field is set.
type SourceSpec struct {
	// File is a JSON document file.
	File string
	// GitHub is an "owner/repo" whose issues are fetched.
	GitHub string
}

// ErrSourceSpec is returned when a SourceSpec names no source or both.
var ErrSourceSpec = errors.New("exactly one of file or github must be given")

// NewSource builds the source spec names. Remote sources are fronted by
// the configured cache so repeated runs within its TTL skip the fetch.
func NewSource(ctx context.Context, cfg *config.Config, spec SourceSpec, logger *zap.Logger) (source.Source, error) {
	switch {
	case spec.File != "" && spec.GitHub == "":
		path, err := config.ExpandPath(spec.File)
		if err != nil {
			return nil, err
		}
		return source.NewFileSource(path), nil
	case spec.GitHub != "" && spec.File == "":
		gh, err := source.NewGitHubSource(ctx, spec.GitHub, source.GitHubOptionsFromConfig(cfg.Source.GitHub), logger)
		if err != nil {
			return nil, err
		}
		return source.NewCachedSource(gh, cache.New[string, []document.Document](cfg.Cache), logger), nil
	default:
		return nil, ErrSourceSpec
	}
}
