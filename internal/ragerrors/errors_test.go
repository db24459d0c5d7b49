package ragerrors_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name       string
		err        error
		validation bool
		transient  bool
		storage    bool
	}{
		{"validation", ragerrors.Validationf("upsert", "dimension %d != %d", 3, 4), true, false, false},
		{"transient", ragerrors.Transient("embed", "tei", base), false, true, false},
		{"storage", ragerrors.Storage("search", base), false, false, true},
		{"wrapped storage", fmt.Errorf("ingest doc-1: %w", ragerrors.Storage("upsert", base)), false, false, true},
		{"plain", base, false, false, false},
		{"nil", nil, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, ragerrors.IsValidation(tt.err))
			assert.Equal(t, tt.transient, ragerrors.IsTransient(tt.err))
			assert.Equal(t, tt.storage, ragerrors.IsStorage(tt.err))
		})
	}
}

func TestStorage_PassesThroughCancellation(t *testing.T) {
	err := ragerrors.Storage("upsert", fmt.Errorf("write: %w", context.Canceled))
	assert.False(t, ragerrors.IsStorage(err))
	assert.True(t, ragerrors.IsCanceled(err))
}

func TestStorage_DoesNotDoubleWrap(t *testing.T) {
	inner := ragerrors.Storage("upsert", errors.New("disk full"))
	outer := ragerrors.Storage("ingest", inner)
	assert.Same(t, inner, outer)
}

func TestNilWrappers(t *testing.T) {
	assert.NoError(t, ragerrors.Transient("op", "svc", nil))
	assert.NoError(t, ragerrors.Storage("op", nil))
}

func TestErrorMessages(t *testing.T) {
	err := ragerrors.Validationf("search", "k must be positive")
	assert.Equal(t, "search: validation: k must be positive", err.Error())

	base := errors.New("connection refused")
	terr := ragerrors.Transient("embed", "tei", base)
	require.ErrorIs(t, terr, base)
	assert.Contains(t, terr.Error(), "tei unavailable")
}
