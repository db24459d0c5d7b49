package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Error kinds reported in ErrorResponse.Kind.
const (
	KindValidation  = "validation"
	KindTransient   = "transient"
	KindStorage     = "storage"
	KindConflict    = "conflict"
	KindCanceled    = "canceled"
	KindInternal    = "internal"
	KindUnavailable = "unavailable"
)

// classify maps a service error to a status code and kind.
func classify(err error) (int, string) {
	switch {
	case ragerrors.IsValidation(err):
		return http.StatusBadRequest, KindValidation
	case errors.Is(err, relevance.ErrDegenerateRange):
		return http.StatusConflict, KindConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindTransient
	case ragerrors.IsCanceled(err):
		return http.StatusServiceUnavailable, KindCanceled
	case ragerrors.IsTransient(err):
		return http.StatusServiceUnavailable, KindTransient
	case ragerrors.IsStorage(err):
		return http.StatusInternalServerError, KindStorage
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// fail turns err into an echo error carrying an ErrorResponse.
func (s *Server) fail(c echo.Context, op string, err error) error {
	status, body := s.errorBody(c, op, err)
	return echo.NewHTTPError(status, body)
}

// errorBody classifies err. Server-side failures are logged; client
// errors are not.
func (s *Server) errorBody(c echo.Context, op string, err error) (int, ErrorResponse) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed",
			zap.String("kind", kind),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err))
	}
	return status, ErrorResponse{Error: err.Error(), Kind: kind}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, ErrorResponse{Error: msg, Kind: KindValidation})
}
