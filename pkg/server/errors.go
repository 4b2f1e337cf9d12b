package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/glimps-re/stegascan/pkg/engine"
	"github.com/glimps-re/stegascan/pkg/jobs"
	"github.com/labstack/echo/v4"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAPIError(status int, code string, cause error) *APIError {
	return &APIError{Status: status, Code: code, Message: cause.Error()}
}

// toAPIError maps the error taxonomy of the engine and the job store to HTTP
// statuses.
func toAPIError(err error) *APIError {
	var (
		apiErr   *APIError
		httpErr  *echo.HTTPError
		bytesErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &httpErr):
		if httpErr.Code == http.StatusRequestEntityTooLarge {
			return newAPIError(httpErr.Code, "FILE_TOO_LARGE", datamodel.ErrFileTooLarge)
		}
		return &APIError{Status: httpErr.Code, Code: "HTTP_ERROR", Message: fmt.Sprintf("%v", httpErr.Message)}
	case errors.As(err, &bytesErr), errors.Is(err, datamodel.ErrFileTooLarge):
		return newAPIError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", datamodel.ErrFileTooLarge)
	case jobs.IsNotFound(err):
		return newAPIError(http.StatusNotFound, "NOT_FOUND", err)
	case engine.IsInputError(err):
		return newAPIError(http.StatusBadRequest, "BAD_REQUEST", err)
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrStopped):
		return newAPIError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", err)
	case errors.Is(err, datamodel.ErrAnalysisFailed), errors.Is(err, datamodel.ErrDecode):
		return newAPIError(http.StatusUnprocessableEntity, "ANALYSIS_FAILED", err)
	default:
		// the cause is logged by errorHandler and never sent back
		return &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "INTERNAL_ERROR",
			Message: datamodel.ErrInternal.Error(),
		}
	}
}

// errorHandler is the echo HTTPErrorHandler of the server.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("path", c.Request().URL.Path), slog.String("error", err.Error()))
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(apiErr.Status)
	} else {
		err = c.JSON(apiErr.Status, apiErr)
	}
	if err != nil {
		logger.Warn("could not send error response", slog.String("error", err.Error()))
	}
}
