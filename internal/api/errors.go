package api

import (
	"context"
	"errors"
	"net/http"

	"newsdesk/internal/newsletter"
	"newsdesk/internal/podcast"

	"github.com/gin-gonic/gin"
)

// APIError is the JSON error body of every failed request.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Code + ": " + e.Message }

func newError(status int, code, msg string) *APIError {
	return &APIError{Status: status, Code: code, Message: msg}
}

var (
	errUnauthorized   = newError(http.StatusUnauthorized, "unauthorized", "invalid admin secret")
	errAdminDisabled  = newError(http.StatusServiceUnavailable, "admin_disabled", "admin secret is not configured")
	errNoDatabase     = newError(http.StatusServiceUnavailable, "database_disabled", "analytics require a database")
	errNoPodcast      = newError(http.StatusServiceUnavailable, "podcast_disabled", "podcast generation is not configured")
	errAudioNotFound  = newError(http.StatusNotFound, "audio_not_found", "no audio for these categories yet")
	errBadRequestBody = newError(http.StatusBadRequest, "bad_request", "invalid request body")
)

// toAPIError maps domain errors to HTTP responses.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, newsletter.ErrUnknownCategory), errors.Is(err, newsletter.ErrNoCategories):
		return newError(http.StatusBadRequest, "invalid_categories", err.Error())
	case errors.Is(err, podcast.ErrJobNotFound):
		return newError(http.StatusNotFound, "job_not_found", "podcast job not found")
	case errors.Is(err, podcast.ErrJobFinished):
		return newError(http.StatusConflict, "job_finished", "podcast job already finished")
	case errors.Is(err, context.DeadlineExceeded):
		return newError(http.StatusGatewayTimeout, "timeout", "generation did not finish in time")
	default:
		return newError(http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func abort(c *gin.Context, err error) {
	e := toAPIError(err)
	if e.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(e.Status, e)
}

func success(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}
