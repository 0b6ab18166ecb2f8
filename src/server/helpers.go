package server

import (
	"errors"
	"net/http"

	"queue-sync/src/booking"
	"queue-sync/src/connection"
	"queue-sync/src/helpers"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------

// statusFor maps a session error onto the local API's status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, helpers.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, helpers.ErrSubmitInProgress),
		errors.Is(err, helpers.ErrQueueUnavailable),
		errors.Is(err, booking.ErrSessionChanged),
		errors.Is(err, connection.ErrNothingToRetry):
		return http.StatusConflict
	}

	var authErr *helpers.AuthError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized
	}
	var reqErr *helpers.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Status >= 400 && reqErr.Status < 500 {
			return reqErr.Status
		}
		return http.StatusBadGateway
	}
	var selErr *helpers.SelectionError
	if errors.As(err, &selErr) {
		return http.StatusUnprocessableEntity
	}
	var connErr *helpers.ConnectivityError
	if errors.As(err, &connErr) {
		return http.StatusBadGateway
	}
	var dbErr *helpers.DatabaseError
	if errors.As(err, &dbErr) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// -----------------------------------------------------------------------------

// detailFor is the user-facing message. Request failures carry the backend's
// detail; everything else uses the error text.
func detailFor(err error) string {
	var reqErr *helpers.RequestError
	if errors.As(err, &reqErr) && reqErr.Detail != "" {
		return reqErr.Detail
	}
	var authErr *helpers.AuthError
	if errors.As(err, &authErr) && authErr.Detail != "" {
		return authErr.Detail
	}
	return err.Error()
}

// -----------------------------------------------------------------------------

func (s *APIServer) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	} else {
		s.Logger.Info("%s %s rejected: %v", c.Request.Method, c.FullPath(), err)
	}

	body := gin.H{"detail": detailFor(err)}
	if helpers.IsAuthError(err) {
		body["auth_required"] = true
	}
	c.JSON(status, body)
}
