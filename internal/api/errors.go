package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"netoffice/internal/fault"
	"netoffice/internal/geo"
)

// errorStatus maps error kinds onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, fault.ErrInvalidState), errors.Is(err, fault.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, fault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fault.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.Log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		msg = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": fault.Code(err)})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
}

// relayError converts relay refusals into error kinds.
func relayError(err error) error {
	switch {
	case errors.Is(err, geo.ErrInvalidFix), errors.Is(err, geo.ErrStaleFix):
		return fmt.Errorf("%w: %w", fault.ErrValidation, err)
	case errors.Is(err, geo.ErrNoPendingRequest):
		return fmt.Errorf("%w: %w", fault.ErrInvalidState, err)
	case errors.Is(err, geo.ErrStaleAttempt):
		return fmt.Errorf("%w: %w", fault.ErrConflict, err)
	default:
		return err
	}
}
