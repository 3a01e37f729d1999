package api

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/vipul43/photo-porter/internal/photos"
	"github.com/vipul43/photo-porter/internal/service"
)

// writeError maps a service error to a status. On commands a missing account
// or credential is the caller's fault (400); on reads it is a 404.
func writeError(c *gin.Context, err error, command bool) {
	status := statusFor(err, command)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error, command bool) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAccountNotFound), errors.Is(err, service.ErrCredentialNotFound):
		if command {
			return http.StatusBadRequest
		}
		return http.StatusNotFound
	case errors.Is(err, service.ErrTransferNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, service.ErrCredentialRefreshFailed):
		return http.StatusBadGateway
	}

	switch code := photos.StatusCode(err); {
	case code == http.StatusNotFound:
		return http.StatusNotFound
	case code > 0:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
