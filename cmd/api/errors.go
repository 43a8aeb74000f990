package main

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/koomind/koomind-backend/internal/apperror"
)

type errorResponse struct {
	Message string `json:"message"`
}

// httpErrorHandler renders every error as {"message": ...}. Internal errors
// are logged and replaced by a generic message.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, message := http.StatusInternalServerError, "internal server error"

	var he *echo.HTTPError
	var ae *apperror.Error
	switch {
	case errors.As(err, &ae):
		status, message = apperror.Status(err), apperror.PublicMessage(err)
	case errors.As(err, &he):
		status = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(he.Code)
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"err", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorResponse{Message: message})
	}
	if err != nil {
		s.logger.Warn("failed to write error response", "err", err)
	}
}
