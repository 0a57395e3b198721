package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/deck-builder/internal/ai"
	"github.com/iliyamo/deck-builder/internal/service"
	"github.com/iliyamo/deck-builder/internal/utils"
)

// statusFor maps a service error to the HTTP status it is reported with.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, utils.ErrInvalidToken), errors.Is(err, utils.ErrExpiredToken):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ai.ErrGeneration), errors.Is(err, service.ErrPersistence):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal detail for server errors.
func publicMessage(err error, status int) string {
	switch {
	case status < 500:
		return err.Error()
	case errors.Is(err, ai.ErrGeneration):
		return "content generation failed"
	case status == http.StatusServiceUnavailable:
		return "service unavailable"
	default:
		return "internal error"
	}
}

func respondError(c echo.Context, log *zap.Logger, err error) error {
	status := statusFor(err)
	if status >= 500 {
		log.Error("request failed",
			zap.String("path", c.Request().URL.Path),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err))
	}
	return c.JSON(status, echo.Map{"message": publicMessage(err, status)})
}
