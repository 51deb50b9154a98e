package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/evalforge/evalforge/api/internal/pkg/errors"
)

// ErrorResponse is the uniform error body of every non-2xx response.
// Callers dispatch on Code, never on Message text.
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// serviceError translates a service-layer error into a JSON response.
// Application errors keep their category and status; anything else is
// logged and collapsed into an opaque 500.
func serviceError(c *fiber.Ctx, logger *zap.Logger, err error, action string) error {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return c.Status(appErr.StatusCode).JSON(ErrorResponse{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
	}

	logger.Error("request failed", zap.String("action", action), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Code:    apperrors.CodeInternal,
		Message: "failed to " + action,
	})
}

// badRequest sends a BAD_REQUEST response for malformed request bodies
func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Code:    apperrors.CodeBadRequest,
		Message: message,
	})
}

// cursorParam extracts the optional cursor query parameter
func cursorParam(c *fiber.Ctx) *string {
	if cursor := c.Query("cursor"); cursor != "" {
		return &cursor
	}
	return nil
}

// limitParam extracts the optional limit query parameter. A value that
// is not an integer at all is rejected later by pagination.ParseArgs
// via the zero sentinel.
func limitParam(c *fiber.Ctx) *int {
	val := c.Query("limit")
	if val == "" {
		return nil
	}
	limit, err := strconv.Atoi(val)
	if err != nil {
		limit = 0
	}
	return &limit
}
