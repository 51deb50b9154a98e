package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// HeaderRequestID is the header the request id is read from and echoed
// back on.
const HeaderRequestID = "X-Request-ID"

// RequestID assigns every request an id, honoring one supplied by the
// caller, and stores it in locals for the request logger and the
// recover middleware.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(HeaderRequestID, requestID)
		c.Locals("requestID", requestID)

		return c.Next()
	}
}
