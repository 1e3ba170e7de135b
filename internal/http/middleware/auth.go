package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"freecanvas/internal/auth"
)

// SubjectLocalKey holds the verified token subject in Fiber's context locals.
const SubjectLocalKey = "subject"

// Authenticate rejects requests without a valid bearer token issued by m.
// Failures are returned as *fiber.Error so the global ErrorHandler shapes the body.
func Authenticate(m *auth.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := m.Verify(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingToken):
				return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
			case errors.Is(err, auth.ErrExpiredToken):
				return fiber.NewError(fiber.StatusUnauthorized, "token expired")
			default:
				return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
			}
		}
		c.Locals(SubjectLocalKey, claims.Subject)
		return c.Next()
	}
}
