package middleware

import (
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware guarantees every request carries a UserContext so
// handlers never see a nil context. The API key middleware overwrites it on
// authenticated routes.
func UserContextMiddleware(c *fiber.Ctx) error {
	if c.Locals("USER_CONTEXT") == nil {
		c.Locals("USER_CONTEXT", usercontext.UserContext{
			IsLoggedIn: false,
			IsAdmin:    false,
		})
		c.Locals(usercontext.KeyFromProtected, false)
		c.Locals(usercontext.KeyIsAdmin, false)
	}
	return c.Next()
}
