package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pricepin/pricepin/internal/auth"
)

// RequireUser accepts a session token from a bearer header or the session
// cookie and stores the user id in the request locals.
func RequireUser(sessions *auth.Sessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(auth.SessionCookie)
		if authz := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[len("Bearer "):])
		}
		if token == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing session")
		}

		claims, err := sessions.Parse(token)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid session")
		}

		c.Locals(auth.LocalUserID, claims.Subject)
		return c.Next()
	}
}
