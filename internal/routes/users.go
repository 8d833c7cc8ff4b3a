package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pricepin/pricepin/internal/auth"
)

// RegisterUserRoutes mounts sign up, sign in and the OAuth flow.
func RegisterUserRoutes(app *fiber.App, h *auth.Handler, burst fiber.Handler, loginThrottles ...fiber.Handler) {
	users := app.Group("/users")
	users.Post("/sign_up", burst, h.SignUp)
	users.Post("/sign_in", append(loginThrottles, h.SignIn)...)

	oauth := users.Group("/auth", burst)
	oauth.Post("/google", h.GoogleBegin)
	oauth.Get("/google/callback", h.GoogleCallback)
	oauth.Get("/failure", h.Failure)
}

// RegisterAccountRoutes mounts endpoints for the signed in user and the
// public share token check.
func RegisterAccountRoutes(app *fiber.App, h *auth.Handler, requireUser fiber.Handler) {
	me := app.Group("/api/me", requireUser)
	me.Get("/", h.Me)
	me.Post("/share_token", h.IssueShareToken)

	app.Get("/api/share/:userId/verify", h.VerifyShareToken)
}
