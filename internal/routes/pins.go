package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pricepin/pricepin/internal/pin"
)

// RegisterPinRoutes mounts the public pin endpoints. Only creation is throttled.
func RegisterPinRoutes(app *fiber.App, h *pin.Handler, throttle fiber.Handler) {
	pins := app.Group("/api/pins")
	pins.Get("/", h.List)
	pins.Post("/", throttle, h.Create)
	pins.Delete("/:id", h.Delete)
}
