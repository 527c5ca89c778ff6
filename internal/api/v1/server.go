package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/middleware"
)

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface lists the public v1 operations. The route paths live in
// RegisterHandlers; the OpenAPI document under public/docs/v1 describes the
// same surface.
type ServerInterface interface {
	GetPing(c *fiber.Ctx) error
	GetUserAccount(c *fiber.Ctx) error
	GetOrder(c *fiber.Ctx) error
	PostOrderInput(c *fiber.Ctx) error
}

// RegisterHandlers attaches the v1 operations to the router group. Ping is
// open; everything else sits behind API key auth.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	router.Get("/ping", si.GetPing)

	authed := router.Group("", middleware.APIKeyAuthMiddleware())
	authed.Get("/user/account", si.GetUserAccount)
	authed.Get("/orders/:order_no", si.GetOrder)
	authed.Post("/orders/:order_no/input", si.PostOrderInput)
}
