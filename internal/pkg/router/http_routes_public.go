package router

import (
	"github.com/DraftDeskHQ/DraftDesk/app/controllers"
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Payment provider webhooks (signature-verified in the controller, no
	// API key: the provider signs every delivery).
	app.Post("/webhooks/payment", controllers.HandlePaymentWebhook)
}
