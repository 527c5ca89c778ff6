package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/DraftDeskHQ/DraftDesk/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetUserAccount returns account information for the authenticated user (API key).
// Security is enforced via API key middleware attached in the router.
func (s *APIServer) GetUserAccount(c *fiber.Ctx) error {
	return controllers.HandleGetUserAccount(c)
}

// GetOrder returns status, SLA and timeline for one of the caller's orders.
func (s *APIServer) GetOrder(c *fiber.Ctx) error {
	return controllers.HandleGetOrder(c)
}

// PostOrderInput accepts requested customer input and resumes the order.
func (s *APIServer) PostOrderInput(c *fiber.Ctx) error {
	return controllers.HandleSubmitOrderInput(c)
}
