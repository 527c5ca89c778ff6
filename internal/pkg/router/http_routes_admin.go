package router

import (
	"github.com/DraftDeskHQ/DraftDesk/app/controllers"
	"github.com/DraftDeskHQ/DraftDesk/app/repository"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	repos := repository.GetGlobalFactory().GetRepositories()
	orderController := controllers.NewAdminOrderController(repos.Order, repos.MessageLog)
	notifyController := controllers.NewAdminNotifyController(repos.MessageLog, repos.Retry, repos.Cache)

	adminGroup := app.Group("/admin", middleware.APIKeyAuthMiddleware(), middleware.RequireAdmin)

	// Order management
	adminGroup.Get("/orders", orderController.HandleAdminListOrders)
	adminGroup.Get("/orders/:order_no", orderController.HandleAdminGetOrder)
	adminGroup.Post("/orders/:order_no/transition", orderController.HandleAdminTransitionOrder)
	adminGroup.Post("/orders/:order_no/redispatch", orderController.HandleAdminRedispatchOrder)

	// Worker control
	adminGroup.Get("/workers/status", controllers.HandleAdminWorkerStatus)
	adminGroup.Post("/workers/process-batch", controllers.HandleAdminProcessBatch)

	// Notification pipeline
	adminGroup.Get("/notifications/log", notifyController.HandleAdminNotificationLog)
	adminGroup.Get("/notifications/retries", notifyController.HandleAdminNotificationRetries)
	adminGroup.Get("/notifications/throttle", notifyController.HandleAdminThrottleWindows)
	adminGroup.Post("/notifications/retry-sweep", controllers.HandleAdminRunRetrySweep)
	adminGroup.Post("/notifications/spike-check", controllers.HandleAdminRunSpikeCheck)
}
