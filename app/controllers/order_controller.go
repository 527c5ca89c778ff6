package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/app/repository"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/database"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/orderflow"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/usercontext"
)

// HandleGetOrder returns the order status, the SLA clock and the transition
// timeline for one of the caller's orders.
func HandleGetOrder(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	orderNo := strings.TrimSpace(c.Params("order_no"))
	if orderNo == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Order number is required"})
	}

	repo := repository.GetGlobalFactory().GetOrderRepository()
	order, err := repo.GetByOrderNo(orderNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load order"})
	}

	// Customers only see their own orders. A foreign order number answers
	// 404 so order numbers stay unguessable.
	if order.UserID != userCtx.UserID && !userCtx.IsAdmin {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
	}

	timeline, err := repo.TimelineByOrderID(order.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load order timeline"})
	}

	return c.JSON(orderResponse(order, timeline, time.Now()))
}

// HandleSubmitOrderInput accepts the information a paused order asked the
// customer for and resumes the pipeline.
func HandleSubmitOrderInput(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	orderNo := strings.TrimSpace(c.Params("order_no"))
	repo := repository.GetGlobalFactory().GetOrderRepository()
	order, err := repo.GetByOrderNo(orderNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load order"})
	}
	if order.UserID != userCtx.UserID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
	}

	var body struct {
		Input string `json:"input"`
	}
	if err := c.BodyParser(&body); err != nil || strings.TrimSpace(body.Input) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Field 'input' is required"})
	}

	if order.Status != models.OrderStatusClientInputRequired {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Order is not waiting for input"})
	}

	engine := orderflow.NewEngine(database.GetDB())
	actor := orderflow.CustomerActor(strconv.FormatUint(uint64(userCtx.UserID), 10))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := engine.Apply(ctx, order, models.OrderStatusRegenerating, actor, "customer input received"); err != nil {
		if errors.Is(err, orderflow.ErrInvalidTransition) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Order is not waiting for input"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to resume order"})
	}

	return c.JSON(fiber.Map{"ok": true, "order_no": order.OrderNo, "status": order.Status})
}

// orderResponse builds the shared order JSON shape. SLA time is recomputed
// from the timeline on every read.
func orderResponse(order *models.Order, timeline []models.OrderTransition, now time.Time) fiber.Map {
	entries := make([]fiber.Map, 0, len(timeline))
	for _, tr := range timeline {
		entries = append(entries, fiber.Map{
			"from_status": tr.FromStatus,
			"to_status":   tr.ToStatus,
			"actor_type":  tr.ActorType,
			"reason":      tr.Reason,
			"at":          tr.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return fiber.Map{
		"order_no":     order.OrderNo,
		"status":       order.Status,
		"service_code": order.ServiceCode,
		"plan":         order.Plan,
		"amount_cents": order.AmountCents,
		"currency":     order.Currency,
		"terminal":     order.IsTerminal(),
		"created_at":   order.CreatedAt.UTC().Format(time.RFC3339),
		"paid_at":      formatTimePtr(order.PaidAt),
		"delivered_at": formatTimePtr(order.DeliveredAt),
		"sla": fiber.Map{
			"accrued_seconds": int64(orderflow.SLAAccrued(timeline, now).Seconds()),
			"clock_paused":    orderflow.SLAPaused(order.Status),
		},
		"timeline": entries,
	}
}
