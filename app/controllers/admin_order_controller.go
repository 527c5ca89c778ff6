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

// AdminOrderController handles the staff order surface: listing, inspection
// and manual transitions.
type AdminOrderController struct {
	orders repository.OrderRepository
	logs   repository.MessageLogRepository
}

// NewAdminOrderController creates an admin order controller with repositories.
func NewAdminOrderController(orders repository.OrderRepository, logs repository.MessageLogRepository) *AdminOrderController {
	return &AdminOrderController{orders: orders, logs: logs}
}

// HandleAdminListOrders returns a page of orders, optionally filtered by
// status.
func (ac *AdminOrderController) HandleAdminListOrders(c *fiber.Ctx) error {
	offset, limit := parsePagination(c)
	status := strings.TrimSpace(c.Query("status"))

	var (
		orders []models.Order
		total  int64
		err    error
	)
	if status != "" {
		orders, err = ac.orders.ListByStatus(status, offset, limit)
		if err == nil {
			total, err = ac.orders.CountByStatus(status)
		}
	} else {
		orders, err = ac.orders.List(offset, limit)
		if err == nil {
			total, err = ac.orders.Count()
		}
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to list orders"})
	}

	items := make([]fiber.Map, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		items = append(items, fiber.Map{
			"order_no":      o.OrderNo,
			"user_id":       o.UserID,
			"service_code":  o.ServiceCode,
			"plan":          o.Plan,
			"status":        o.Status,
			"needs_run":     o.NeedsRun,
			"attempt_count": o.AttemptCount,
			"locked_by":     o.LockedBy,
			"locked_until":  formatTimePtr(o.LockedUntil),
			"created_at":    o.CreatedAt.UTC().Format(time.RFC3339),
			"updated_at":    o.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(fiber.Map{"total": total, "offset": offset, "limit": limit, "orders": items})
}

// HandleAdminGetOrder returns one order with its full timeline and message
// log.
func (ac *AdminOrderController) HandleAdminGetOrder(c *fiber.Ctx) error {
	order, err := ac.loadOrder(c)
	if order == nil {
		return err
	}

	timeline, err := ac.orders.TimelineByOrderID(order.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load order timeline"})
	}
	messages, err := ac.logs.ListByOrderID(order.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load message log"})
	}

	resp := orderResponse(order, timeline, time.Now())
	resp["needs_run"] = order.NeedsRun
	resp["attempt_count"] = order.AttemptCount
	resp["last_error"] = order.LastError
	resp["locked_by"] = order.LockedBy
	resp["locked_until"] = formatTimePtr(order.LockedUntil)
	resp["deliverable_key"] = order.DeliverableKey
	resp["message_log"] = messages
	return c.JSON(resp)
}

// HandleAdminTransitionOrder applies a manual status change as the
// authenticated operator. Review decisions and recovery retries come
// through here.
func (ac *AdminOrderController) HandleAdminTransitionOrder(c *fiber.Ctx) error {
	order, err := ac.loadOrder(c)
	if order == nil {
		return err
	}

	var body struct {
		ToStatus string `json:"to_status"`
		Reason   string `json:"reason"`
	}
	if err := c.BodyParser(&body); err != nil || strings.TrimSpace(body.ToStatus) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Field 'to_status' is required"})
	}
	to := strings.TrimSpace(body.ToStatus)

	userCtx := usercontext.GetUserContext(c)
	actor := orderflow.AdminActor(strconv.FormatUint(uint64(userCtx.UserID), 10))
	engine := orderflow.NewEngine(database.GetDB())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := engine.Apply(ctx, order, to, actor, strings.TrimSpace(body.Reason)); err != nil {
		if errors.Is(err, orderflow.ErrInvalidTransition) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invalid_transition", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to apply transition"})
	}

	// Parking an order in a paused status needs the worker to dispatch the
	// matching notification once.
	if to == models.OrderStatusClientInputRequired || to == models.OrderStatusInternalReview {
		if err := ac.orders.SetNeedsRun(order.ID, true); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Transition applied but re-dispatch flag failed"})
		}
	}

	return c.JSON(fiber.Map{"ok": true, "order_no": order.OrderNo, "status": order.Status})
}

// HandleAdminRedispatchOrder flags a paused order so the worker re-sends its
// pending notification.
func (ac *AdminOrderController) HandleAdminRedispatchOrder(c *fiber.Ctx) error {
	order, err := ac.loadOrder(c)
	if order == nil {
		return err
	}

	paused := order.Status == models.OrderStatusInternalReview || order.Status == models.OrderStatusClientInputRequired
	if !paused {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Order has no pending notification to re-dispatch"})
	}

	if err := ac.orders.SetNeedsRun(order.ID, true); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to flag order"})
	}
	return c.JSON(fiber.Map{"ok": true, "order_no": order.OrderNo, "needs_run": true})
}

// loadOrder resolves the :order_no parameter. A nil order means the error
// response is already written; pass the returned error through.
func (ac *AdminOrderController) loadOrder(c *fiber.Ctx) (*models.Order, error) {
	orderNo := strings.TrimSpace(c.Params("order_no"))
	if orderNo == "" {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Order number is required"})
	}
	order, err := ac.orders.GetByOrderNo(orderNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Order not found"})
		}
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load order"})
	}
	return order, nil
}
