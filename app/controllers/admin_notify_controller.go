package controllers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/app/repository"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/notify"
)

// AdminNotifyController exposes the notification pipeline to operators: the
// audit log, the retry queue and the live throttle windows.
type AdminNotifyController struct {
	logs    repository.MessageLogRepository
	retries repository.RetryRepository
	cache   repository.CacheRepository
}

// NewAdminNotifyController creates an admin notification controller with
// repositories.
func NewAdminNotifyController(logs repository.MessageLogRepository, retries repository.RetryRepository, cache repository.CacheRepository) *AdminNotifyController {
	return &AdminNotifyController{logs: logs, retries: retries, cache: cache}
}

// HandleAdminNotificationLog returns recent message log rows, optionally
// scoped to one order.
func (nc *AdminNotifyController) HandleAdminNotificationLog(c *fiber.Ctx) error {
	if raw := strings.TrimSpace(c.Query("order_id")); raw != "" {
		orderID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "order_id must be numeric"})
		}
		rows, err := nc.logs.ListByOrderID(uint(orderID))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load message log"})
		}
		return c.JSON(fiber.Map{"count": len(rows), "messages": rows})
	}

	offset, limit := parsePagination(c)
	rows, err := nc.logs.ListRecent(offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load message log"})
	}
	return c.JSON(fiber.Map{"offset": offset, "limit": limit, "count": len(rows), "messages": rows})
}

// HandleAdminNotificationRetries returns the pending retry queue.
func (nc *AdminNotifyController) HandleAdminNotificationRetries(c *fiber.Ctx) error {
	offset, limit := parsePagination(c)

	items, err := nc.retries.List(offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load retry queue"})
	}
	total, err := nc.retries.Count()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to count retry queue"})
	}

	return c.JSON(fiber.Map{"total": total, "offset": offset, "limit": limit, "retries": items})
}

// HandleAdminThrottleWindows reports the live Redis counters for the current
// and previous send windows of each channel.
func (nc *AdminNotifyController) HandleAdminThrottleWindows(c *fiber.Ctx) error {
	now := time.Now()
	channels := []string{"global", models.ChannelEmail, models.ChannelSMS}
	if ch := strings.TrimSpace(c.Query("channel")); ch != "" {
		channels = []string{ch}
	}

	windows := make([]fiber.Map, 0, len(channels)*2)
	for _, ch := range channels {
		for _, at := range []time.Time{now, now.Add(-time.Minute)} {
			key := notify.WindowKey(ch, at)
			count := 0
			if raw, err := nc.cache.GetValue(key); err == nil {
				count, _ = strconv.Atoi(raw)
			} else if err != redis.Nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to read throttle window"})
			}
			ttl, _ := nc.cache.GetTTL(key)
			windows = append(windows, fiber.Map{
				"channel":     ch,
				"window_key":  key,
				"count":       count,
				"ttl_seconds": int64(ttl.Seconds()),
			})
		}
	}

	return c.JSON(fiber.Map{"now": now.UTC().Format(time.RFC3339), "windows": windows})
}
