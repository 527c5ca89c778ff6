package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/database"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/worker"
)

// HandleAdminProcessBatch runs one poll pass over runnable orders. The
// request is repeatable: locked orders are skipped and every step is
// idempotent, so operators can hammer this while debugging.
func HandleAdminProcessBatch(c *fiber.Ctx) error {
	var body struct {
		MaxJobs int `json:"max_jobs"`
	}
	// An empty body means default batch size.
	_ = c.BodyParser(&body)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stats, err := worker.GetManager(database.GetDB()).RunPollOnce(ctx, body.MaxJobs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true, "stats": stats})
}

// HandleAdminRunRetrySweep triggers one notification retry sweep.
func HandleAdminRunRetrySweep(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	swept, err := worker.GetManager(database.GetDB()).RunRetrySweepOnce(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true, "swept": swept})
}

// HandleAdminRunSpikeCheck triggers one failure spike check.
func HandleAdminRunSpikeCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	level, err := worker.GetManager(database.GetDB()).RunSpikeCheckOnce(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	if level == "" {
		level = "ok"
	}
	return c.JSON(fiber.Map{"ok": true, "level": level})
}

// HandleAdminWorkerStatus reports whether the background loops are running.
func HandleAdminWorkerStatus(c *fiber.Ctx) error {
	m := worker.GetManager(database.GetDB())
	return c.JSON(fiber.Map{"running": m.IsRunning()})
}
