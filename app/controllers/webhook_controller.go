package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/database"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/env"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/intake"
)

// HandlePaymentWebhook receives payment provider events. The signature is
// verified on the raw body before anything touches the ledger; an unsigned
// or mis-signed delivery leaves no trace. Duplicates acknowledge with 200 so
// the provider stops redelivering.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Provider-Signature"))
	secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")

	if !intake.VerifyWebhookSignature(rawBody, signature, secret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	svc := intake.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, stored, err := svc.Ingest(ctx, intake.IngestInput{
		Provider:    intake.ProviderStripe,
		PayloadJSON: string(rawBody),
	})
	if err != nil {
		if errors.Is(err, intake.ErrMalformedPayload) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		if outcome == intake.OutcomeNew {
			// Recorded but processing failed; the ledger row carries the
			// error for operators. The provider may redeliver, which lands
			// on the duplicate path.
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}

	if outcome == intake.OutcomeDuplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "event_id": stored.ProviderEventID})
}
