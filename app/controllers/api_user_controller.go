package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/app/repository"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/entitlements"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/usercontext"
)

// HandleGetUserAccount returns account information for the authenticated
// client: identity, plan and what the plan entitles them to.
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	settings, err := repo.GetSettings(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user settings"})
	}

	plan := entitlements.Plan(settings.Plan)
	if plan == "" {
		plan = entitlements.PlanStandard
	}
	emailOn, smsOn := entitlements.EffectiveChannels(settings)

	response := fiber.Map{
		"id":                   account.ID,
		"username":             account.Name,
		"email":                account.Email,
		"phone":                account.Phone,
		"status":               account.Status,
		"plan":                 string(plan),
		"is_admin":             account.Role == models.ROLE_ADMIN,
		"created_at":           account.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at":        formatTimePtr(account.LastLoginAt),
		"api_key_last_used_at": formatTimePtr(settings.APIKeyLastUsedAt),
		"notifications": fiber.Map{
			"email": emailOn,
			"sms":   smsOn,
		},
		"entitlements": fiber.Map{
			"revision_rounds":   entitlements.RevisionRounds(plan),
			"sms_notifications": entitlements.HasFeature(plan, entitlements.FeatureSMSNotifications),
			"priority_queue":    entitlements.HasFeature(plan, entitlements.FeaturePriorityQueue),
			"concierge_review":  entitlements.HasFeature(plan, entitlements.FeatureConciergeReview),
		},
	}

	return c.JSON(response)
}
