package entitlements

import (
	"strings"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
)

type Plan string

const (
	PlanStandard  Plan = "standard"
	PlanPriority  Plan = "priority"
	PlanConcierge Plan = "concierge"
)

const (
	FeatureSMSNotifications = "sms_notifications"
	FeaturePriorityQueue    = "priority_queue"
	FeatureConciergeReview  = "concierge_review"
)

// AllowedChannels returns which notification channels a plan may use.
func AllowedChannels(plan Plan) (email, sms bool) {
	switch plan {
	case PlanConcierge:
		return true, true
	case PlanPriority:
		return true, true
	default:
		return true, false
	}
}

// HasFeature reports whether the given plan carries the named feature.
func HasFeature(plan Plan, feature string) bool {
	switch feature {
	case FeatureSMSNotifications:
		return plan == PlanPriority || plan == PlanConcierge
	case FeaturePriorityQueue:
		return plan == PlanPriority || plan == PlanConcierge
	case FeatureConciergeReview:
		return plan == PlanConcierge
	default:
		return false
	}
}

// EffectiveChannels combines plan allowances with the user's own channel
// preferences to compute final booleans for email/SMS delivery.
func EffectiveChannels(us *models.UserSettings) (email, sms bool) {
	p := Plan(strings.ToLower(us.Plan))
	allowEmail, allowSMS := AllowedChannels(p)

	return allowEmail && us.NotifyEmail,
		allowSMS && us.NotifySMS
}

// RevisionRounds returns how many regeneration rounds a plan includes.
func RevisionRounds(plan Plan) int {
	switch plan {
	case PlanConcierge:
		return 5
	case PlanPriority:
		return 3
	default:
		return 2
	}
}
