package notify

import (
	"context"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
)

// SendOutcome is the result of one orchestrator invocation. Every outcome
// leaves exactly one MessageLog row behind.
type SendOutcome string

const (
	OutcomeSent              SendOutcome = models.MessageStatusSent
	OutcomeDuplicateIgnored  SendOutcome = models.MessageStatusDuplicateIgnored
	OutcomeBlocked           SendOutcome = models.MessageStatusBlocked
	OutcomeDeferredThrottled SendOutcome = models.MessageStatusDeferredThrottled
	OutcomeFailed            SendOutcome = models.MessageStatusFailed
)

// Pipeline template keys, seeded by the migrations. TemplateOpsAlert lives
// with the spike monitor.
const (
	TemplateOrderReceived      = "ORDER_RECEIVED"
	TemplateReviewRequested    = "REVIEW_REQUESTED"
	TemplateClientInputRequest = "CLIENT_INPUT_REQUEST"
	TemplateOrderDelivered     = "ORDER_DELIVERED"
	TemplateOrderDeliveredSMS  = "ORDER_DELIVERED_SMS"
)

// Block reason codes. A blocked send always names why.
const (
	BlockTemplateNotFound   = "TEMPLATE_NOT_FOUND"
	BlockRecipientNotFound  = "RECIPIENT_NOT_FOUND"
	BlockUserInactive       = "USER_INACTIVE"
	BlockOrderCancelled     = "ORDER_CANCELLED"
	BlockFeatureDisabled    = "FEATURE_DISABLED"
	BlockChannelOptedOut    = "CHANNEL_OPTED_OUT"
	BlockNoRecipientAddress = "NO_RECIPIENT_ADDRESS"
)

// SendRequest describes one logical notification. The idempotency key is the
// caller's promise that this notification is the same logical message no
// matter how often the call repeats.
type SendRequest struct {
	TemplateKey    string
	SubjectID      uint
	OrderID        uint
	Context        map[string]string
	IdempotencyKey string
}

// SendResult reports what happened, with the audit row it produced.
type SendResult struct {
	Outcome     SendOutcome
	BlockReason string
	Log         *models.MessageLog
}

// Channel delivers a rendered message to one recipient and returns the
// provider's message id. Only the orchestrator may call a Channel.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, recipient, subject, body string) (string, error)
}

// RateGate answers whether one more message may go out on a channel right
// now. Implemented by Throttle; faked in tests.
type RateGate interface {
	Allow(ctx context.Context, channel string) (bool, error)
	NextAttempt(now time.Time) time.Time
}
