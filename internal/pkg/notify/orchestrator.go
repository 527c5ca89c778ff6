package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"text/template"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/app/repository"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/entitlements"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/sms"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	retryBackoffBase   = time.Minute
	defaultGiveupAfter = 5
)

// Sender is the orchestrator's send contract. The retry sweep and the spike
// monitor go through it so every message rides the same dispatch path.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// Orchestrator is the only sanctioned path to the channel adapters. Every
// invocation writes exactly one MessageLog row; the send_claim column keeps
// any idempotency key from reaching sent twice.
type Orchestrator struct {
	templates repository.TemplateRepository
	logs      repository.MessageLogRepository
	retries   repository.RetryRepository
	users     repository.UserRepository
	orders    repository.OrderRepository
	gate      RateGate
	channels  map[string]Channel
}

// NewOrchestrator creates an orchestrator from injected dependencies.
func NewOrchestrator(
	templates repository.TemplateRepository,
	logs repository.MessageLogRepository,
	retries repository.RetryRepository,
	users repository.UserRepository,
	orders repository.OrderRepository,
	gate RateGate,
	channels ...Channel,
) *Orchestrator {
	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}
	return &Orchestrator{
		templates: templates,
		logs:      logs,
		retries:   retries,
		users:     users,
		orders:    orders,
		gate:      gate,
		channels:  byName,
	}
}

// NewOrchestratorFromDB wires the production orchestrator: GORM
// repositories, the Redis throttle and the real channel adapters.
func NewOrchestratorFromDB(db *gorm.DB) *Orchestrator {
	return NewOrchestrator(
		repository.NewTemplateRepository(db),
		repository.NewMessageLogRepository(db),
		repository.NewRetryRepository(db),
		repository.NewUserRepository(db),
		repository.NewOrderRepository(db),
		NewThrottleFromEnv(),
		EmailChannel{},
		NewSMSChannel(sms.NewClientFromEnv()),
	)
}

// Send runs the dispatch pipeline for one logical notification: template
// resolution, eligibility gates, idempotency check, throttle check,
// dispatch. Each step may short-circuit; whichever step ends the call writes
// the single MessageLog row for this invocation.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.TemplateKey = strings.TrimSpace(req.TemplateKey)
	if req.TemplateKey == "" || req.IdempotencyKey == "" {
		return nil, errors.New("template_key and idempotency_key are required")
	}

	tpl, err := o.templates.GetActiveByKey(req.TemplateKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return o.blocked(req, "", BlockTemplateNotFound)
		}
		return nil, err
	}

	user, err := o.users.GetByID(req.SubjectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return o.blocked(req, tpl.Channel, BlockRecipientNotFound)
		}
		return nil, err
	}
	if !user.IsActive() {
		return o.blocked(req, tpl.Channel, BlockUserInactive)
	}
	if req.OrderID != 0 {
		order, err := o.orders.GetByID(req.OrderID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if err == nil && order.Status == models.OrderStatusCancelled {
			return o.blocked(req, tpl.Channel, BlockOrderCancelled)
		}
	}
	settings, err := o.users.GetSettings(user.ID)
	if err != nil {
		return nil, err
	}
	plan := entitlements.Plan(strings.ToLower(settings.Plan))
	if tpl.RequiredFeature != "" && !entitlements.HasFeature(plan, tpl.RequiredFeature) {
		return o.blocked(req, tpl.Channel, BlockFeatureDisabled)
	}
	if !settings.AllowsChannel(tpl.Channel) {
		return o.blocked(req, tpl.Channel, BlockChannelOptedOut)
	}
	recipient := recipientFor(user, tpl.Channel)
	if recipient == "" {
		return o.blocked(req, tpl.Channel, BlockNoRecipientAddress)
	}
	recipientHash := models.HashRecipient(recipient)

	sentAlready, err := o.logs.HasSentForKey(req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if sentAlready {
		return o.duplicate(req, tpl.Channel, recipientHash)
	}

	allowed, err := o.gate.Allow(ctx, tpl.Channel)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return o.deferred(req, tpl, recipientHash)
	}

	row := &models.MessageLog{
		IdempotencyKey: req.IdempotencyKey,
		TemplateKey:    tpl.TemplateKey,
		Channel:        tpl.Channel,
		RecipientHash:  recipientHash,
		OrderID:        req.OrderID,
	}
	claimed, err := o.logs.ClaimSend(row)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// A concurrent attempt holds the claim for this key.
		return o.duplicate(req, tpl.Channel, recipientHash)
	}

	subject, body, err := renderTemplate(tpl, user, req.Context)
	if err != nil {
		return o.failDispatch(req, row, "render: "+err.Error())
	}

	channel, ok := o.channels[tpl.Channel]
	if !ok {
		return o.failDispatch(req, row, "channel not registered: "+tpl.Channel)
	}

	providerID, err := channel.Deliver(ctx, recipient, subject, body)
	if err != nil {
		log.Errorf("[Notify] %s dispatch failed for key %s: %v", tpl.Channel, req.IdempotencyKey, err)
		return o.failDispatch(req, row, err.Error())
	}

	if err := o.logs.MarkSent(row.ID, providerID); err != nil {
		return nil, err
	}
	row.Status = models.MessageStatusSent
	row.ProviderMessageID = providerID
	log.Infof("[Notify] sent %s via %s (key %s)", tpl.TemplateKey, tpl.Channel, req.IdempotencyKey)
	return &SendResult{Outcome: OutcomeSent, Log: row}, nil
}

func (o *Orchestrator) blocked(req SendRequest, channel, reason string) (*SendResult, error) {
	row := &models.MessageLog{
		IdempotencyKey: req.IdempotencyKey,
		TemplateKey:    req.TemplateKey,
		Channel:        channel,
		Status:         models.MessageStatusBlocked,
		BlockReason:    reason,
		OrderID:        req.OrderID,
	}
	if err := o.logs.Create(row); err != nil {
		return nil, err
	}
	log.Warnf("[Notify] send %s blocked: %s", req.IdempotencyKey, reason)
	return &SendResult{Outcome: OutcomeBlocked, BlockReason: reason, Log: row}, nil
}

func (o *Orchestrator) duplicate(req SendRequest, channel, recipientHash string) (*SendResult, error) {
	row := &models.MessageLog{
		IdempotencyKey: req.IdempotencyKey,
		TemplateKey:    req.TemplateKey,
		Channel:        channel,
		RecipientHash:  recipientHash,
		Status:         models.MessageStatusDuplicateIgnored,
		OrderID:        req.OrderID,
	}
	if err := o.logs.Create(row); err != nil {
		return nil, err
	}
	return &SendResult{Outcome: OutcomeDuplicateIgnored, Log: row}, nil
}

// deferred records the throttle backpressure and schedules the re-send just
// past the window rollover. Not a failure.
func (o *Orchestrator) deferred(req SendRequest, tpl *models.MessageTemplate, recipientHash string) (*SendResult, error) {
	row := &models.MessageLog{
		IdempotencyKey: req.IdempotencyKey,
		TemplateKey:    tpl.TemplateKey,
		Channel:        tpl.Channel,
		RecipientHash:  recipientHash,
		Status:         models.MessageStatusDeferredThrottled,
		OrderID:        req.OrderID,
	}
	if err := o.logs.Create(row); err != nil {
		return nil, err
	}
	if err := o.enqueueRetry(req, row, o.gate.NextAttempt(time.Now())); err != nil {
		return nil, err
	}
	log.Infof("[Notify] %s throttled, key %s deferred", tpl.Channel, req.IdempotencyKey)
	return &SendResult{Outcome: OutcomeDeferredThrottled, Log: row}, nil
}

// failDispatch finalizes a claimed row after a dispatch failure. Releasing
// the claim and enqueueing the retry is what makes the failure recoverable.
func (o *Orchestrator) failDispatch(req SendRequest, row *models.MessageLog, errorType string) (*SendResult, error) {
	if err := o.logs.MarkFailed(row.ID, errorType); err != nil {
		return nil, err
	}
	row.Status = models.MessageStatusFailed
	row.ErrorType = errorType
	row.SendClaim = nil
	if err := o.enqueueRetry(req, row, time.Now().Add(retryBackoffBase)); err != nil {
		return nil, err
	}
	return &SendResult{Outcome: OutcomeFailed, Log: row}, nil
}

func (o *Orchestrator) enqueueRetry(req SendRequest, row *models.MessageLog, at time.Time) error {
	ctxJSON := ""
	if len(req.Context) > 0 {
		b, err := json.Marshal(req.Context)
		if err != nil {
			return err
		}
		ctxJSON = string(b)
	}
	return o.retries.Enqueue(&models.NotificationRetry{
		MessageLogID:   row.ID,
		TemplateKey:    row.TemplateKey,
		Channel:        row.Channel,
		SubjectID:      req.SubjectID,
		OrderID:        req.OrderID,
		IdempotencyKey: req.IdempotencyKey,
		ContextJSON:    ctxJSON,
		NextAttemptAt:  at,
		AttemptsSoFar:  1,
		GiveupAfter:    defaultGiveupAfter,
	})
}

func recipientFor(user *models.User, channel string) string {
	switch channel {
	case models.ChannelEmail:
		return strings.TrimSpace(user.Email)
	case models.ChannelSMS:
		return strings.TrimSpace(user.Phone)
	default:
		return ""
	}
}

// renderTemplate executes the subject and body templates against the caller
// context plus the recipient identity.
func renderTemplate(tpl *models.MessageTemplate, user *models.User, reqCtx map[string]string) (string, string, error) {
	data := map[string]string{
		"recipient_name":  user.Name,
		"recipient_email": user.Email,
	}
	for k, v := range reqCtx {
		data[k] = v
	}

	subject, err := renderOne("subject", tpl.Subject, data)
	if err != nil {
		return "", "", err
	}
	body, err := renderOne("body", tpl.Body, data)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func renderOne(name, src string, data map[string]string) (string, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
