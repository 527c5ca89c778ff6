package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/orderflow"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ErrMalformedPayload marks payloads the intake cannot interpret. Callers map
// it to a client error instead of a processing failure.
var ErrMalformedPayload = errors.New("malformed event payload")

// TransitionApplier applies one state machine transition. Satisfied by
// *orderflow.Engine.
type TransitionApplier interface {
	Apply(ctx context.Context, order *models.Order, to string, actor orderflow.Actor, reason string) error
}

// Service records provider events exactly once and projects them onto orders.
type Service struct {
	repo   Repository
	engine TransitionApplier
}

// NewService creates an intake service from an injected repository and engine.
func NewService(repo Repository, engine TransitionApplier) *Service {
	return &Service{repo: repo, engine: engine}
}

// NewServiceFromDB creates an intake service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), orderflow.NewEngine(db))
}

// Ingest records one signature-verified provider event and, when it is new,
// runs its side effects. A duplicate short-circuits after the ledger insert:
// the stored row is returned untouched and nothing else is mutated. The
// processing outcome is stamped onto the ledger row in every path.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (Outcome, *models.PaymentWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return "", nil, errors.New("provider is required")
	}

	payload := []byte(in.PayloadJSON)
	eventID, eventType, err := ParseEventEnvelope(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if eventID == "" {
		sum := sha256.Sum256(payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.PaymentWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     in.PayloadJSON,
		Status:          models.PaymentEventStatusReceived,
	}
	created, stored, err := s.repo.CreateEventIfNotExists(event)
	if err != nil {
		return "", nil, err
	}
	if !created {
		return OutcomeDuplicate, stored, nil
	}

	var procErr error
	switch eventType {
	case EventCheckoutCompleted:
		procErr = s.handleCheckoutCompleted(ctx, provider, payload)
	case EventChargeRefunded:
		procErr = s.handleChargeRefunded(ctx, provider, payload)
	default:
		log.Infof("[Intake] recorded unhandled event type %s (%s)", eventType, eventID)
	}

	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}
	if markErr := s.repo.MarkEventProcessed(stored.ID, errMsg); markErr != nil {
		log.Errorf("[Intake] failed to mark event %d processed: %v", stored.ID, markErr)
	}

	return OutcomeNew, stored, procErr
}

// handleCheckoutCompleted upserts the order for a completed checkout and
// moves it to paid. Replays under a fresh event id land on the unique
// (provider, session) key: an existing order past created is flagged
// needs_run instead of spawning a second pipeline.
func (s *Service) handleCheckoutCompleted(ctx context.Context, provider string, payload []byte) error {
	ev, err := ParseCheckoutCompletedEvent(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	mapping, err := s.repo.FindActivePlanMapping(provider, ev.PriceRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("no active plan mapping for price ref %q", ev.PriceRef)
		}
		return err
	}

	user, err := s.repo.GetOrCreateUserByEmail(ev.CustomerEmail, ev.CustomerName)
	if err != nil {
		return err
	}

	order := &models.Order{
		OrderNo:           models.NewOrderNo(),
		UserID:            user.ID,
		ServiceCode:       mapping.ServiceCode,
		Plan:              mapping.Plan,
		AmountCents:       ev.AmountCents,
		Currency:          ev.Currency,
		Provider:          provider,
		ProviderSessionID: ev.SessionID,
		Status:            models.OrderStatusCreated,
	}
	created, stored, err := s.repo.CreateOrderIfNotExists(order)
	if err != nil {
		return err
	}

	if stored.Status == models.OrderStatusCreated {
		// Also repairs an order a crashed earlier delivery left at created.
		err := s.engine.Apply(ctx, stored, models.OrderStatusPaid, orderflow.SystemActor("intake"), EventCheckoutCompleted)
		if err != nil {
			if errors.Is(err, orderflow.ErrConcurrentChange) {
				log.Infof("[Intake] order %s already advanced past created", stored.OrderNo)
				return nil
			}
			return err
		}
		if created {
			log.Infof("[Intake] order %s created and paid for session %s", stored.OrderNo, ev.SessionID)
		}
		return nil
	}

	if err := s.repo.SetOrderNeedsRun(stored.ID, true); err != nil {
		return err
	}
	log.Infof("[Intake] order %s re-flagged runnable for session %s", stored.OrderNo, ev.SessionID)
	return nil
}

// handleChargeRefunded cancels the refunded order where the transition graph
// allows it. A refund on a delivered order keeps the order completed; the
// ledger row and the log line carry the record.
func (s *Service) handleChargeRefunded(ctx context.Context, provider string, payload []byte) error {
	ev, err := ParseChargeRefundedEvent(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	order, err := s.repo.GetOrderByProviderSession(provider, ev.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("refund %s references unknown checkout session %q", ev.ChargeID, ev.SessionID)
		}
		return err
	}

	if !orderflow.Allowed(order.Status, models.OrderStatusCancelled) {
		log.Warnf("[Intake] refund %s on order %s in status %s, order left untouched", ev.ChargeID, order.OrderNo, order.Status)
		return nil
	}

	reason := EventChargeRefunded
	if ev.Reason != "" {
		reason = reason + ": " + ev.Reason
	}
	if err := s.engine.Apply(ctx, order, models.OrderStatusCancelled, orderflow.SystemActor("intake"), reason); err != nil {
		return err
	}
	log.Infof("[Intake] order %s cancelled by refund %s", order.OrderNo, ev.ChargeID)
	return nil
}
