package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/app/repository"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/docstore"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/env"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/notify"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/orderflow"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultBatchSize = 10
	leaseDuration    = 5 * time.Minute
	downloadLinkTTL  = 72 * time.Hour
)

// Applier applies validated order transitions. Satisfied by
// *orderflow.Engine.
type Applier interface {
	Apply(ctx context.Context, order *models.Order, to string, actor orderflow.Actor, reason string) error
}

// BatchStats reports what one ProcessBatch pass did.
type BatchStats struct {
	Scanned   int `json:"scanned"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Poller advances runnable orders through the pipeline. Each order is
// processed under a lease: acquire, run one macro-step, release. Every step
// is idempotent, so a crashed worker's order is simply picked up again after
// the lease expires.
type Poller struct {
	workerID string
	orders   repository.OrderRepository
	engine   Applier
	sender   notify.Sender
	store    docstore.Store
	gen      Generator
	renderer Renderer
	lease    time.Duration
}

// NewPoller creates a poller from injected dependencies.
func NewPoller(workerID string, orders repository.OrderRepository, engine Applier, sender notify.Sender, store docstore.Store, gen Generator, renderer Renderer) *Poller {
	return &Poller{
		workerID: workerID,
		orders:   orders,
		engine:   engine,
		sender:   sender,
		store:    store,
		gen:      gen,
		renderer: renderer,
		lease:    leaseDuration,
	}
}

// NewPollerFromDB wires the production poller. A misconfigured docstore is
// logged and replaced with local storage so the pipeline keeps moving.
func NewPollerFromDB(db *gorm.DB) *Poller {
	store, err := docstore.NewFromEnv()
	if err != nil {
		log.Errorf("[Poller] docstore unavailable, falling back to local storage: %v", err)
		store = docstore.NewLocalStore(env.GetEnv("DOCSTORE_LOCAL_DIR", "./deliverables"))
	}
	return NewPoller(
		newWorkerID(),
		repository.NewOrderRepository(db),
		orderflow.NewEngine(db),
		notify.NewOrchestratorFromDB(db),
		store,
		DraftGenerator{},
		TextRenderer{},
	)
}

func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

// ProcessBatch runs one poll pass: find runnable orders, lease each one and
// run its macro-step. Safe to call concurrently from multiple processes, the
// lease keeps two workers off the same order.
func (p *Poller) ProcessBatch(ctx context.Context, maxJobs int) (BatchStats, error) {
	if maxJobs <= 0 {
		maxJobs = defaultBatchSize
	}
	var stats BatchStats

	orders, err := p.orders.FindRunnable(time.Now(), maxJobs)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(orders)

	for i := range orders {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		order := &orders[i]

		acquired, err := p.orders.AcquireLock(order.ID, p.workerID, p.lease)
		if err != nil {
			stats.Failed++
			log.Errorf("[Poller] failed to lock order %s: %v", order.OrderNo, err)
			continue
		}
		if !acquired {
			stats.Skipped++
			continue
		}

		if err := p.step(ctx, order); err != nil {
			stats.Failed++
			log.Errorf("[Poller] order %s step in %s failed: %v", order.OrderNo, order.Status, err)
		} else {
			stats.Processed++
		}

		released, err := p.orders.ReleaseLock(order.ID, p.workerID)
		if err != nil {
			log.Errorf("[Poller] failed to release lock on order %s: %v", order.OrderNo, err)
		} else if !released {
			log.Warnf("[Poller] lease on order %s expired mid-step", order.OrderNo)
		}
	}
	return stats, nil
}

// step runs exactly one macro-step for the order's current status.
func (p *Poller) step(ctx context.Context, order *models.Order) error {
	switch order.Status {
	case models.OrderStatusPaid:
		return p.stepPaid(ctx, order)
	case models.OrderStatusQueued:
		return p.stepQueued(ctx, order)
	case models.OrderStatusInProgress, models.OrderStatusRegenerating:
		// A crashed worker left generation unfinished; run it again.
		return p.runGeneration(ctx, order)
	case models.OrderStatusDraftReady:
		return p.stepDraftReady(ctx, order)
	case models.OrderStatusRegenRequested:
		return p.stepRegenRequested(ctx, order)
	case models.OrderStatusFinalising:
		return p.stepFinalising(ctx, order)
	case models.OrderStatusDelivering:
		return p.stepDelivering(ctx, order)
	case models.OrderStatusInternalReview:
		return p.redispatchReviewAlert(ctx, order)
	case models.OrderStatusClientInputRequired:
		return p.redispatchInputRequest(ctx, order)
	default:
		log.Debugf("[Poller] order %s in %s has no worker step", order.OrderNo, order.Status)
		return nil
	}
}

func (p *Poller) stepPaid(ctx context.Context, order *models.Order) error {
	if err := p.apply(ctx, order, models.OrderStatusQueued, "payment confirmed"); err != nil {
		return err
	}
	p.notifyOrder(ctx, order, notify.TemplateOrderReceived, "order-paid:"+order.OrderNo, map[string]string{
		"order_no": order.OrderNo,
		"service":  order.ServiceCode,
		"amount":   formatAmount(order.AmountCents, order.Currency),
	})
	return nil
}

func (p *Poller) stepQueued(ctx context.Context, order *models.Order) error {
	if err := p.apply(ctx, order, models.OrderStatusInProgress, "generation started"); err != nil {
		return err
	}
	return p.runGeneration(ctx, order)
}

func (p *Poller) stepRegenRequested(ctx context.Context, order *models.Order) error {
	if err := p.apply(ctx, order, models.OrderStatusRegenerating, "regeneration started"); err != nil {
		return err
	}
	return p.runGeneration(ctx, order)
}

// runGeneration produces the draft and stores it. Entered from in_progress
// (first draft, moves to draft_ready) or regenerating (revision, moves
// straight back to internal_review).
func (p *Poller) runGeneration(ctx context.Context, order *models.Order) error {
	doc, err := p.gen.GenerateDraft(ctx, order)
	if err != nil {
		p.failOrder(ctx, order, "generate: "+err.Error())
		return err
	}

	key := docstore.DraftKey(order.OrderNo, doc.FileName, time.Now())
	if err := p.store.Put(ctx, key, bytes.NewReader(doc.Body), int64(len(doc.Body)), doc.ContentType); err != nil {
		p.failOrder(ctx, order, "store draft: "+err.Error())
		return err
	}

	switch order.Status {
	case models.OrderStatusRegenerating:
		if err := p.apply(ctx, order, models.OrderStatusInternalReview, "draft regenerated"); err != nil {
			return err
		}
		p.sendReviewAlert(ctx, order)
		return nil
	default:
		return p.apply(ctx, order, models.OrderStatusDraftReady, "draft generated")
	}
}

func (p *Poller) stepDraftReady(ctx context.Context, order *models.Order) error {
	if err := p.apply(ctx, order, models.OrderStatusInternalReview, "draft awaiting review"); err != nil {
		return err
	}
	p.sendReviewAlert(ctx, order)
	return nil
}

func (p *Poller) stepFinalising(ctx context.Context, order *models.Order) error {
	// A crash after upload leaves the key set; skip straight to delivery.
	if order.DeliverableKey != "" {
		if ok, err := p.store.Exists(ctx, order.DeliverableKey); err == nil && ok {
			return p.apply(ctx, order, models.OrderStatusDelivering, "deliverable already uploaded")
		}
	}

	doc, err := p.renderer.RenderFinal(ctx, order)
	if err != nil {
		p.failOrder(ctx, order, "render: "+err.Error())
		return err
	}

	key := docstore.DeliverableKey(order.OrderNo, doc.FileName, time.Now())
	if err := p.store.Put(ctx, key, bytes.NewReader(doc.Body), int64(len(doc.Body)), doc.ContentType); err != nil {
		p.failOrder(ctx, order, "upload: "+err.Error())
		return err
	}
	if err := p.orders.SetDeliverableKey(order.ID, key); err != nil {
		return err
	}
	order.DeliverableKey = key

	return p.apply(ctx, order, models.OrderStatusDelivering, "deliverable uploaded")
}

func (p *Poller) stepDelivering(ctx context.Context, order *models.Order) error {
	if order.DeliverableKey == "" {
		p.failDelivery(ctx, order, "deliverable key missing")
		return nil
	}

	url, err := p.store.DownloadURL(ctx, order.DeliverableKey, downloadLinkTTL)
	if err != nil {
		p.failDelivery(ctx, order, "presign: "+err.Error())
		return nil
	}

	res, err := p.sender.Send(ctx, notify.SendRequest{
		TemplateKey: notify.TemplateOrderDelivered,
		SubjectID:   order.UserID,
		OrderID:     order.ID,
		Context: map[string]string{
			"order_no":          order.OrderNo,
			"download_url":      url,
			"link_expiry_hours": strconv.Itoa(int(downloadLinkTTL.Hours())),
		},
		IdempotencyKey: "order-delivery:" + order.OrderNo,
	})
	if err != nil {
		return err
	}

	switch res.Outcome {
	case notify.OutcomeSent, notify.OutcomeDuplicateIgnored:
		p.notifyOrder(ctx, order, notify.TemplateOrderDeliveredSMS, "order-delivery-sms:"+order.OrderNo, map[string]string{
			"order_no": order.OrderNo,
		})
		return p.apply(ctx, order, models.OrderStatusCompleted, "deliverable sent")
	case notify.OutcomeDeferredThrottled:
		// The retry sweep or the next poll finishes the delivery.
		log.Infof("[Poller] delivery email for order %s throttled", order.OrderNo)
		return p.orders.SetNeedsRun(order.ID, true)
	default:
		p.failDelivery(ctx, order, "delivery email "+string(res.Outcome))
		return nil
	}
}

// redispatchReviewAlert re-sends the reviewer alert for an order parked in
// internal_review. The round-scoped idempotency key makes it a no-op when
// the alert already went out.
func (p *Poller) redispatchReviewAlert(ctx context.Context, order *models.Order) error {
	p.sendReviewAlert(ctx, order)
	return p.orders.SetNeedsRun(order.ID, false)
}

func (p *Poller) redispatchInputRequest(ctx context.Context, order *models.Order) error {
	round := p.roundFor(order, models.OrderStatusClientInputRequired)
	p.notifyTo(ctx, order, order.UserID, notify.TemplateClientInputRequest,
		fmt.Sprintf("input-request:%s:round-%d", order.OrderNo, round),
		map[string]string{
			"order_no": order.OrderNo,
			"service":  order.ServiceCode,
		})
	return p.orders.SetNeedsRun(order.ID, false)
}

func (p *Poller) sendReviewAlert(ctx context.Context, order *models.Order) {
	round := p.roundFor(order, models.OrderStatusInternalReview)
	p.notifyTo(ctx, order, reviewerID(), notify.TemplateReviewRequested,
		fmt.Sprintf("review:%s:round-%d", order.OrderNo, round),
		map[string]string{
			"order_no": order.OrderNo,
			"service":  order.ServiceCode,
			"plan":     order.Plan,
			"round":    strconv.Itoa(round),
		})
}

// roundFor counts how many times the order entered the status, scoping
// notification keys to the current review round.
func (p *Poller) roundFor(order *models.Order, status string) int {
	timeline, err := p.orders.TimelineByOrderID(order.ID)
	if err != nil {
		log.Errorf("[Poller] failed to load timeline for order %s: %v", order.OrderNo, err)
		return 0
	}
	round := 0
	for _, tr := range timeline {
		if tr.ToStatus == status {
			round++
		}
	}
	return round
}

func (p *Poller) apply(ctx context.Context, order *models.Order, to, reason string) error {
	return p.engine.Apply(ctx, order, to, orderflow.SystemActor(p.workerID), reason)
}

// failOrder records the attempt failure and moves the order to failed.
func (p *Poller) failOrder(ctx context.Context, order *models.Order, reason string) {
	if err := p.orders.RecordAttemptFailure(order.ID, reason); err != nil {
		log.Errorf("[Poller] failed to record failure on order %s: %v", order.OrderNo, err)
	}
	if err := p.apply(ctx, order, models.OrderStatusFailed, reason); err != nil {
		log.Errorf("[Poller] failed to fail order %s: %v", order.OrderNo, err)
	}
}

// failDelivery moves the order to delivery_failed and alerts operators.
func (p *Poller) failDelivery(ctx context.Context, order *models.Order, reason string) {
	if err := p.apply(ctx, order, models.OrderStatusDeliveryFailed, reason); err != nil {
		log.Errorf("[Poller] failed to mark order %s delivery_failed: %v", order.OrderNo, err)
		return
	}
	alert := notify.OpsAlertRequest(
		"delivery-failed:"+order.OrderNo,
		fmt.Sprintf("order %s delivery failed", order.OrderNo),
		reason,
	)
	if _, err := p.sender.Send(ctx, alert); err != nil {
		log.Errorf("[Poller] ops alert for order %s errored: %v", order.OrderNo, err)
	}
}

// notifyOrder sends a notification to the order's customer, best effort. The
// orchestrator owns retries; a dispatch problem never fails the step.
func (p *Poller) notifyOrder(ctx context.Context, order *models.Order, templateKey, idemKey string, extra map[string]string) {
	p.notifyTo(ctx, order, order.UserID, templateKey, idemKey, extra)
}

func (p *Poller) notifyTo(ctx context.Context, order *models.Order, subjectID uint, templateKey, idemKey string, extra map[string]string) {
	res, err := p.sender.Send(ctx, notify.SendRequest{
		TemplateKey:    templateKey,
		SubjectID:      subjectID,
		OrderID:        order.ID,
		Context:        extra,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		log.Errorf("[Poller] notification %s for order %s errored: %v", templateKey, order.OrderNo, err)
		return
	}
	log.Debugf("[Poller] notification %s for order %s: %s", templateKey, order.OrderNo, res.Outcome)
}

// reviewerID names the staff account that receives review alerts.
func reviewerID() uint {
	if raw := env.GetEnv("REVIEW_ALERT_USER_ID", ""); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 32); err == nil && n > 0 {
			return uint(n)
		}
	}
	return 1
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}
