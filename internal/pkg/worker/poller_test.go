package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/notify"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/orderflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFakeNotImplemented = errors.New("not implemented in fake")

// fakeOrderRepo keeps orders in memory and mimics the lease semantics of the
// real repository.
type fakeOrderRepo struct {
	orders     map[uint]*models.Order
	timeline   map[uint][]models.OrderTransition
	runnable   []uint
	lockDenied map[uint]bool
	lockErr    error
	failures   []string
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		orders:     make(map[uint]*models.Order),
		timeline:   make(map[uint][]models.OrderTransition),
		lockDenied: make(map[uint]bool),
	}
}

func (f *fakeOrderRepo) add(order *models.Order) *models.Order {
	f.orders[order.ID] = order
	f.runnable = append(f.runnable, order.ID)
	return order
}

func (f *fakeOrderRepo) FindRunnable(now time.Time, limit int) ([]models.Order, error) {
	out := make([]models.Order, 0, len(f.runnable))
	for _, id := range f.runnable {
		if len(out) >= limit {
			break
		}
		out = append(out, *f.orders[id])
	}
	return out, nil
}

func (f *fakeOrderRepo) AcquireLock(id uint, owner string, lease time.Duration) (bool, error) {
	if f.lockErr != nil {
		return false, f.lockErr
	}
	if f.lockDenied[id] {
		return false, nil
	}
	until := time.Now().Add(lease)
	f.orders[id].LockedBy = owner
	f.orders[id].LockedUntil = &until
	return true, nil
}

func (f *fakeOrderRepo) ReleaseLock(id uint, owner string) (bool, error) {
	o := f.orders[id]
	if o.LockedBy != owner {
		return false, nil
	}
	o.LockedBy = ""
	o.LockedUntil = nil
	return true, nil
}

func (f *fakeOrderRepo) SetNeedsRun(id uint, needsRun bool) error {
	f.orders[id].NeedsRun = needsRun
	return nil
}

func (f *fakeOrderRepo) SetDeliverableKey(id uint, key string) error {
	f.orders[id].DeliverableKey = key
	return nil
}

func (f *fakeOrderRepo) RecordAttemptFailure(id uint, lastError string) error {
	f.orders[id].AttemptCount++
	f.orders[id].LastError = lastError
	f.failures = append(f.failures, lastError)
	return nil
}

func (f *fakeOrderRepo) TimelineByOrderID(orderID uint) ([]models.OrderTransition, error) {
	return f.timeline[orderID], nil
}

func (f *fakeOrderRepo) Create(*models.Order) error { return errFakeNotImplemented }
func (f *fakeOrderRepo) CreateIfNotExists(*models.Order) (bool, *models.Order, error) {
	return false, nil, errFakeNotImplemented
}
func (f *fakeOrderRepo) GetByID(uint) (*models.Order, error)        { return nil, errFakeNotImplemented }
func (f *fakeOrderRepo) GetByOrderNo(string) (*models.Order, error) { return nil, errFakeNotImplemented }
func (f *fakeOrderRepo) GetByProviderSession(string, string) (*models.Order, error) {
	return nil, errFakeNotImplemented
}
func (f *fakeOrderRepo) List(int, int) ([]models.Order, error) { return nil, errFakeNotImplemented }
func (f *fakeOrderRepo) ListByStatus(string, int, int) ([]models.Order, error) {
	return nil, errFakeNotImplemented
}
func (f *fakeOrderRepo) Count() (int64, error)               { return 0, errFakeNotImplemented }
func (f *fakeOrderRepo) CountByStatus(string) (int64, error) { return 0, errFakeNotImplemented }

// fakeApplier enforces the transition whitelist and mirrors the engine's
// writes onto the fake repository.
type fakeApplier struct {
	repo    *fakeOrderRepo
	applied []models.OrderTransition
	failOn  map[string]error
}

func (a *fakeApplier) Apply(ctx context.Context, order *models.Order, to string, actor orderflow.Actor, reason string) error {
	if err := a.failOn[to]; err != nil {
		return err
	}
	if !orderflow.Allowed(order.Status, to) {
		return orderflow.ErrInvalidTransition
	}
	tr := models.OrderTransition{
		OrderID:    order.ID,
		FromStatus: order.Status,
		ToStatus:   to,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	order.Status = to
	order.NeedsRun = false
	a.applied = append(a.applied, tr)
	if stored, ok := a.repo.orders[order.ID]; ok {
		stored.Status = to
		stored.NeedsRun = false
	}
	a.repo.timeline[order.ID] = append(a.repo.timeline[order.ID], tr)
	return nil
}

func (a *fakeApplier) lastReason() string {
	if len(a.applied) == 0 {
		return ""
	}
	return a.applied[len(a.applied)-1].Reason
}

// stubSender records requests and answers with scripted outcomes per
// idempotency key, defaulting to sent.
type stubSender struct {
	outcomes map[string]notify.SendOutcome
	err      error
	requests []notify.SendRequest
}

func (s *stubSender) Send(ctx context.Context, req notify.SendRequest) (*notify.SendResult, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	outcome := notify.OutcomeSent
	if s.outcomes != nil {
		if o, ok := s.outcomes[req.IdempotencyKey]; ok {
			outcome = o
		}
	}
	return &notify.SendResult{Outcome: outcome}, nil
}

func (s *stubSender) byKey(key string) *notify.SendRequest {
	for i := range s.requests {
		if s.requests[i].IdempotencyKey == key {
			return &s.requests[i]
		}
	}
	return nil
}

type fakeStore struct {
	objects map[string][]byte
	putErr  error
	urlErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if s.putErr != nil {
		return s.putErr
	}
	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, body); err != nil {
		return err
	}
	s.objects[key] = buf.Bytes()
	return nil
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) DownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.urlErr != nil {
		return "", s.urlErr
	}
	return "https://files.test/" + key, nil
}

func (s *fakeStore) soleKey(t *testing.T) string {
	t.Helper()
	require.Len(t, s.objects, 1)
	for key := range s.objects {
		return key
	}
	return ""
}

type stubGenerator struct {
	err   error
	calls int
}

func (g *stubGenerator) GenerateDraft(ctx context.Context, order *models.Order) (*Document, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &Document{
		FileName:    "draft.md",
		ContentType: "text/markdown",
		Body:        []byte("# Draft for " + order.OrderNo),
	}, nil
}

type stubRenderer struct {
	err   error
	calls int
}

func (r *stubRenderer) RenderFinal(ctx context.Context, order *models.Order) (*Document, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &Document{
		FileName:    order.ServiceCode + "_final.txt",
		ContentType: "text/plain",
		Body:        []byte("final deliverable for " + order.OrderNo),
	}, nil
}

type pollerFixture struct {
	repo     *fakeOrderRepo
	applier  *fakeApplier
	sender   *stubSender
	store    *fakeStore
	gen      *stubGenerator
	renderer *stubRenderer
}

func newTestPoller(t *testing.T) (*Poller, *pollerFixture) {
	t.Helper()

	fx := &pollerFixture{
		repo:     newFakeOrderRepo(),
		sender:   &stubSender{},
		store:    newFakeStore(),
		gen:      &stubGenerator{},
		renderer: &stubRenderer{},
	}
	fx.applier = &fakeApplier{repo: fx.repo, failOn: make(map[string]error)}

	p := NewPoller("worker-test-1", fx.repo, fx.applier, fx.sender, fx.store, fx.gen, fx.renderer)
	return p, fx
}

func seedOrder(fx *pollerFixture, id uint, status string) *models.Order {
	return fx.repo.add(&models.Order{
		ID:          id,
		OrderNo:     models.NewOrderNo(),
		UserID:      7,
		ServiceCode: "cv_rewrite",
		Plan:        "priority",
		AmountCents: 4900,
		Currency:    "EUR",
		Status:      status,
	})
}

func TestProcessBatchAdvancesPaidOrderAndSendsReceipt(t *testing.T) {
	p, fx := newTestPoller(t)
	order := seedOrder(fx, 1, models.OrderStatusPaid)

	stats, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Scanned: 1, Processed: 1}, stats)
	assert.Equal(t, models.OrderStatusQueued, fx.repo.orders[1].Status)
	assert.Empty(t, fx.repo.orders[1].LockedBy, "lease should be released after the step")

	req := fx.sender.byKey("order-paid:" + order.OrderNo)
	require.NotNil(t, req)
	assert.Equal(t, notify.TemplateOrderReceived, req.TemplateKey)
	assert.Equal(t, order.UserID, req.SubjectID)
	assert.Equal(t, order.ID, req.OrderID)
	assert.Equal(t, "49.00 EUR", req.Context["amount"])
}

func TestProcessBatchRunsFullGenerationFromQueued(t *testing.T) {
	p, fx := newTestPoller(t)
	seedOrder(fx, 1, models.OrderStatusQueued)

	stats, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, models.OrderStatusDraftReady, fx.repo.orders[1].Status)

	require.Len(t, fx.applier.applied, 2)
	assert.Equal(t, models.OrderStatusInProgress, fx.applier.applied[0].ToStatus)
	assert.Equal(t, models.OrderStatusDraftReady, fx.applier.applied[1].ToStatus)
	assert.Equal(t, models.ActorTypeSystem, fx.applier.applied[0].ActorType)

	assert.True(t, strings.HasPrefix(fx.store.soleKey(t), "drafts/"))
}

func TestProcessBatchSkipsLockedOrders(t *testing.T) {
	p, fx := newTestPoller(t)
	seedOrder(fx, 1, models.OrderStatusQueued)
	fx.repo.lockDenied[1] = true

	stats, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Scanned: 1, Skipped: 1}, stats)
	assert.Empty(t, fx.applier.applied)
	assert.Empty(t, fx.sender.requests)
}

func TestProcessBatchStopsWhenContextCancelled(t *testing.T) {
	p, fx := newTestPoller(t)
	seedOrder(fx, 1, models.OrderStatusPaid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ProcessBatch(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.OrderStatusPaid, fx.repo.orders[1].Status)
}

func TestGenerationFailureFailsTheOrder(t *testing.T) {
	p, fx := newTestPoller(t)
	seedOrder(fx, 1, models.OrderStatusQueued)
	fx.gen.err = errors.New("model backend down")

	stats, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, models.OrderStatusFailed, fx.repo.orders[1].Status)
	assert.Equal(t, 1, fx.repo.orders[1].AttemptCount)
	assert.Contains(t, fx.repo.orders[1].LastError, "generate: model backend down")
}

func TestNotificationErrorDoesNotFailTheStep(t *testing.T) {
	p, fx := newTestPoller(t)
	seedOrder(fx, 1, models.OrderStatusPaid)
	fx.sender.err = errors.New("smtp relay unreachable")

	stats, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, models.OrderStatusQueued, fx.repo.orders[1].Status)
}

func TestDraftReadyMovesToReviewAndAlertsReviewer(t *testing.T) {
	p, fx := newTestPoller(t)
	order := seedOrder(fx, 1, models.OrderStatusDraftReady)

	_, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusInternalReview, fx.repo.orders[1].Status)

	req := fx.sender.byKey("review:" + order.OrderNo + ":round-1")
	require.NotNil(t, req)
	assert.Equal(t, notify.TemplateReviewRequested, req.TemplateKey)
	assert.Equal(t, uint(1), req.SubjectID, "review alerts go to the staff reviewer account")
	assert.Equal(t, "1", req.Context["round"])
}

func TestRegenRequestedRegeneratesStraightIntoReview(t *testing.T) {
	p, fx := newTestPoller(t)
	order := seedOrder(fx, 1, models.OrderStatusRegenRequested)
	// One review round already happened before the admin sent it back.
	fx.repo.timeline[1] = []models.OrderTransition{
		{OrderID: 1, FromStatus: models.OrderStatusDraftReady, ToStatus: models.OrderStatusInternalReview},
	}

	_, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusInternalReview, fx.repo.orders[1].Status)
	require.Len(t, fx.applier.applied, 2)
	assert.Equal(t, models.OrderStatusRegenerating, fx.applier.applied[0].ToStatus)
	assert.Equal(t, "draft regenerated", fx.applier.applied[1].Reason)

	assert.True(t, strings.HasPrefix(fx.store.soleKey(t), "drafts/"))
	req := fx.sender.byKey("review:" + order.OrderNo + ":round-2")
	require.NotNil(t, req, "second review round gets its own idempotency key")
}

func TestFinalisingUploadsDeliverableAndMovesToDelivering(t *testing.T) {
	p, fx := newTestPoller(t)
	seedOrder(fx, 1, models.OrderStatusFinalising)

	_, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusDelivering, fx.repo.orders[1].Status)
	assert.Equal(t, "deliverable uploaded", fx.applier.lastReason())

	key := fx.store.soleKey(t)
	assert.True(t, strings.HasPrefix(key, "deliverables/"))
	assert.Equal(t, key, fx.repo.orders[1].DeliverableKey)
}

func TestFinalisingSkipsRenderWhenDeliverableAlreadyUploaded(t *testing.T) {
	p, fx := newTestPoller(t)
	order := seedOrder(fx, 1, models.OrderStatusFinalising)
	order.DeliverableKey = "deliverables/2024/03/" + order.OrderNo + "/cv_rewrite_final.txt"
	fx.store.objects[order.DeliverableKey] = []byte("already there")

	_, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusDelivering, fx.repo.orders[1].Status)
	assert.Equal(t, "deliverable already uploaded", fx.applier.lastReason())
	assert.Zero(t, fx.renderer.calls)
}

func TestUploadFailureFailsTheOrder(t *testing.T) {
	p, fx := newTestPoller(t)
	seedOrder(fx, 1, models.OrderStatusFinalising)
	fx.store.putErr = errors.New("bucket gone")

	stats, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, models.OrderStatusFailed, fx.repo.orders[1].Status)
	assert.Contains(t, fx.repo.orders[1].LastError, "upload: bucket gone")
}

func TestDeliveringSendsDownloadLinkAndCompletes(t *testing.T) {
	p, fx := newTestPoller(t)
	order := seedOrder(fx, 1, models.OrderStatusDelivering)
	order.DeliverableKey = "deliverables/2024/03/" + order.OrderNo + "/cv_rewrite_final.txt"

	_, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCompleted, fx.repo.orders[1].Status)

	email := fx.sender.byKey("order-delivery:" + order.OrderNo)
	require.NotNil(t, email)
	assert.Equal(t, notify.TemplateOrderDelivered, email.TemplateKey)
	assert.Equal(t, "https://files.test/"+order.DeliverableKey, email.Context["download_url"])
	assert.Equal(t, "72", email.Context["link_expiry_hours"])

	sms := fx.sender.byKey("order-delivery-sms:" + order.OrderNo)
	require.NotNil(t, sms, "SMS heads-up rides along with the delivery email")
	assert.Equal(t, notify.TemplateOrderDeliveredSMS, sms.TemplateKey)
}

func TestDeliveringThrottledStaysAndFlagsNeedsRun(t *testing.T) {
	p, fx := newTestPoller(t)
	order := seedOrder(fx, 1, models.OrderStatusDelivering)
	order.DeliverableKey = "deliverables/2024/03/" + order.OrderNo + "/cv_rewrite_final.txt"
	fx.sender.outcomes = map[string]notify.SendOutcome{
		"order-delivery:" + order.OrderNo: notify.OutcomeDeferredThrottled,
	}

	_, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusDelivering, fx.repo.orders[1].Status)
	assert.True(t, fx.repo.orders[1].NeedsRun)
	assert.Nil(t, fx.sender.byKey("order-delivery-sms:"+order.OrderNo))
}

func TestDeliveringFailedOutcomeMovesToDeliveryFailed(t *testing.T) {
	p, fx := newTestPoller(t)
	order := seedOrder(fx, 1, models.OrderStatusDelivering)
	order.DeliverableKey = "deliverables/2024/03/" + order.OrderNo + "/cv_rewrite_final.txt"
	fx.sender.outcomes = map[string]notify.SendOutcome{
		"order-delivery:" + order.OrderNo: notify.OutcomeFailed,
	}

	_, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusDeliveryFailed, fx.repo.orders[1].Status)

	alert := fx.sender.byKey("delivery-failed:" + order.OrderNo)
	require.NotNil(t, alert)
	assert.Equal(t, notify.TemplateOpsAlert, alert.TemplateKey)
	assert.Contains(t, alert.Context["summary"], order.OrderNo)
}

func TestDeliveringWithoutDeliverableKeyFailsDelivery(t *testing.T) {
	p, fx := newTestPoller(t)
	order := seedOrder(fx, 1, models.OrderStatusDelivering)

	_, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusDeliveryFailed, fx.repo.orders[1].Status)
	alert := fx.sender.byKey("delivery-failed:" + order.OrderNo)
	require.NotNil(t, alert)
	assert.Equal(t, "deliverable key missing", alert.Context["detail"])
}

func TestInternalReviewRedispatchResendsAlertAndClearsFlag(t *testing.T) {
	p, fx := newTestPoller(t)
	order := seedOrder(fx, 1, models.OrderStatusInternalReview)
	order.NeedsRun = true
	fx.repo.timeline[1] = []models.OrderTransition{
		{OrderID: 1, FromStatus: models.OrderStatusDraftReady, ToStatus: models.OrderStatusInternalReview},
	}

	_, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusInternalReview, fx.repo.orders[1].Status)
	assert.False(t, fx.repo.orders[1].NeedsRun)
	require.NotNil(t, fx.sender.byKey("review:"+order.OrderNo+":round-1"))
}

func TestClientInputRedispatchNotifiesCustomer(t *testing.T) {
	p, fx := newTestPoller(t)
	order := seedOrder(fx, 1, models.OrderStatusClientInputRequired)
	order.NeedsRun = true
	fx.repo.timeline[1] = []models.OrderTransition{
		{OrderID: 1, FromStatus: models.OrderStatusDraftReady, ToStatus: models.OrderStatusInternalReview},
		{OrderID: 1, FromStatus: models.OrderStatusInternalReview, ToStatus: models.OrderStatusClientInputRequired},
	}

	_, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.False(t, fx.repo.orders[1].NeedsRun)

	req := fx.sender.byKey("input-request:" + order.OrderNo + ":round-1")
	require.NotNil(t, req)
	assert.Equal(t, notify.TemplateClientInputRequest, req.TemplateKey)
	assert.Equal(t, order.UserID, req.SubjectID, "input requests go to the customer")
}

func TestProcessBatchCountsLockErrorsAsFailed(t *testing.T) {
	p, fx := newTestPoller(t)
	seedOrder(fx, 1, models.OrderStatusPaid)
	fx.repo.lockErr = errors.New("db gone")

	stats, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Scanned: 1, Failed: 1}, stats)
	assert.Empty(t, fx.applier.applied)
}
