package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"gorm.io/gorm"
)

// In-memory stand-ins for the repositories, the rate gate and the channel
// adapters. They mirror the GORM implementations closely enough that the
// claim and dedup semantics behave like the real tables.

var errFakeNotImplemented = errors.New("not implemented in fake")

type fakeTemplates struct {
	byKey map[string]*models.MessageTemplate
}

func newFakeTemplates(templates ...*models.MessageTemplate) *fakeTemplates {
	f := &fakeTemplates{byKey: make(map[string]*models.MessageTemplate)}
	for _, tpl := range templates {
		f.byKey[tpl.TemplateKey] = tpl
	}
	return f
}

func (f *fakeTemplates) GetActiveByKey(key string) (*models.MessageTemplate, error) {
	tpl, ok := f.byKey[key]
	if !ok || !tpl.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	return tpl, nil
}

func (f *fakeTemplates) Upsert(tpl *models.MessageTemplate) error {
	f.byKey[tpl.TemplateKey] = tpl
	return nil
}

func (f *fakeTemplates) List() ([]models.MessageTemplate, error) {
	out := make([]models.MessageTemplate, 0, len(f.byKey))
	for _, tpl := range f.byKey {
		out = append(out, *tpl)
	}
	return out, nil
}

type fakeLogs struct {
	nextID uint
	rows   []*models.MessageLog
}

func (f *fakeLogs) insert(row *models.MessageLog) {
	f.nextID++
	row.ID = f.nextID
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	f.rows = append(f.rows, row)
}

func (f *fakeLogs) byID(id uint) *models.MessageLog {
	for _, r := range f.rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (f *fakeLogs) Create(row *models.MessageLog) error {
	f.insert(row)
	return nil
}

func (f *fakeLogs) ClaimSend(row *models.MessageLog) (bool, error) {
	for _, r := range f.rows {
		if r.SendClaim != nil && *r.SendClaim == row.IdempotencyKey {
			return false, nil
		}
	}
	claim := row.IdempotencyKey
	row.SendClaim = &claim
	row.Status = models.MessageStatusQueued
	f.insert(row)
	return true, nil
}

func (f *fakeLogs) MarkSent(id uint, providerMessageID string) error {
	row := f.byID(id)
	if row == nil {
		return gorm.ErrRecordNotFound
	}
	row.Status = models.MessageStatusSent
	row.ProviderMessageID = providerMessageID
	return nil
}

func (f *fakeLogs) MarkFailed(id uint, errorType string) error {
	row := f.byID(id)
	if row == nil {
		return gorm.ErrRecordNotFound
	}
	row.Status = models.MessageStatusFailed
	row.ErrorType = errorType
	row.SendClaim = nil
	return nil
}

func (f *fakeLogs) HasSentForKey(idempotencyKey string) (bool, error) {
	for _, r := range f.rows {
		if r.IdempotencyKey == idempotencyKey && r.Status == models.MessageStatusSent {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLogs) GetByID(id uint) (*models.MessageLog, error) {
	row := f.byID(id)
	if row == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (f *fakeLogs) CountFailedSince(since time.Time) (int64, error) {
	var count int64
	for _, r := range f.rows {
		if r.Status == models.MessageStatusFailed && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeLogs) FindStaleQueued(olderThan time.Time, limit int) ([]models.MessageLog, error) {
	var out []models.MessageLog
	for _, r := range f.rows {
		if r.Status == models.MessageStatusQueued && r.SendClaim != nil && r.CreatedAt.Before(olderThan) {
			out = append(out, *r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeLogs) ListRecent(offset, limit int) ([]models.MessageLog, error) {
	var out []models.MessageLog
	for i := len(f.rows) - 1; i >= 0; i-- {
		out = append(out, *f.rows[i])
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLogs) ListByOrderID(orderID uint) ([]models.MessageLog, error) {
	var out []models.MessageLog
	for _, r := range f.rows {
		if r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeRetries struct {
	nextID uint
	items  []*models.NotificationRetry
}

func (f *fakeRetries) Enqueue(item *models.NotificationRetry) error {
	for _, it := range f.items {
		if it.IdempotencyKey == item.IdempotencyKey {
			return nil
		}
	}
	f.nextID++
	item.ID = f.nextID
	f.items = append(f.items, item)
	return nil
}

func (f *fakeRetries) Due(now time.Time, limit int) ([]models.NotificationRetry, error) {
	var out []models.NotificationRetry
	for _, it := range f.items {
		if !it.NextAttemptAt.After(now) {
			out = append(out, *it)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRetries) Reschedule(item *models.NotificationRetry) error {
	for _, it := range f.items {
		if it.ID == item.ID {
			it.AttemptsSoFar = item.AttemptsSoFar
			it.NextAttemptAt = item.NextAttemptAt
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRetries) Delete(id uint) error {
	for i, it := range f.items {
		if it.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeRetries) List(offset, limit int) ([]models.NotificationRetry, error) {
	var out []models.NotificationRetry
	for _, it := range f.items {
		out = append(out, *it)
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRetries) Count() (int64, error) {
	return int64(len(f.items)), nil
}

func (f *fakeRetries) byKey(key string) *models.NotificationRetry {
	for _, it := range f.items {
		if it.IdempotencyKey == key {
			return it
		}
	}
	return nil
}

type fakeUsers struct {
	users    map[uint]*models.User
	settings map[uint]*models.UserSettings
}

func (f *fakeUsers) GetByID(id uint) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetSettings(userID uint) (*models.UserSettings, error) {
	if s, ok := f.settings[userID]; ok {
		return s, nil
	}
	return &models.UserSettings{UserID: userID, Plan: "standard", NotifyEmail: true}, nil
}

func (f *fakeUsers) Create(*models.User) error  { return errFakeNotImplemented }
func (f *fakeUsers) Update(*models.User) error  { return errFakeNotImplemented }
func (f *fakeUsers) GetByEmail(string) (*models.User, error) {
	return nil, errFakeNotImplemented
}
func (f *fakeUsers) GetOrCreateByEmail(string, string) (*models.User, error) {
	return nil, errFakeNotImplemented
}
func (f *fakeUsers) GetByAPIKeyHash(string) (*models.User, *models.UserSettings, error) {
	return nil, nil, errFakeNotImplemented
}
func (f *fakeUsers) SaveSettings(*models.UserSettings) error { return errFakeNotImplemented }
func (f *fakeUsers) List(int, int) ([]models.User, error)    { return nil, errFakeNotImplemented }
func (f *fakeUsers) Count() (int64, error)                   { return 0, nil }

type fakeOrders struct {
	orders map[uint]*models.Order
}

func (f *fakeOrders) GetByID(id uint) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return o, nil
}

func (f *fakeOrders) Create(*models.Order) error { return errFakeNotImplemented }
func (f *fakeOrders) CreateIfNotExists(*models.Order) (bool, *models.Order, error) {
	return false, nil, errFakeNotImplemented
}
func (f *fakeOrders) GetByOrderNo(string) (*models.Order, error) { return nil, errFakeNotImplemented }
func (f *fakeOrders) GetByProviderSession(string, string) (*models.Order, error) {
	return nil, errFakeNotImplemented
}
func (f *fakeOrders) SetNeedsRun(uint, bool) error            { return errFakeNotImplemented }
func (f *fakeOrders) SetDeliverableKey(uint, string) error    { return errFakeNotImplemented }
func (f *fakeOrders) RecordAttemptFailure(uint, string) error { return errFakeNotImplemented }
func (f *fakeOrders) AcquireLock(uint, string, time.Duration) (bool, error) {
	return false, errFakeNotImplemented
}
func (f *fakeOrders) ReleaseLock(uint, string) (bool, error) { return false, errFakeNotImplemented }
func (f *fakeOrders) FindRunnable(time.Time, int) ([]models.Order, error) {
	return nil, errFakeNotImplemented
}
func (f *fakeOrders) List(int, int) ([]models.Order, error) { return nil, errFakeNotImplemented }
func (f *fakeOrders) ListByStatus(string, int, int) ([]models.Order, error) {
	return nil, errFakeNotImplemented
}
func (f *fakeOrders) Count() (int64, error)               { return 0, errFakeNotImplemented }
func (f *fakeOrders) CountByStatus(string) (int64, error) { return 0, errFakeNotImplemented }
func (f *fakeOrders) TimelineByOrderID(uint) ([]models.OrderTransition, error) {
	return nil, errFakeNotImplemented
}

type fakeSpikeState struct {
	state *models.SpikeAlertState
	saves int
}

func (f *fakeSpikeState) Get() (*models.SpikeAlertState, error) {
	if f.state == nil {
		f.state = &models.SpikeAlertState{ID: 1}
	}
	return f.state, nil
}

func (f *fakeSpikeState) Save(state *models.SpikeAlertState) error {
	f.state = state
	f.saves++
	return nil
}

type fakeGate struct {
	allow      bool
	allowCalls int
	lastChan   string
}

func (g *fakeGate) Allow(_ context.Context, channel string) (bool, error) {
	g.allowCalls++
	g.lastChan = channel
	return g.allow, nil
}

func (g *fakeGate) NextAttempt(now time.Time) time.Time {
	return now.Truncate(time.Minute).Add(time.Minute + 5*time.Second)
}

type fakeDelivery struct {
	recipient string
	subject   string
	body      string
}

type fakeChannel struct {
	name       string
	failWith   error
	deliveries []fakeDelivery
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Deliver(_ context.Context, recipient, subject, body string) (string, error) {
	if c.failWith != nil {
		return "", c.failWith
	}
	c.deliveries = append(c.deliveries, fakeDelivery{recipient: recipient, subject: subject, body: body})
	return fmt.Sprintf("prov-%d", len(c.deliveries)), nil
}

// scriptedSender answers Send calls with pre-seeded outcomes per idempotency
// key, recording every request. Keys without a script entry come back sent.
type scriptedSender struct {
	outcomes map[string]SendOutcome
	requests []SendRequest
	err      error
}

func (s *scriptedSender) Send(_ context.Context, req SendRequest) (*SendResult, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	outcome, ok := s.outcomes[req.IdempotencyKey]
	if !ok {
		outcome = OutcomeSent
	}
	return &SendResult{Outcome: outcome, Log: &models.MessageLog{IdempotencyKey: req.IdempotencyKey}}, nil
}
