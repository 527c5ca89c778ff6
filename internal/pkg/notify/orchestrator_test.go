package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/entitlements"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orchFixture struct {
	templates *fakeTemplates
	logs      *fakeLogs
	retries   *fakeRetries
	users     *fakeUsers
	orders    *fakeOrders
	gate      *fakeGate
	email     *fakeChannel
	sms       *fakeChannel
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *orchFixture) {
	t.Helper()

	fx := &orchFixture{
		templates: newFakeTemplates(
			&models.MessageTemplate{
				ID:          1,
				TemplateKey: "ORDER_PAID",
				Channel:     models.ChannelEmail,
				Subject:     "Order {{.order_no}} received",
				Body:        "Hi {{.recipient_name}}, we are preparing {{.order_no}}.",
				IsActive:    true,
			},
			&models.MessageTemplate{
				ID:              2,
				TemplateKey:     "DRAFT_READY_SMS",
				Channel:         models.ChannelSMS,
				Body:            "Your draft for {{.order_no}} is ready for review.",
				RequiredFeature: entitlements.FeatureSMSNotifications,
				IsActive:        true,
			},
			&models.MessageTemplate{
				ID:          3,
				TemplateKey: "OLD_PROMO",
				Channel:     models.ChannelEmail,
				Body:        "retired",
				IsActive:    false,
			},
			&models.MessageTemplate{
				ID:          4,
				TemplateKey: "BROKEN_TEMPLATE",
				Channel:     models.ChannelEmail,
				Subject:     "ok",
				Body:        "{{.order_no",
				IsActive:    true,
			},
		),
		logs:    &fakeLogs{},
		retries: &fakeRetries{},
		users: &fakeUsers{
			users: map[uint]*models.User{
				1: {ID: 1, Name: "Anna Muster", Email: "anna@example.com", Phone: "+4915112345678", Status: models.STATUS_ACTIVE},
				2: {ID: 2, Name: "Former Client", Email: "former@example.com", Status: models.STATUS_DISABLED},
				3: {ID: 3, Name: "Basic Client", Email: "basic@example.com", Phone: "+4915187654321", Status: models.STATUS_ACTIVE},
				4: {ID: 4, Name: "Quiet Client", Email: "quiet@example.com", Phone: "+4915100000000", Status: models.STATUS_ACTIVE},
				5: {ID: 5, Name: "No Phone", Email: "nophone@example.com", Status: models.STATUS_ACTIVE},
			},
			settings: map[uint]*models.UserSettings{
				1: {UserID: 1, Plan: "priority", NotifyEmail: true, NotifySMS: true},
				2: {UserID: 2, Plan: "standard", NotifyEmail: true},
				3: {UserID: 3, Plan: "standard", NotifyEmail: true, NotifySMS: true},
				4: {UserID: 4, Plan: "priority", NotifyEmail: true, NotifySMS: false},
				5: {UserID: 5, Plan: "priority", NotifyEmail: true, NotifySMS: true},
			},
		},
		orders: &fakeOrders{
			orders: map[uint]*models.Order{
				77: {ID: 77, UserID: 1, OrderNo: "DD-240101-AB12", Status: models.OrderStatusInProgress},
				99: {ID: 99, UserID: 1, OrderNo: "DD-240102-CC99", Status: models.OrderStatusCancelled},
			},
		},
		gate:  &fakeGate{allow: true},
		email: &fakeChannel{name: models.ChannelEmail},
		sms:   &fakeChannel{name: models.ChannelSMS},
	}
	o := NewOrchestrator(fx.templates, fx.logs, fx.retries, fx.users, fx.orders, fx.gate, fx.email, fx.sms)
	return o, fx
}

func TestSendDeliversAndLogsExactlyOneRow(t *testing.T) {
	o, fx := newTestOrchestrator(t)

	res, err := o.Send(context.Background(), SendRequest{
		TemplateKey:    "ORDER_PAID",
		SubjectID:      1,
		OrderID:        77,
		Context:        map[string]string{"order_no": "DD-240101-AB12"},
		IdempotencyKey: "order:77:paid",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)

	require.Len(t, fx.logs.rows, 1)
	row := fx.logs.rows[0]
	assert.Equal(t, models.MessageStatusSent, row.Status)
	assert.Equal(t, "order:77:paid", row.IdempotencyKey)
	assert.Equal(t, "ORDER_PAID", row.TemplateKey)
	assert.Equal(t, models.ChannelEmail, row.Channel)
	assert.Equal(t, uint(77), row.OrderID)
	assert.Equal(t, models.HashRecipient("anna@example.com"), row.RecipientHash)
	assert.NotEmpty(t, row.ProviderMessageID)
	// The claim is kept after sent so the key can never reach sent again.
	require.NotNil(t, row.SendClaim)
	assert.Equal(t, "order:77:paid", *row.SendClaim)

	require.Len(t, fx.email.deliveries, 1)
	d := fx.email.deliveries[0]
	assert.Equal(t, "anna@example.com", d.recipient)
	assert.Equal(t, "Order DD-240101-AB12 received", d.subject)
	assert.Equal(t, "Hi Anna Muster, we are preparing DD-240101-AB12.", d.body)

	assert.Empty(t, fx.retries.items)
	assert.Equal(t, 1, fx.gate.allowCalls)
}

func TestSendSecondCallForKeyIsDuplicateIgnored(t *testing.T) {
	o, fx := newTestOrchestrator(t)
	req := SendRequest{
		TemplateKey:    "ORDER_PAID",
		SubjectID:      1,
		Context:        map[string]string{"order_no": "DD-240101-AB12"},
		IdempotencyKey: "order:77:paid",
	}

	first, err := o.Send(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, OutcomeSent, first.Outcome)

	second, err := o.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicateIgnored, second.Outcome)

	require.Len(t, fx.logs.rows, 2)
	assert.Equal(t, models.MessageStatusDuplicateIgnored, fx.logs.rows[1].Status)
	assert.Nil(t, fx.logs.rows[1].SendClaim)
	assert.Len(t, fx.email.deliveries, 1)
}

func TestSendBlockedReasons(t *testing.T) {
	tests := []struct {
		name        string
		templateKey string
		subjectID   uint
		wantReason  string
	}{
		{"unknown template", "NO_SUCH_TEMPLATE", 1, BlockTemplateNotFound},
		{"inactive template", "OLD_PROMO", 1, BlockTemplateNotFound},
		{"unknown recipient", "ORDER_PAID", 99, BlockRecipientNotFound},
		{"inactive user", "ORDER_PAID", 2, BlockUserInactive},
		{"plan lacks feature", "DRAFT_READY_SMS", 3, BlockFeatureDisabled},
		{"channel opted out", "DRAFT_READY_SMS", 4, BlockChannelOptedOut},
		{"no recipient address", "DRAFT_READY_SMS", 5, BlockNoRecipientAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, fx := newTestOrchestrator(t)

			res, err := o.Send(context.Background(), SendRequest{
				TemplateKey:    tt.templateKey,
				SubjectID:      tt.subjectID,
				IdempotencyKey: "blocked:" + tt.name,
			})
			require.NoError(t, err)
			assert.Equal(t, OutcomeBlocked, res.Outcome)
			assert.Equal(t, tt.wantReason, res.BlockReason)

			require.Len(t, fx.logs.rows, 1)
			assert.Equal(t, models.MessageStatusBlocked, fx.logs.rows[0].Status)
			assert.Equal(t, tt.wantReason, fx.logs.rows[0].BlockReason)
			assert.Empty(t, fx.email.deliveries)
			assert.Empty(t, fx.sms.deliveries)
			assert.Empty(t, fx.retries.items)
		})
	}
}

func TestSendCancelledOrderIsBlocked(t *testing.T) {
	o, fx := newTestOrchestrator(t)

	res, err := o.Send(context.Background(), SendRequest{
		TemplateKey:    "ORDER_PAID",
		SubjectID:      1,
		OrderID:        99,
		Context:        map[string]string{"order_no": "DD-240102-CC99"},
		IdempotencyKey: "order:99:paid",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Equal(t, BlockOrderCancelled, res.BlockReason)

	require.Len(t, fx.logs.rows, 1)
	assert.Equal(t, models.MessageStatusBlocked, fx.logs.rows[0].Status)
	assert.Empty(t, fx.email.deliveries)

	// Messages without an order reference skip the order gate entirely.
	res, err = o.Send(context.Background(), SendRequest{
		TemplateKey:    "ORDER_PAID",
		SubjectID:      1,
		Context:        map[string]string{"order_no": "n/a"},
		IdempotencyKey: "ops:standalone",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)
}

func TestSendThrottledDefersAndSchedulesRetry(t *testing.T) {
	o, fx := newTestOrchestrator(t)
	fx.gate.allow = false
	before := time.Now()

	res, err := o.Send(context.Background(), SendRequest{
		TemplateKey:    "ORDER_PAID",
		SubjectID:      1,
		OrderID:        88,
		Context:        map[string]string{"order_no": "DD-240102-CD34"},
		IdempotencyKey: "order:88:paid",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferredThrottled, res.Outcome)

	require.Len(t, fx.logs.rows, 1)
	assert.Equal(t, models.MessageStatusDeferredThrottled, fx.logs.rows[0].Status)
	assert.Empty(t, fx.email.deliveries)

	require.Len(t, fx.retries.items, 1)
	item := fx.retries.items[0]
	assert.Equal(t, "order:88:paid", item.IdempotencyKey)
	assert.Equal(t, "ORDER_PAID", item.TemplateKey)
	assert.Equal(t, uint(1), item.SubjectID)
	assert.Equal(t, uint(88), item.OrderID)
	assert.Equal(t, 1, item.AttemptsSoFar)
	assert.Contains(t, item.ContextJSON, "DD-240102-CD34")
	assert.True(t, item.NextAttemptAt.After(before), "retry must land after the throttle window")
}

func TestSendHeldClaimIsDuplicateIgnored(t *testing.T) {
	o, fx := newTestOrchestrator(t)

	// Another worker claimed the key and has not reached an outcome yet.
	claimed, err := fx.logs.ClaimSend(&models.MessageLog{
		IdempotencyKey: "order:91:paid",
		TemplateKey:    "ORDER_PAID",
		Channel:        models.ChannelEmail,
	})
	require.NoError(t, err)
	require.True(t, claimed)

	res, err := o.Send(context.Background(), SendRequest{
		TemplateKey:    "ORDER_PAID",
		SubjectID:      1,
		Context:        map[string]string{"order_no": "DD-240103-EF56"},
		IdempotencyKey: "order:91:paid",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicateIgnored, res.Outcome)
	require.Len(t, fx.logs.rows, 2)
	assert.Equal(t, models.MessageStatusDuplicateIgnored, fx.logs.rows[1].Status)
	assert.Empty(t, fx.email.deliveries)
}

func TestSendDispatchFailureReleasesClaimAndEnqueuesRetry(t *testing.T) {
	o, fx := newTestOrchestrator(t)
	fx.email.failWith = errors.New("smtp: connection refused")
	before := time.Now()

	res, err := o.Send(context.Background(), SendRequest{
		TemplateKey:    "ORDER_PAID",
		SubjectID:      1,
		Context:        map[string]string{"order_no": "DD-240104-GH78"},
		IdempotencyKey: "order:94:paid",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	require.Len(t, fx.logs.rows, 1)
	row := fx.logs.rows[0]
	assert.Equal(t, models.MessageStatusFailed, row.Status)
	assert.Contains(t, row.ErrorType, "connection refused")
	assert.Nil(t, row.SendClaim)

	require.Len(t, fx.retries.items, 1)
	item := fx.retries.items[0]
	assert.Equal(t, 1, item.AttemptsSoFar)
	assert.Equal(t, defaultGiveupAfter, item.GiveupAfter)
	assert.True(t, item.NextAttemptAt.After(before))

	// With the claim released, the next trigger for the key goes through.
	fx.email.failWith = nil
	res, err = o.Send(context.Background(), SendRequest{
		TemplateKey:    "ORDER_PAID",
		SubjectID:      1,
		Context:        map[string]string{"order_no": "DD-240104-GH78"},
		IdempotencyKey: "order:94:paid",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Len(t, fx.logs.rows, 2)
	assert.Len(t, fx.email.deliveries, 1)
	// The sweep owns the retry item; a successful re-send does not remove it.
	assert.Len(t, fx.retries.items, 1)
}

func TestSendRenderFailureFailsTheDispatch(t *testing.T) {
	o, fx := newTestOrchestrator(t)

	res, err := o.Send(context.Background(), SendRequest{
		TemplateKey:    "BROKEN_TEMPLATE",
		SubjectID:      1,
		IdempotencyKey: "broken:1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	require.Len(t, fx.logs.rows, 1)
	assert.Equal(t, models.MessageStatusFailed, fx.logs.rows[0].Status)
	assert.True(t, strings.HasPrefix(fx.logs.rows[0].ErrorType, "render: "))
	assert.Empty(t, fx.email.deliveries)
	assert.Len(t, fx.retries.items, 1)
}

func TestSendRoutesSMSTemplatesToSMSChannel(t *testing.T) {
	o, fx := newTestOrchestrator(t)

	res, err := o.Send(context.Background(), SendRequest{
		TemplateKey:    "DRAFT_READY_SMS",
		SubjectID:      1,
		OrderID:        12,
		Context:        map[string]string{"order_no": "DD-240105-IJ90"},
		IdempotencyKey: "order:12:draft_ready",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)

	assert.Empty(t, fx.email.deliveries)
	require.Len(t, fx.sms.deliveries, 1)
	d := fx.sms.deliveries[0]
	assert.Equal(t, "+4915112345678", d.recipient)
	assert.Equal(t, "Your draft for DD-240105-IJ90 is ready for review.", d.body)
	assert.Equal(t, models.ChannelSMS, fx.gate.lastChan)
	assert.Equal(t, models.HashRecipient("+4915112345678"), fx.logs.rows[0].RecipientHash)
}

func TestSendMissingTemplateRenderContextRendersEmpty(t *testing.T) {
	o, fx := newTestOrchestrator(t)

	res, err := o.Send(context.Background(), SendRequest{
		TemplateKey:    "ORDER_PAID",
		SubjectID:      1,
		IdempotencyKey: "order:13:paid",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)
	require.Len(t, fx.email.deliveries, 1)
	// missingkey=zero: an absent context value renders as the empty string.
	assert.Equal(t, "Order  received", fx.email.deliveries[0].subject)
}

func TestSendRejectsMissingKeys(t *testing.T) {
	o, fx := newTestOrchestrator(t)

	_, err := o.Send(context.Background(), SendRequest{SubjectID: 1, IdempotencyKey: "k"})
	assert.Error(t, err)

	_, err = o.Send(context.Background(), SendRequest{TemplateKey: "ORDER_PAID", SubjectID: 1})
	assert.Error(t, err)

	assert.Empty(t, fx.logs.rows)
}
