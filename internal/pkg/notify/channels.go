package notify

import (
	"context"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/mail"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/sms"
)

// EmailChannel delivers through the SMTP mailer.
type EmailChannel struct{}

func (EmailChannel) Name() string { return models.ChannelEmail }

func (EmailChannel) Deliver(ctx context.Context, recipient, subject, body string) (string, error) {
	_ = ctx
	return mail.Send(recipient, subject, body)
}

// SMSChannel delivers through the SMS gateway client.
type SMSChannel struct {
	client *sms.Client
}

func NewSMSChannel(client *sms.Client) *SMSChannel {
	return &SMSChannel{client: client}
}

func (c *SMSChannel) Name() string { return models.ChannelSMS }

// Deliver sends the body only, SMS has no subject line.
func (c *SMSChannel) Deliver(ctx context.Context, recipient, subject, body string) (string, error) {
	_ = subject
	return c.client.Send(ctx, recipient, body)
}
