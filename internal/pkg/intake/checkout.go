package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// eventEnvelope is the outer shape shared by all provider events.
type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// ParseEventEnvelope extracts the provider event id and type from a payload.
func ParseEventEnvelope(payload []byte) (eventID, eventType string, err error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", "", fmt.Errorf("malformed event payload: %w", err)
	}
	return strings.TrimSpace(env.ID), strings.TrimSpace(env.Type), nil
}

// ParseCheckoutCompletedEvent parses a checkout.session.completed payload.
func ParseCheckoutCompletedEvent(payload []byte) (*CheckoutCompletedEvent, error) {
	type rawPayload struct {
		Data struct {
			Object struct {
				ID              string `json:"id"`
				AmountTotal     int64  `json:"amount_total"`
				Currency        string `json:"currency"`
				CustomerDetails struct {
					Email string `json:"email"`
					Name  string `json:"name"`
				} `json:"customer_details"`
				Metadata struct {
					PriceRef string `json:"price_ref"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed checkout payload: %w", err)
	}

	out := &CheckoutCompletedEvent{
		SessionID:     strings.TrimSpace(raw.Data.Object.ID),
		CustomerEmail: strings.TrimSpace(raw.Data.Object.CustomerDetails.Email),
		CustomerName:  strings.TrimSpace(raw.Data.Object.CustomerDetails.Name),
		PriceRef:      strings.TrimSpace(raw.Data.Object.Metadata.PriceRef),
		AmountCents:   raw.Data.Object.AmountTotal,
		Currency:      strings.ToUpper(strings.TrimSpace(raw.Data.Object.Currency)),
	}

	if out.SessionID == "" {
		return nil, errors.New("checkout payload missing session id")
	}
	if out.CustomerEmail == "" {
		return nil, errors.New("checkout payload missing customer email")
	}
	if out.PriceRef == "" {
		return nil, errors.New("checkout payload missing price ref")
	}
	return out, nil
}

// ParseChargeRefundedEvent parses a charge.refunded payload. Charges created
// by our checkout flow carry the session id in their metadata, which is how
// a refund finds its order.
func ParseChargeRefundedEvent(payload []byte) (*ChargeRefundedEvent, error) {
	type rawPayload struct {
		Data struct {
			Object struct {
				ID       string `json:"id"`
				Metadata struct {
					CheckoutSession string `json:"checkout_session"`
				} `json:"metadata"`
				Refunds struct {
					Data []struct {
						Reason string `json:"reason"`
					} `json:"data"`
				} `json:"refunds"`
			} `json:"object"`
		} `json:"data"`
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed refund payload: %w", err)
	}

	out := &ChargeRefundedEvent{
		ChargeID:  strings.TrimSpace(raw.Data.Object.ID),
		SessionID: strings.TrimSpace(raw.Data.Object.Metadata.CheckoutSession),
	}
	if len(raw.Data.Object.Refunds.Data) > 0 {
		out.Reason = strings.TrimSpace(raw.Data.Object.Refunds.Data[0].Reason)
	}

	if out.ChargeID == "" {
		return nil, errors.New("refund payload missing charge id")
	}
	if out.SessionID == "" {
		return nil, errors.New("refund payload missing checkout session reference")
	}
	return out, nil
}
