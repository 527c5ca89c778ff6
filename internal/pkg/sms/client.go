package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/env"
)

// Client talks to the SMS gateway's JSON API.
type Client struct {
	APIURL string
	APIKey string
	Sender string

	HTTPClient *http.Client
}

type sendRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

// NewClientFromEnv builds a client from SMS_* environment configuration.
func NewClientFromEnv() *Client {
	return &Client{
		APIURL: strings.TrimSpace(env.GetEnv("SMS_API_URL", "")),
		APIKey: strings.TrimSpace(env.GetEnv("SMS_API_KEY", "")),
		Sender: strings.TrimSpace(env.GetEnv("SMS_SENDER", "DraftDesk")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Send submits one message and returns the gateway's message id.
func (c *Client) Send(ctx context.Context, to, body string) (string, error) {
	if strings.TrimSpace(c.APIURL) == "" || strings.TrimSpace(c.APIKey) == "" {
		return "", errors.New("SMS_API_URL/SMS_API_KEY are not configured")
	}
	if strings.TrimSpace(to) == "" {
		return "", errors.New("recipient number is required")
	}

	payload, err := json.Marshal(sendRequest{
		To:   strings.TrimSpace(to),
		From: c.Sender,
		Body: body,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sms gateway send failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out sendResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("sms gateway rejected message: %s", out.Error)
	}
	if strings.TrimSpace(out.MessageID) == "" {
		return "", errors.New("sms gateway returned empty message_id")
	}
	return out.MessageID, nil
}
