// Package sms delivers notifications through the SMS Local HTTP API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"otp-identity/backend/internal/notify"
)

const (
	defaultTimeout = 15 * time.Second
	defaultBaseURL = "https://www.smslocal.com/dev/bulkV2"
)

// SMSLocalClient sends SMS via SMS Local. Messages carrying a code use the OTP route;
// anything else goes out as a quick text.
// See https://www.smslocal.in/help/otp-sms/ and https://www.smslocal.com/dev/bulkV2.
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewSMSLocalClient returns a client that uses the given API key and optional base URL/sender.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type sendRequest struct {
	Route     string `json:"route"`
	Numbers   string `json:"numbers"`
	Variables string `json:"variables,omitempty"`
	Message   string `json:"message,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
}

// Deliver sends msg to msg.Destination. The destination is sent as digits only. The code is never logged.
func (c *SMSLocalClient) Deliver(ctx context.Context, msg notify.Message) error {
	if c.APIKey == "" {
		return fmt.Errorf("sms: API key not configured")
	}
	number := digitsOnly(msg.Destination)
	if number == "" {
		return fmt.Errorf("sms: empty destination")
	}
	body := sendRequest{Route: "q", Numbers: number, Message: msg.Text, SenderID: c.Sender}
	if msg.Code != "" {
		body = sendRequest{Route: "otp", Numbers: number, Variables: msg.Code, SenderID: c.Sender}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
