// Package notification formats and delivers transactional order emails
// through an outbound email-provider HTTP API. Delivery is best-effort: the
// payment flow never fails because an email could not be sent.
package notification

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
)

var ErrMissingAPIKey = errors.New("notification: email API key is required")

type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

type Sender interface {
	Send(ctx context.Context, msg Email) error
}

type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewClient builds a sender for a Resend-compatible email API. The request
// timeout bounds worst-case callback latency when the provider is slow.
func NewClient(apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}, nil
}

func (c *Client) Send(ctx context.Context, msg Email) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notification: failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notification: failed to build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification: email request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification: email provider returned %d: %s", resp.StatusCode, string(snippet))
	}

	return nil
}
