package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/koltyakov/arca-edge/internal/domain"
)

// CodeSender delivers a one-time sign-in code to a customer.
type CodeSender interface {
	SendCode(ctx context.Context, username, code string) error
}

// WebhookSender posts codes to an HTTP endpoint that owns delivery (mail,
// SMS). The endpoint must answer 2xx.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender returns a sender for url. A nil client gets one with a
// 10s timeout.
func NewWebhookSender(url string, client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{url: url, client: client}
}

type codeWebhookPayload struct {
	Username string    `json:"username"`
	Code     string    `json:"code"`
	SentAt   time.Time `json:"sent_at"`
}

func (s *WebhookSender) SendCode(ctx context.Context, username, code string) error {
	body, err := json.Marshal(codeWebhookPayload{Username: username, Code: code, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: code webhook: %v", domain.ErrBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: code webhook answered HTTP %d", domain.ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}
