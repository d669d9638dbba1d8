package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"kashee-notify/internal/common/httpclient"
	"kashee-notify/internal/models"
)

// WebhookConfig configures the outbound webhook adapter.
type WebhookConfig struct {
	URL    string
	Secret string // optional HMAC signing key
}

// webhookEnvelope is the stable payload contract posted to subscribers.
type webhookEnvelope struct {
	NotificationID int64                  `json:"notification_id"`
	Recipient      int64                  `json:"recipient"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	Category       string                 `json:"category"`
	DeepLink       string                 `json:"deep_link"`
	Context        map[string]interface{} `json:"context"`
	Timestamp      string                 `json:"timestamp"`
}

// WebhookAdapter posts notification envelopes to a configured endpoint. A
// circuit breaker shields the worker pool from a dead subscriber.
type WebhookAdapter struct {
	http    *httpclient.Client
	cfg     WebhookConfig
	breaker *gobreaker.CircuitBreaker
}

func NewWebhookAdapter(client *httpclient.Client, cfg WebhookConfig) *WebhookAdapter {
	return &WebhookAdapter{
		http: client,
		cfg:  cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "webhook",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (*WebhookAdapter) Channel() models.Channel { return models.ChannelWebhook }

func (a *WebhookAdapter) Send(ctx context.Context, job *Job) models.SendResult {
	if a.cfg.URL == "" {
		return models.SendResult{Status: models.StatusSkipped, Error: "no webhook url configured"}
	}
	n := job.Notification

	payload, err := json.Marshal(webhookEnvelope{
		NotificationID: n.ID,
		Recipient:      n.RecipientID,
		Title:          n.Title,
		Body:           n.Body,
		Category:       n.Category,
		DeepLink:       n.DeepLinkURL,
		Context:        n.Context,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return models.SendResult{Status: models.StatusFailed, Error: "envelope marshal: " + err.Error(), Permanent: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return models.SendResult{Status: models.StatusFailed, Error: err.Error(), Permanent: true}
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(a.cfg.Secret))
		mac.Write(payload)
		req.Header.Set("X-Kashee-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.http.Do(req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return models.SendResult{Status: models.StatusFailed, Error: "webhook circuit open"}
		}
		return models.SendResult{Status: models.StatusFailed, Error: err.Error()}
	}
	resp := out.(*http.Response)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return models.SendResult{Status: models.StatusDelivered, Response: string(raw)}
	}
	// 4xx other than timeouts and throttling will not recover on retry
	permanent := resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests
	return models.SendResult{
		Status:    models.StatusFailed,
		Response:  string(raw),
		Error:     fmt.Sprintf("webhook status %d", resp.StatusCode),
		Permanent: permanent,
	}
}
