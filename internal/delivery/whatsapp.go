package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"kashee-notify/internal/common/httpclient"
	"kashee-notify/internal/models"
)

// WhatsAppConfig configures the gateway-backed WhatsApp adapter.
type WhatsAppConfig struct {
	GatewayURL string
	APIKey     string
}

// WhatsAppAdapter posts messages to an HTTP WhatsApp gateway.
type WhatsAppAdapter struct {
	http *httpclient.Client
	cfg  WhatsAppConfig
}

func NewWhatsAppAdapter(client *httpclient.Client, cfg WhatsAppConfig) *WhatsAppAdapter {
	return &WhatsAppAdapter{http: client, cfg: cfg}
}

func (*WhatsAppAdapter) Channel() models.Channel { return models.ChannelWhatsApp }

func (a *WhatsAppAdapter) Send(ctx context.Context, job *Job) models.SendResult {
	if a.cfg.GatewayURL == "" {
		return models.SendResult{Status: models.StatusSkipped, Error: "no whatsapp gateway configured"}
	}
	phone := strings.TrimSpace(job.User.Phone)
	if phone == "" {
		return models.SendResult{Status: models.StatusSkipped, Error: "recipient has no phone number"}
	}
	n := job.Notification

	payload, _ := json.Marshal(map[string]string{
		"to":        phone,
		"message":   n.Body,
		"deep_link": n.DeepLinkURL,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return models.SendResult{Status: models.StatusFailed, Error: err.Error(), Permanent: true}
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return models.SendResult{Status: models.StatusFailed, Error: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return models.SendResult{Status: models.StatusDelivered, Response: string(raw)}
	}
	return models.SendResult{
		Status:    models.StatusFailed,
		Response:  string(raw),
		Error:     fmt.Sprintf("whatsapp gateway status %d", resp.StatusCode),
		Permanent: resp.StatusCode == http.StatusBadRequest,
	}
}
