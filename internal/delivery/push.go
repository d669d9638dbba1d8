package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"kashee-notify/internal/common/httpclient"
	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/contextdata"
	"kashee-notify/internal/models"
	"kashee-notify/internal/repository"
)

const (
	fcmScope           = "https://www.googleapis.com/auth/firebase.messaging"
	defaultPushChannel = "kashee_notifications"
	androidClickAction = "FLUTTER_NOTIFICATION_CLICK"
)

// PushConfig configures the FCM v1 adapter.
type PushConfig struct {
	ProjectID          string
	ServiceAccountFile string
	ChannelID          string  // Android notification channel
	RequestsPerSecond  float64 // outbound rate limit; 0 disables
}

// fcmEnvelope is the v1 message wrapper posted to the FCM endpoint.
type fcmEnvelope struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data"`
	Android      *fcmAndroid       `json:"android,omitempty"`
	APNS         *fcmAPNS          `json:"apns,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroid struct {
	Notification fcmAndroidNotification `json:"notification"`
}

type fcmAndroidNotification struct {
	ClickAction string `json:"click_action"`
	ChannelID   string `json:"channel_id"`
}

type fcmAPNS struct {
	Headers    map[string]string `json:"headers"`
	Payload    fcmAPNSPayload    `json:"payload"`
	FCMOptions *fcmOptions       `json:"fcm_options,omitempty"`
}

type fcmAPNSPayload struct {
	APS fcmAPS `json:"aps"`
}

type fcmAPS struct {
	Category string `json:"category"`
	Badge    int    `json:"badge"`
	Sound    string `json:"sound,omitempty"`
}

type fcmOptions struct {
	Image string `json:"image,omitempty"`
}

// PushAdapter posts FCM v1 messages. Requests share a circuit breaker and a
// rate limiter so one outage or burst does not exhaust the worker pool.
type PushAdapter struct {
	devices  repository.DeviceRepository
	http     *httpclient.Client
	tokens   oauth2.TokenSource
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	endpoint string
	channel  string
	log      logger.Logger
}

func NewPushAdapter(ctx context.Context, devices repository.DeviceRepository, client *httpclient.Client, cfg PushConfig, log logger.Logger) (*PushAdapter, error) {
	keyJSON, err := os.ReadFile(cfg.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("push service account: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(keyJSON, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("push service account parse: %w", err)
	}

	channel := cfg.ChannelID
	if channel == "" {
		channel = defaultPushChannel
	}
	limiterRate := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limiterRate = rate.Limit(cfg.RequestsPerSecond)
	}

	return &PushAdapter{
		devices: devices,
		http:    client,
		tokens:  oauth2.ReuseTokenSource(nil, jwtCfg.TokenSource(ctx)),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "fcm",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		limiter:  rate.NewLimiter(limiterRate, 10),
		endpoint: fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", cfg.ProjectID),
		channel:  channel,
		log:      log,
	}, nil
}

func (a *PushAdapter) Channel() models.Channel { return models.ChannelPush }

func (a *PushAdapter) Send(ctx context.Context, job *Job) models.SendResult {
	token, err := a.devices.ActiveToken(ctx, job.User.ID)
	if err != nil {
		return models.SendResult{Status: models.StatusFailed, Error: "device lookup: " + err.Error()}
	}
	if token == "" {
		return models.SendResult{Status: models.StatusSkipped, Error: "no active device token"}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return models.SendResult{Status: models.StatusFailed, Error: "rate limit wait: " + err.Error()}
	}

	body, err := json.Marshal(fcmEnvelope{Message: a.buildMessage(job.Notification, token)})
	if err != nil {
		return models.SendResult{Status: models.StatusFailed, Error: "payload marshal: " + err.Error(), Permanent: true}
	}

	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.post(ctx, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return models.SendResult{Status: models.StatusFailed, Error: "push circuit open"}
		}
		return models.SendResult{Status: models.StatusFailed, Error: err.Error()}
	}
	return out.(fcmResponse).toResult()
}

type fcmResponse struct {
	statusCode int
	name       string
	body       string
}

func (r fcmResponse) toResult() models.SendResult {
	if r.statusCode >= 200 && r.statusCode < 300 {
		return models.SendResult{Status: models.StatusDelivered, ExternalID: r.name, Response: r.body}
	}
	// an unregistered or invalid token will never succeed
	permanent := r.statusCode == http.StatusNotFound ||
		strings.Contains(r.body, "UNREGISTERED") ||
		strings.Contains(r.body, "INVALID_ARGUMENT")
	return models.SendResult{
		Status:    models.StatusFailed,
		Response:  r.body,
		Error:     fmt.Sprintf("fcm status %d", r.statusCode),
		Permanent: permanent,
	}
}

func (a *PushAdapter) post(ctx context.Context, body []byte) (fcmResponse, error) {
	tok, err := a.tokens.Token()
	if err != nil {
		return fcmResponse{}, fmt.Errorf("push access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return fcmResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fcmResponse{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	out := fcmResponse{statusCode: resp.StatusCode, body: string(raw)}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(raw, &parsed) == nil {
			out.name = parsed.Name
		}
		return out, nil
	}
	// non-2xx flows through the breaker as a failure
	return out, fmt.Errorf("fcm status %d", resp.StatusCode)
}

// buildMessage assembles the v1 envelope: notification block for the system
// tray, stringified data block for the app, and platform hints.
func (a *PushAdapter) buildMessage(n *models.Notification, token string) fcmMessage {
	data := map[string]string{
		"notification_id": fmt.Sprintf("%d", n.ID),
		"template_name":   n.TemplateName,
		"message":         n.Body,
		"category":        n.Category,
		"type":            string(n.Type),
		"priority":        string(n.Priority),
		"route":           n.AppRoute,
		"deep_link":       n.DeepLinkURL,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	if n.Related != nil {
		data["object_id"] = fmt.Sprintf("%d", n.Related.ID)
	}
	if n.ExpiresAt != nil {
		data["expires_at"] = n.ExpiresAt.UTC().Format(time.RFC3339)
	}
	for k, v := range contextdata.StringifyMap(n.Context) {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}

	urgent := n.Priority == models.PriorityHigh || n.Priority == models.PriorityUrgent
	apnsPriority := "5"
	if urgent {
		apnsPriority = "10"
	}
	aps := fcmAPS{
		Category: "NOTIFICATION_" + strings.ToUpper(n.Category),
		Badge:    1,
	}
	if urgent {
		aps.Sound = "default"
	}

	return fcmMessage{
		Token:        token,
		Notification: fcmNotification{Title: n.Title, Body: n.Body},
		Data:         data,
		Android: &fcmAndroid{Notification: fcmAndroidNotification{
			ClickAction: androidClickAction,
			ChannelID:   a.channel,
		}},
		APNS: &fcmAPNS{
			Headers: map[string]string{"apns-priority": apnsPriority},
			Payload: fcmAPNSPayload{APS: aps},
		},
	}
}
