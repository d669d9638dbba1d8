package models

import (
	"time"
)

// Status is the lifecycle state of a notification or delivery row.
type Status string

const (
	StatusPending       Status = "pending"
	StatusQueued        Status = "queued"
	StatusSending       Status = "sending"
	StatusSent          Status = "sent"
	StatusDelivered     Status = "delivered"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
	StatusPartiallySent Status = "partially_sent"
	StatusSkipped       Status = "skipped"
)

// ChannelResult is the per-channel entry of a notification's delivery_status
// map.
type ChannelResult struct {
	Status      Status     `json:"status"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RelatedObject is an optional reference to the domain row a notification is
// about, e.g. a collection record or a feedback ticket.
type RelatedObject struct {
	Kind  string `json:"kind"`
	ID    int64  `json:"id"`
	Label string `json:"label,omitempty"`
}

// Notification is a single composed, recipient-bound instance.
type Notification struct {
	ID             int64                    `json:"id"`
	UUID           string                   `json:"uuid"`
	TemplateID     int64                    `json:"templateId"`
	TemplateName   string                   `json:"templateName"`
	Category       string                   `json:"category"`
	RecipientID    int64                    `json:"recipientId"`
	SenderID       *int64                   `json:"senderId,omitempty"`
	Related        *RelatedObject           `json:"related,omitempty"`
	Title          string                   `json:"title"`
	Body           string                   `json:"body"`
	EmailSubject   string                   `json:"emailSubject,omitempty"`
	EmailBody      string                   `json:"emailBody,omitempty"`
	DeepLinkURL    string                   `json:"deepLinkUrl,omitempty"`
	AppRoute       string                   `json:"appRoute,omitempty"`
	Channels       []Channel                `json:"channels"`
	Priority       Priority                 `json:"priority"`
	Type           NotificationType         `json:"type"`
	Context        map[string]interface{}   `json:"context,omitempty"`
	Status         Status                   `json:"status"`
	StatusReason   string                   `json:"statusReason,omitempty"`
	DeliveryStatus map[Channel]ChannelResult `json:"deliveryStatus,omitempty"`
	ScheduledAt    time.Time                `json:"scheduledAt"`
	SentAt         *time.Time               `json:"sentAt,omitempty"`
	DeliveredAt    *time.Time               `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time               `json:"readAt,omitempty"`
	ExpiresAt      *time.Time               `json:"expiresAt,omitempty"`
	IsRead         bool                     `json:"isRead"`
	IsArchived     bool                     `json:"isArchived"`
	CreatedAt      time.Time                `json:"createdAt"`
	UpdatedAt      time.Time                `json:"updatedAt"`
}

// FoldStatus reduces a delivery_status map to the authoritative top-level
// status. Skipped channels count as neither success nor failure; if every
// channel was skipped the notification is cancelled.
func FoldStatus(results map[Channel]ChannelResult) Status {
	if len(results) == 0 {
		return StatusCancelled
	}
	var delivered, failed, skipped, inFlight int
	for _, r := range results {
		switch r.Status {
		case StatusDelivered, StatusSent:
			delivered++
		case StatusFailed:
			failed++
		case StatusSkipped, StatusCancelled:
			skipped++
		default:
			inFlight++
		}
	}
	switch {
	case inFlight > 0:
		return StatusSending
	case delivered > 0 && failed > 0:
		return StatusPartiallySent
	case delivered > 0:
		return StatusDelivered
	case failed > 0:
		return StatusFailed
	default:
		return StatusCancelled
	}
}

// MaxDeliveredAt returns the latest per-channel delivered_at, used as the
// notification-level delivered_at when the fold is delivered.
func MaxDeliveredAt(results map[Channel]ChannelResult) *time.Time {
	var max *time.Time
	for _, r := range results {
		if r.DeliveredAt == nil {
			continue
		}
		if max == nil || r.DeliveredAt.After(*max) {
			t := *r.DeliveredAt
			max = &t
		}
	}
	return max
}

// VisibleInInbox reports whether the recipient should see this notification
// in their app inbox. Throttled and cancelled notifications never appear;
// failed notifications are admin-only; a partial success appears only when
// in_app itself was delivered.
func (n *Notification) VisibleInInbox() bool {
	switch n.Status {
	case StatusCancelled, StatusFailed, StatusPending, StatusQueued, StatusSending:
		return false
	case StatusPartiallySent:
		r, ok := n.DeliveryStatus[ChannelInApp]
		return ok && (r.Status == StatusDelivered || r.Status == StatusSent)
	default:
		return true
	}
}

// InboxStats summarises a user's inbox for the app badge and admin tooling.
type InboxStats struct {
	Total      int            `json:"total"`
	Unread     int            `json:"unread"`
	ByCategory map[string]int `json:"byCategory"`
}

// HasChannel reports whether ch was selected at compose time.
func (n *Notification) HasChannel(ch Channel) bool {
	for _, c := range n.Channels {
		if c == ch {
			return true
		}
	}
	return false
}
