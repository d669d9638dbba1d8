package models

import "time"

// Delivery is one row per (notification, channel) attempt stream.
type Delivery struct {
	ID             int64      `json:"id"`
	NotificationID int64      `json:"notificationId"`
	Channel        Channel    `json:"channel"`
	Recipient      string     `json:"recipient"` // email, phone, or device token
	Status         Status     `json:"status"`
	AttemptCount   int        `json:"attemptCount"`
	MaxAttempts    int        `json:"maxAttempts"`
	NextAttemptAt  *time.Time `json:"nextAttemptAt,omitempty"`
	ExternalID     string     `json:"externalId,omitempty"`
	VendorResponse string     `json:"vendorResponse,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	FailedAt       *time.Time `json:"failedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// CanRetry reports whether the retry driver may resubmit this delivery.
func (d *Delivery) CanRetry() bool {
	return d.Status == StatusFailed && d.AttemptCount < d.MaxAttempts
}

// SendResult is what a channel adapter returns for one dispatch.
type SendResult struct {
	Status     Status `json:"status"` // delivered, failed, or skipped
	ExternalID string `json:"externalId,omitempty"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
	Permanent  bool   `json:"permanent,omitempty"` // true blocks retries
}
