package models

import "time"

// LedgerEntry records one externally observed source event so batch
// producers create at most one notification per event.
type LedgerEntry struct {
	ID         int64     `json:"id"`
	Producer   string    `json:"producer"`
	SourceKey  string    `json:"sourceKey"` // e.g. collection_code
	UserID     int64     `json:"userId"`
	IsSent     bool      `json:"isSent"`
	NotifiedAt time.Time `json:"notifiedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AnalyticsRollup is a daily (template, channel, date) aggregate. Rows are
// append-only once the day closes.
type AnalyticsRollup struct {
	ID             int64     `json:"id"`
	TemplateName   string    `json:"templateName"`
	Channel        Channel   `json:"channel"`
	Date           time.Time `json:"date"`
	SentCount      int64     `json:"sentCount"`
	DeliveredCount int64     `json:"deliveredCount"`
	ReadCount      int64     `json:"readCount"`
	ClickedCount   int64     `json:"clickedCount"`
	FailedCount    int64     `json:"failedCount"`
	DeliveryRate   float64   `json:"deliveryRate"`
	ReadRate       float64   `json:"readRate"`
	ClickRate      float64   `json:"clickRate"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ComputeRates fills the derived rate fields from the raw counts.
func (r *AnalyticsRollup) ComputeRates() {
	if r.SentCount > 0 {
		r.DeliveryRate = float64(r.DeliveredCount) / float64(r.SentCount)
	}
	if r.DeliveredCount > 0 {
		r.ReadRate = float64(r.ReadCount) / float64(r.DeliveredCount)
		r.ClickRate = float64(r.ClickedCount) / float64(r.DeliveredCount)
	}
}

// ClickEvent records one redirect served for a deep-link token.
type ClickEvent struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"` // android, ios, web
	UserAgent string    `json:"userAgent,omitempty"`
	ClickedAt time.Time `json:"clickedAt"`
}
