package models

import "time"

// Preferences is a per-user channel allow-list scoped to either one template
// or one category. At least one of TemplateID/Category is set.
type Preferences struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"userId"`
	TemplateID *int64     `json:"templateId,omitempty"`
	Category   string     `json:"category,omitempty"`
	AllowPush  bool       `json:"allowPush"`
	AllowEmail bool       `json:"allowEmail"`
	AllowSMS   bool       `json:"allowSms"`
	AllowInApp bool       `json:"allowInApp"`
	QuietHours QuietHours `json:"quietHours,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Allows reports whether the preference row permits the channel. Channels
// without an allow flag (whatsapp, webhook) are always permitted.
func (p *Preferences) Allows(ch Channel) bool {
	switch ch {
	case ChannelPush:
		return p.AllowPush
	case ChannelEmail:
		return p.AllowEmail
	case ChannelSMS:
		return p.AllowSMS
	case ChannelInApp:
		return p.AllowInApp
	default:
		return true
	}
}
