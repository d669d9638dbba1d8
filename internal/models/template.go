package models

import (
	"fmt"
	"time"
)

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelPush     Channel = "push"
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelInApp    Channel = "in_app"
	ChannelWebhook  Channel = "webhook"
)

// Priority controls quiet-hour bypass and push urgency hints.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// NotificationType drives UI styling in the app inbox.
type NotificationType string

const (
	TypeInfo    NotificationType = "info"
	TypeSuccess NotificationType = "success"
	TypeWarning NotificationType = "warning"
	TypeError   NotificationType = "error"
	TypeAction  NotificationType = "action"
)

// ActionButton is a single inbox call-to-action.
type ActionButton struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// DeepLinkConfig is the declarative deep-link block on a template.
// RouteTemplate, FallbackTemplate and InAppRoute are themselves template
// text and are re-rendered with the notification context.
type DeepLinkConfig struct {
	Module           string                 `json:"module,omitempty"`
	URLName          string                 `json:"url_name,omitempty"`
	RouteTemplate    string                 `json:"route_template,omitempty"`
	FallbackTemplate string                 `json:"fallback_template,omitempty"`
	InAppRoute       string                 `json:"inapp_route,omitempty"`
	DeepLinkType     string                 `json:"deeplink_type,omitempty"`
	ExpiresAfterDays int                    `json:"expires_after_days,omitempty"`
	MaxUses          int                    `json:"max_uses,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// IsZero reports whether no deep-link is configured at all.
func (c DeepLinkConfig) IsZero() bool {
	return c.URLName == "" && c.RouteTemplate == "" && c.InAppRoute == ""
}

// ThrottleConfig limits per-recipient send frequency for one template.
type ThrottleConfig struct {
	MaxPerUserPerDay   int `json:"max_per_user_per_day,omitempty"`
	MinIntervalMinutes int `json:"min_interval_minutes,omitempty"`
}

// Enabled reports whether any throttle rule is configured.
func (t ThrottleConfig) Enabled() bool {
	return t.MaxPerUserPerDay > 0 || t.MinIntervalMinutes > 0
}

// QuietHours is a per-template wall-clock suppression window. Start and End
// are "HH:MM" in the named IANA timezone; the window may span midnight.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Contains reports whether the given instant falls inside the window,
// evaluated as local wall-clock time in the window's timezone.
func (q QuietHours) Contains(at time.Time) bool {
	if !q.Enabled || q.Start == "" || q.End == "" {
		return false
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	nowMin := local.Hour()*60 + local.Minute()
	start, ok1 := parseClock(q.Start)
	end, ok2 := parseClock(q.End)
	if !ok1 || !ok2 {
		return false
	}
	if start <= end {
		return nowMin >= start && nowMin < end
	}
	// window spans midnight, e.g. 22:00 to 08:00
	return nowMin >= start || nowMin < end
}

func parseClock(s string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// Template is a named, locale-scoped content definition. The unique key is
// (Name, Locale).
type Template struct {
	ID               int64                             `json:"id"`
	Name             string                            `json:"name"`
	Locale           string                            `json:"locale"`
	Category         string                            `json:"category"`
	TitleTemplate    string                            `json:"titleTemplate"`
	BodyTemplate     string                            `json:"bodyTemplate"`
	EmailSubject     string                            `json:"emailSubject,omitempty"`
	EmailBody        string                            `json:"emailBody,omitempty"`
	EmailIsHTML      bool                              `json:"emailIsHtml,omitempty"`
	SMSTemplate      string                            `json:"smsTemplate,omitempty"`
	WhatsAppTemplate string                            `json:"whatsappTemplate,omitempty"`
	EnabledChannels  []Channel                         `json:"enabledChannels"`
	ChannelConfig    map[string]map[string]interface{} `json:"channelConfig,omitempty"`
	DefaultPriority  Priority                          `json:"defaultPriority"`
	Type             NotificationType                  `json:"type"`
	ActionButtons    []ActionButton                    `json:"actionButtons,omitempty"`
	DeepLink         DeepLinkConfig                    `json:"deeplink,omitempty"`
	RequiredContext  []string                          `json:"requiredContext,omitempty"`
	SampleContext    map[string]interface{}            `json:"sampleContext,omitempty"`
	Throttle         ThrottleConfig                    `json:"throttle,omitempty"`
	QuietHours       QuietHours                        `json:"quietHours,omitempty"`
	IsActive         bool                              `json:"isActive"`
	CreatedBy        string                            `json:"createdBy,omitempty"`
	UpdatedBy        string                            `json:"updatedBy,omitempty"`
	CreatedAt        time.Time                         `json:"createdAt"`
	UpdatedAt        time.Time                         `json:"updatedAt"`
}

// HasChannel reports whether ch is in the template's enabled channel set.
func (t *Template) HasChannel(ch Channel) bool {
	for _, c := range t.EnabledChannels {
		if c == ch {
			return true
		}
	}
	return false
}

// Validate checks the channel/content invariant: every enabled channel must
// have its corresponding template text populated.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if t.Locale == "" {
		return fmt.Errorf("template locale is required")
	}
	if t.TitleTemplate == "" || t.BodyTemplate == "" {
		return fmt.Errorf("template %s: title and body templates are required", t.Name)
	}
	for _, ch := range t.EnabledChannels {
		switch ch {
		case ChannelEmail:
			if t.EmailSubject == "" || t.EmailBody == "" {
				return fmt.Errorf("template %s: email channel enabled without subject and body", t.Name)
			}
		case ChannelSMS:
			if t.SMSTemplate == "" {
				return fmt.Errorf("template %s: sms channel enabled without sms template", t.Name)
			}
		case ChannelWhatsApp:
			if t.WhatsAppTemplate == "" {
				return fmt.Errorf("template %s: whatsapp channel enabled without whatsapp template", t.Name)
			}
		case ChannelPush, ChannelInApp, ChannelWebhook:
			// title/body cover these
		default:
			return fmt.Errorf("template %s: unknown channel %q", t.Name, ch)
		}
	}
	return nil
}

// ChannelOption returns one free-form per-channel config value, e.g. the
// push sound or the email from_name.
func (t *Template) ChannelOption(ch Channel, key string) (interface{}, bool) {
	cfg, ok := t.ChannelConfig[string(ch)]
	if !ok {
		return nil, false
	}
	v, ok := cfg[key]
	return v, ok
}
