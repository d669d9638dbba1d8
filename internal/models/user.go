package models

import "time"

// User is the notification-facing view of an account row.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	FullName   string    `json:"fullName,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Language   string    `json:"language,omitempty"` // preferred locale, e.g. "hi"
	MemberCode string    `json:"memberCode,omitempty"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UserDevice is a registered push target. The most recent active device
// decides which app variant a user's deep links open.
type UserDevice struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	DeviceToken  string    `json:"deviceToken"`
	Platform     string    `json:"platform"` // "android" or "ios"
	Module       string    `json:"module"`   // app variant: member, sahayak, pes
	AppVersion   string    `json:"appVersion,omitempty"`
	IsActive     bool      `json:"isActive"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}
