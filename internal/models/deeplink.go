package models

import "time"

// DeepLinkStatus is the redirect lifecycle state of a deep-link token.
type DeepLinkStatus string

const (
	DeepLinkActive   DeepLinkStatus = "active"
	DeepLinkExpired  DeepLinkStatus = "expired"
	DeepLinkRevoked  DeepLinkStatus = "revoked"
	DeepLinkConsumed DeepLinkStatus = "consumed"
)

// DeepLink is an opaque, redeemable redirect record. Token is the public
// handle embedded in smart URLs.
type DeepLink struct {
	ID             int64                  `json:"id"`
	Token          string                 `json:"token"`
	UserID         *int64                 `json:"userId,omitempty"` // nil for anonymous links
	Module         string                 `json:"module"`
	DeepLinkURL    string                 `json:"deepLinkUrl"` // scheme://path
	AppRoute       string                 `json:"appRoute"`
	AndroidPackage string                 `json:"androidPackage"`
	IOSBundleID    string                 `json:"iosBundleId"`
	FallbackURL    string                 `json:"fallbackUrl,omitempty"`
	Status         DeepLinkStatus         `json:"status"`
	ExpiresAt      *time.Time             `json:"expiresAt,omitempty"` // nil = never expires
	MaxUses        int                    `json:"maxUses"`             // 0 = unlimited
	UseCount       int                    `json:"useCount"`
	LastAccessedAt *time.Time             `json:"lastAccessedAt,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// IsExpired reports whether the link's expiry has passed at the given time.
func (d *DeepLink) IsExpired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// IsExhausted reports whether the use budget is spent.
func (d *DeepLink) IsExhausted() bool {
	return d.MaxUses > 0 && d.UseCount >= d.MaxUses
}

// IsValid reports whether a redirect may be served from this link.
func (d *DeepLink) IsValid(now time.Time) bool {
	return d.Status == DeepLinkActive && !d.IsExpired(now) && !d.IsExhausted()
}
