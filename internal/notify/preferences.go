package notify

import (
	"context"

	"kashee-notify/internal/models"
)

// resolveChannels computes the effective channel set: (caller-selected or
// preference defaults) intersected with the template's enabled channels and
// the user's allow-lists, then filtered by quiet hours.
func (s *Service) resolveChannels(ctx context.Context, requested []models.Channel, tpl *models.Template, user *models.User, priority models.Priority) []models.Channel {
	candidates := requested
	if len(candidates) == 0 {
		candidates = tpl.EnabledChannels
	}

	tplPref, catPref := s.loadPreferences(ctx, user.ID, tpl)

	var out []models.Channel
	for _, ch := range candidates {
		if !tpl.HasChannel(ch) {
			continue
		}
		if !allowed(ch, tplPref, catPref) {
			continue
		}
		if s.suppressedByQuietHours(ch, tpl, user, tplPref, catPref, priority) {
			continue
		}
		out = append(out, ch)
	}
	if len(out) == 0 && tpl.HasChannel(models.ChannelInApp) && allowed(models.ChannelInApp, tplPref, catPref) {
		// resolution emptied the set without an explicit in_app opt-out, so
		// the notification still lands in the inbox
		return []models.Channel{models.ChannelInApp}
	}
	return out
}

func (s *Service) loadPreferences(ctx context.Context, userID int64, tpl *models.Template) (*models.Preferences, *models.Preferences) {
	tplPref, err := s.repos.Preferences.GetForTemplate(ctx, userID, tpl.ID)
	if err != nil {
		s.log.WithError(err).Warn("Template preference lookup failed", map[string]interface{}{"user_id": userID})
	}
	catPref, err := s.repos.Preferences.GetForCategory(ctx, userID, tpl.Category)
	if err != nil {
		s.log.WithError(err).Warn("Category preference lookup failed", map[string]interface{}{"user_id": userID})
	}
	return tplPref, catPref
}

// allowed applies the resolution order: template-scoped preference, then
// category-scoped, then template default (allow).
func allowed(ch models.Channel, tplPref, catPref *models.Preferences) bool {
	if tplPref != nil {
		return tplPref.Allows(ch)
	}
	if catPref != nil {
		return catPref.Allows(ch)
	}
	return true
}

// suppressedByQuietHours suppresses push and sms inside the user's quiet
// window. Urgent priority bypasses entirely; email and in_app are never
// suppressed. Evaluated at compose time.
func (s *Service) suppressedByQuietHours(ch models.Channel, tpl *models.Template, user *models.User, tplPref, catPref *models.Preferences, priority models.Priority) bool {
	if ch != models.ChannelPush && ch != models.ChannelSMS {
		return false
	}
	if priority == models.PriorityUrgent {
		return false
	}

	window := tpl.QuietHours
	if tplPref != nil && tplPref.QuietHours.Enabled {
		window = tplPref.QuietHours
	} else if catPref != nil && catPref.QuietHours.Enabled {
		window = catPref.QuietHours
	}
	return window.Contains(s.now())
}
