package notify

import (
	"context"

	"kashee-notify/internal/models"
)

// Inbox surface: thin pass-throughs kept on the service so callers never
// touch the repositories directly.

func (s *Service) Inbox(ctx context.Context, userID int64, limit, offset int) ([]*models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repos.Notifications.ListInbox(ctx, userID, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, userID int64, uuid string) error {
	return s.repos.Notifications.MarkRead(ctx, userID, uuid)
}

func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.repos.Notifications.MarkAllRead(ctx, userID)
}

func (s *Service) Archive(ctx context.Context, userID int64, uuid string) error {
	return s.repos.Notifications.Archive(ctx, userID, uuid)
}

func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return s.repos.Notifications.UnreadCount(ctx, userID)
}

func (s *Service) InboxStats(ctx context.Context, userID int64) (*models.InboxStats, error) {
	return s.repos.Notifications.Stats(ctx, userID)
}
