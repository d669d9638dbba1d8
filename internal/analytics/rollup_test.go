package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/models"
	"kashee-notify/internal/repository"
)

// ==========================
// Test Helper Functions
// ==========================

type stubAnalyticsRepo struct {
	repository.AnalyticsRepository

	collected []*models.AnalyticsRollup
	clicks    map[string]int64
	upserted  []*models.AnalyticsRollup
}

func (s *stubAnalyticsRepo) CollectDay(ctx context.Context, day time.Time) ([]*models.AnalyticsRollup, error) {
	return s.collected, nil
}

func (s *stubAnalyticsRepo) ClickCounts(ctx context.Context, day time.Time) (map[string]int64, error) {
	return s.clicks, nil
}

func (s *stubAnalyticsRepo) UpsertRollups(ctx context.Context, rollups []*models.AnalyticsRollup) error {
	s.upserted = rollups
	return nil
}

type stubDeepLinkRepo struct {
	repository.DeepLinkRepository

	swept       int64
	purgeBefore time.Time
}

func (s *stubDeepLinkRepo) SweepExpired(ctx context.Context, batchSize int) (int64, error) {
	return s.swept, nil
}

func (s *stubDeepLinkRepo) DeleteOld(ctx context.Context, olderThan time.Time) (int64, error) {
	s.purgeBefore = olderThan
	return 3, nil
}

type cleanupNotificationRepo struct {
	repository.NotificationRepository

	purgeBefore time.Time
}

func (s *cleanupNotificationRepo) DeleteOld(ctx context.Context, olderThan time.Time) (int64, error) {
	s.purgeBefore = olderThan
	return 12, nil
}

// ==========================
// Rollup Tests
// ==========================

func TestRollupJob_MergesClicksAndComputesRates(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	analytics := &stubAnalyticsRepo{
		collected: []*models.AnalyticsRollup{
			{TemplateName: "mpp_collection_created", Channel: models.ChannelPush, Date: day, SentCount: 100, DeliveredCount: 80, ReadCount: 40, FailedCount: 20},
			{TemplateName: "mpp_collection_created", Channel: models.ChannelSMS, Date: day, SentCount: 100, DeliveredCount: 95},
			{TemplateName: "feedback_status_changed", Channel: models.ChannelInApp, Date: day, SentCount: 10, DeliveredCount: 10, ReadCount: 5},
		},
		clicks: map[string]int64{
			"mpp_collection_created":  16,
			"feedback_status_changed": 2,
		},
	}
	job := NewRollupJob(&repository.Repositories{Analytics: analytics}, logger.NewNoOpLogger())

	rollups, err := job.RunFor(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, rollups, 3)
	assert.Equal(t, rollups, analytics.upserted)

	// clicks land on the push row, not the sms row
	push := rollups[0]
	assert.Equal(t, int64(16), push.ClickedCount)
	assert.Zero(t, rollups[1].ClickedCount)
	assert.InDelta(t, 0.8, push.DeliveryRate, 1e-9)
	assert.InDelta(t, 0.5, push.ReadRate, 1e-9)
	assert.InDelta(t, 0.2, push.ClickRate, 1e-9)

	// template without a push row still gets its clicks
	inApp := rollups[2]
	assert.Equal(t, int64(2), inApp.ClickedCount)
	assert.InDelta(t, 1.0, inApp.DeliveryRate, 1e-9)
}

func TestRollupJob_EmptyDay(t *testing.T) {
	job := NewRollupJob(&repository.Repositories{Analytics: &stubAnalyticsRepo{}}, logger.NewNoOpLogger())

	rollups, err := job.RunFor(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, rollups)
}

func TestMergeClicks_UnknownTemplateIgnored(t *testing.T) {
	rollups := []*models.AnalyticsRollup{
		{TemplateName: "known", Channel: models.ChannelPush},
	}
	mergeClicks(rollups, map[string]int64{"unknown": 9, "known": 4})

	assert.Equal(t, int64(4), rollups[0].ClickedCount)
}

// ==========================
// Cleanup Tests
// ==========================

func TestCleanupJob_Run(t *testing.T) {
	links := &stubDeepLinkRepo{swept: 7}
	notifs := &cleanupNotificationRepo{}
	repos := &repository.Repositories{DeepLinks: links, Notifications: notifs}

	job := NewCleanupJob(repos, CleanupConfig{
		NotificationRetention: 48 * time.Hour,
		DeepLinkRetention:     24 * time.Hour,
	}, logger.NewNoOpLogger())
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	job.Run(context.Background())

	assert.Equal(t, now.Add(-24*time.Hour), links.purgeBefore)
	assert.Equal(t, now.Add(-48*time.Hour), notifs.purgeBefore)
}

func TestCleanupConfig_Defaults(t *testing.T) {
	cfg := CleanupConfig{}.withDefaults()

	assert.Equal(t, 90*24*time.Hour, cfg.NotificationRetention)
	assert.Equal(t, 30*24*time.Hour, cfg.DeepLinkRetention)
	assert.Equal(t, 1000, cfg.SweepBatchSize)
}
