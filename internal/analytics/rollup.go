// Package analytics runs the scheduled engagement rollup and retention
// cleanup jobs.
package analytics

import (
	"context"
	"time"

	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/models"
	"kashee-notify/internal/repository"
)

// RollupJob aggregates one day's delivery outcomes and click events into
// per-(template, channel, date) rollup rows.
type RollupJob struct {
	repos *repository.Repositories
	log   logger.Logger
	now   func() time.Time
}

func NewRollupJob(repos *repository.Repositories, log logger.Logger) *RollupJob {
	return &RollupJob{repos: repos, log: log, now: time.Now}
}

// RunDaily rolls up yesterday, the usual cron target.
func (j *RollupJob) RunDaily(ctx context.Context) error {
	_, err := j.RunFor(ctx, j.now().UTC().AddDate(0, 0, -1))
	return err
}

// RunFor rolls up one calendar day. Re-running a day overwrites the
// previous rows, so late delivery callbacks are absorbed by the next pass.
func (j *RollupJob) RunFor(ctx context.Context, day time.Time) ([]*models.AnalyticsRollup, error) {
	rollups, err := j.repos.Analytics.CollectDay(ctx, day)
	if err != nil {
		return nil, err
	}
	if len(rollups) == 0 {
		j.log.Info("Rollup found no delivery rows", map[string]interface{}{
			"date": day.Format("2006-01-02"),
		})
		return nil, nil
	}

	clicks, err := j.repos.Analytics.ClickCounts(ctx, day)
	if err != nil {
		return nil, err
	}
	mergeClicks(rollups, clicks)

	for _, roll := range rollups {
		roll.ComputeRates()
	}
	if err := j.repos.Analytics.UpsertRollups(ctx, rollups); err != nil {
		return nil, err
	}

	j.log.Info("Analytics rollup complete", map[string]interface{}{
		"date": day.Format("2006-01-02"),
		"rows": len(rollups),
	})
	return rollups, nil
}

// mergeClicks attributes each template's click total to its push rollup
// row, falling back to the template's first row when no push channel ran.
func mergeClicks(rollups []*models.AnalyticsRollup, clicks map[string]int64) {
	byTemplate := make(map[string]*models.AnalyticsRollup, len(rollups))
	for _, roll := range rollups {
		if roll.Channel == models.ChannelPush {
			byTemplate[roll.TemplateName] = roll
		} else if _, ok := byTemplate[roll.TemplateName]; !ok {
			byTemplate[roll.TemplateName] = roll
		}
	}
	for name, count := range clicks {
		if roll, ok := byTemplate[name]; ok {
			roll.ClickedCount = count
		}
	}
}
