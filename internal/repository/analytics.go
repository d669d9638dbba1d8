package repository

import (
	"context"
	"database/sql"
	"time"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/models"
)

type AnalyticsRepo struct {
	db *sql.DB
}

func NewAnalyticsRepo(db *sql.DB) *AnalyticsRepo {
	return &AnalyticsRepo{db: db}
}

// LedgerKeys returns the source keys a producer has already notified since
// the given instant.
func (r *AnalyticsRepo) LedgerKeys(ctx context.Context, producer string, since time.Time) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_key FROM notification_ledger
		WHERE producer = $1 AND created_at >= $2`, producer, since)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("ledger keys", err)
	}
	defer rows.Close()

	keys := map[string]bool{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.NewQueryExecutionFailedError("ledger scan", err)
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

// CollectDay aggregates one day's delivery outcomes per (template, channel)
// from the delivery rows.
func (r *AnalyticsRepo) CollectDay(ctx context.Context, day time.Time) ([]*models.AnalyticsRollup, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := r.db.QueryContext(ctx, `
		SELECT n.template_name, d.channel,
		       COUNT(*) FILTER (WHERE d.sent_at IS NOT NULL) AS sent,
		       COUNT(*) FILTER (WHERE d.status = 'delivered') AS delivered,
		       COUNT(*) FILTER (WHERE n.is_read) AS read,
		       COUNT(*) FILTER (WHERE d.status = 'failed') AS failed
		FROM notification_deliveries d
		JOIN notifications n ON n.id = d.notification_id
		WHERE d.created_at >= $1 AND d.created_at < $2
		GROUP BY n.template_name, d.channel`, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("rollup collect", err)
	}
	defer rows.Close()

	var out []*models.AnalyticsRollup
	for rows.Next() {
		var roll models.AnalyticsRollup
		var channel string
		if err := rows.Scan(&roll.TemplateName, &channel, &roll.SentCount, &roll.DeliveredCount, &roll.ReadCount, &roll.FailedCount); err != nil {
			return nil, errors.NewQueryExecutionFailedError("rollup scan", err)
		}
		roll.Channel = models.Channel(channel)
		roll.Date = dayStart
		out = append(out, &roll)
	}
	return out, rows.Err()
}

func (r *AnalyticsRepo) UpsertRollups(ctx context.Context, rollups []*models.AnalyticsRollup) error {
	for _, roll := range rollups {
		roll.ComputeRates()
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO notification_analytics (
				template_name, channel, date, sent_count, delivered_count,
				read_count, clicked_count, failed_count,
				delivery_rate, read_rate, click_rate, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
			ON CONFLICT (template_name, channel, date) DO UPDATE SET
				sent_count = EXCLUDED.sent_count,
				delivered_count = EXCLUDED.delivered_count,
				read_count = EXCLUDED.read_count,
				clicked_count = EXCLUDED.clicked_count,
				failed_count = EXCLUDED.failed_count,
				delivery_rate = EXCLUDED.delivery_rate,
				read_rate = EXCLUDED.read_rate,
				click_rate = EXCLUDED.click_rate`,
			roll.TemplateName, string(roll.Channel), roll.Date, roll.SentCount, roll.DeliveredCount,
			roll.ReadCount, roll.ClickedCount, roll.FailedCount,
			roll.DeliveryRate, roll.ReadRate, roll.ClickRate)
		if err != nil {
			return errors.NewQueryExecutionFailedError("rollup upsert", err)
		}
	}
	return nil
}

func (r *AnalyticsRepo) InsertClick(ctx context.Context, c *models.ClickEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deep_link_clicks (token, platform, user_agent, clicked_at)
		VALUES ($1, $2, $3, NOW())`, c.Token, c.Platform, c.UserAgent)
	if err != nil {
		return errors.NewQueryExecutionFailedError("click insert", err)
	}
	return nil
}

// ClickCounts returns per-template click totals for one day, joined through
// the deep-link rows minted for each notification.
func (r *AnalyticsRepo) ClickCounts(ctx context.Context, day time.Time) (map[string]int64, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(dl.metadata->>'template_name', ''), COUNT(*)
		FROM deep_link_clicks c
		JOIN deep_links dl ON dl.token = c.token
		WHERE c.clicked_at >= $1 AND c.clicked_at < $2
		GROUP BY 1`, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("click counts", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, errors.NewQueryExecutionFailedError("click scan", err)
		}
		if name != "" {
			out[name] = count
		}
	}
	return out, rows.Err()
}
