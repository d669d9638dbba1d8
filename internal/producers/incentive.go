package producers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/models"
)

// IncentiveRecord is one computed sahayak incentive row.
type IncentiveRecord struct {
	ID     int64
	UserID int64
	Month  string // month name, e.g. "January"
	Year   int
	Amount float64
}

// IncentiveSource reads the computed incentives for one month.
type IncentiveSource interface {
	IncentivesFor(ctx context.Context, month string, year int) ([]IncentiveRecord, error)
}

// IncentiveProducer notifies sahayaks about their monthly incentive. The
// reference time selects the month and year.
type IncentiveProducer struct {
	source IncentiveSource
}

func NewIncentiveProducer(source IncentiveSource) *IncentiveProducer {
	return &IncentiveProducer{source: source}
}

func (*IncentiveProducer) Name() string         { return "monthly_incentive" }
func (*IncentiveProducer) TemplateName() string { return "sahayak_incentive_update_hi" }

func (p *IncentiveProducer) Events(ctx context.Context, ref time.Time) ([]SourceEvent, error) {
	records, err := p.source.IncentivesFor(ctx, ref.Month().String(), ref.Year())
	if err != nil {
		return nil, err
	}
	events := make([]SourceEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, SourceEvent{
			SourceKey: fmt.Sprintf("incentive:%d", rec.ID),
			UserID:    rec.UserID,
			Context: map[string]interface{}{
				"incentive_id": rec.ID,
				"month":        rec.Month,
				"year":         rec.Year,
				"amount":       rec.Amount,
			},
			Related: &models.RelatedObject{Kind: "sahayak_incentive", ID: rec.ID},
		})
	}
	return events, nil
}

// SQLIncentiveSource reads the incentive table directly.
type SQLIncentiveSource struct {
	db *sql.DB
}

func NewSQLIncentiveSource(db *sql.DB) *SQLIncentiveSource {
	return &SQLIncentiveSource{db: db}
}

func (s *SQLIncentiveSource) IncentivesFor(ctx context.Context, month string, year int) ([]IncentiveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, month, year, total_amount
		FROM sahayak_incentives
		WHERE month = $1 AND year = $2
		ORDER BY id`, month, year)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("incentive scan", err)
	}
	defer rows.Close()

	var out []IncentiveRecord
	for rows.Next() {
		var rec IncentiveRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Month, &rec.Year, &rec.Amount); err != nil {
			return nil, errors.NewQueryExecutionFailedError("incentive scan row", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
