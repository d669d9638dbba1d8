package producers

import (
	"context"
	"database/sql"
	"time"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/models"
)

// CollectionRecord is one milk collection row from the ERP.
type CollectionRecord struct {
	ID             int64
	CollectionCode string
	MemberCode     string
	Qty            float64
	Fat            float64
	SNF            float64
	Amount         float64
	Shift          string
	CollectedAt    time.Time
}

// CollectionSource reads the day's milk collections.
type CollectionSource interface {
	CollectionsOn(ctx context.Context, day time.Time) ([]CollectionRecord, error)
}

// CollectionProducer notifies members about recorded milk collections.
type CollectionProducer struct {
	source CollectionSource
}

func NewCollectionProducer(source CollectionSource) *CollectionProducer {
	return &CollectionProducer{source: source}
}

func (*CollectionProducer) Name() string         { return "collection" }
func (*CollectionProducer) TemplateName() string { return "mpp_collection_created_hi" }

func (p *CollectionProducer) Events(ctx context.Context, ref time.Time) ([]SourceEvent, error) {
	records, err := p.source.CollectionsOn(ctx, ref)
	if err != nil {
		return nil, err
	}
	events := make([]SourceEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, SourceEvent{
			SourceKey:  rec.CollectionCode,
			MemberCode: rec.MemberCode,
			Context: map[string]interface{}{
				"collection_id":   rec.ID,
				"collection_code": rec.CollectionCode,
				"member_code":     rec.MemberCode,
				"qty":             rec.Qty,
				"fat":             rec.Fat,
				"snf":             rec.SNF,
				"amount":          rec.Amount,
				"shift":           rec.Shift,
				"collection_date": rec.CollectedAt,
			},
			Related: &models.RelatedObject{Kind: "mpp_collection", ID: rec.ID, Label: rec.CollectionCode},
		})
	}
	return events, nil
}

// SQLCollectionSource reads the ERP collection table directly.
type SQLCollectionSource struct {
	db *sql.DB
}

func NewSQLCollectionSource(db *sql.DB) *SQLCollectionSource {
	return &SQLCollectionSource{db: db}
}

func (s *SQLCollectionSource) CollectionsOn(ctx context.Context, day time.Time) ([]CollectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mpp_collection_code, member_code, qty, fat, snf, amount,
		       COALESCE(shift_short_name, ''), collection_date
		FROM mpp_collections
		WHERE collection_date::date = $1::date
		ORDER BY collection_date`, day.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("collection scan", err)
	}
	defer rows.Close()

	var out []CollectionRecord
	for rows.Next() {
		var rec CollectionRecord
		if err := rows.Scan(&rec.ID, &rec.CollectionCode, &rec.MemberCode, &rec.Qty,
			&rec.Fat, &rec.SNF, &rec.Amount, &rec.Shift, &rec.CollectedAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("collection scan row", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
