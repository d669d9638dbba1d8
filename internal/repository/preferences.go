package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	stderrors "errors"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/models"
)

type PreferenceRepo struct {
	db *sql.DB
}

func NewPreferenceRepo(db *sql.DB) *PreferenceRepo {
	return &PreferenceRepo{db: db}
}

const preferenceColumns = `
	id, user_id, template_id, category, allow_push, allow_email,
	allow_sms, allow_in_app, quiet_hours, created_at, updated_at`

// GetForTemplate returns the template-scoped preference row, or nil when the
// user has none.
func (r *PreferenceRepo) GetForTemplate(ctx context.Context, userID, templateID int64) (*models.Preferences, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+preferenceColumns+`
		FROM notification_preferences
		WHERE user_id = $1 AND template_id = $2`, userID, templateID)
	return scanPreference(row)
}

// GetForCategory returns the category-scoped preference row, or nil.
func (r *PreferenceRepo) GetForCategory(ctx context.Context, userID int64, category string) (*models.Preferences, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+preferenceColumns+`
		FROM notification_preferences
		WHERE user_id = $1 AND category = $2 AND template_id IS NULL`, userID, category)
	return scanPreference(row)
}

func (r *PreferenceRepo) Upsert(ctx context.Context, p *models.Preferences) error {
	quiet, _ := json.Marshal(p.QuietHours)
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notification_preferences (
			user_id, template_id, category, allow_push, allow_email,
			allow_sms, allow_in_app, quiet_hours, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
		ON CONFLICT (user_id, template_id, category) DO UPDATE SET
			allow_push = EXCLUDED.allow_push,
			allow_email = EXCLUDED.allow_email,
			allow_sms = EXCLUDED.allow_sms,
			allow_in_app = EXCLUDED.allow_in_app,
			quiet_hours = EXCLUDED.quiet_hours,
			updated_at = NOW()
		RETURNING id`,
		p.UserID, p.TemplateID, nullString(p.Category), p.AllowPush, p.AllowEmail,
		p.AllowSMS, p.AllowInApp, quiet,
	).Scan(&p.ID)
	if err != nil {
		return errors.NewQueryExecutionFailedError("preference upsert", err)
	}
	return nil
}

func scanPreference(row rowScanner) (*models.Preferences, error) {
	var p models.Preferences
	var templateID sql.NullInt64
	var category sql.NullString
	var quiet []byte
	err := row.Scan(
		&p.ID, &p.UserID, &templateID, &category, &p.AllowPush, &p.AllowEmail,
		&p.AllowSMS, &p.AllowInApp, &quiet, &p.CreatedAt, &p.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("preference get", err)
	}
	if templateID.Valid {
		p.TemplateID = &templateID.Int64
	}
	if category.Valid {
		p.Category = category.String
	}
	unmarshalInto(quiet, &p.QuietHours)
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
