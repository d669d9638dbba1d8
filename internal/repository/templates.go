package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	stderrors "errors"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/models"
)

const templateColumns = `
	id, name, locale, category, title_template, body_template,
	email_subject, email_body, email_is_html, sms_template, whatsapp_template,
	enabled_channels, channel_config, default_priority, type, action_buttons,
	deeplink_config, required_context, sample_context, throttle_config,
	quiet_hours, is_active, created_by, updated_by, created_at, updated_at`

type TemplateRepo struct {
	db *sql.DB
}

func NewTemplateRepo(db *sql.DB) *TemplateRepo {
	return &TemplateRepo{db: db}
}

// GetActive loads the active template for an exact (name, locale) key.
func (r *TemplateRepo) GetActive(ctx context.Context, name, locale string) (*models.Template, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM notification_templates
		WHERE name = $1 AND locale = $2 AND is_active = TRUE`, name, locale)
	tpl, err := scanTemplate(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewTemplateNotFoundError(name, locale)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("template get", err)
	}
	return tpl, nil
}

// ActiveLocales returns the active locales for a template name in creation
// order, used for locale fallback.
func (r *TemplateRepo) ActiveLocales(ctx context.Context, name string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT locale FROM notification_templates
		WHERE name = $1 AND is_active = TRUE
		ORDER BY created_at`, name)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("template locales", err)
	}
	defer rows.Close()

	var locales []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, errors.NewQueryExecutionFailedError("template locales scan", err)
		}
		locales = append(locales, l)
	}
	return locales, rows.Err()
}

func (r *TemplateRepo) GetByID(ctx context.Context, id int64) (*models.Template, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM notification_templates
		WHERE id = $1`, id)
	tpl, err := scanTemplate(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewTemplateNotFoundError("", "")
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("template get by id", err)
	}
	return tpl, nil
}

// Upsert inserts or replaces a template keyed by (name, locale).
func (r *TemplateRepo) Upsert(ctx context.Context, tpl *models.Template) error {
	channels, _ := json.Marshal(tpl.EnabledChannels)
	channelConfig, _ := json.Marshal(tpl.ChannelConfig)
	buttons, _ := json.Marshal(tpl.ActionButtons)
	deeplink, _ := json.Marshal(tpl.DeepLink)
	required, _ := json.Marshal(tpl.RequiredContext)
	sample, _ := json.Marshal(tpl.SampleContext)
	throttle, _ := json.Marshal(tpl.Throttle)
	quiet, _ := json.Marshal(tpl.QuietHours)

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notification_templates (
			name, locale, category, title_template, body_template,
			email_subject, email_body, email_is_html, sms_template, whatsapp_template,
			enabled_channels, channel_config, default_priority, type, action_buttons,
			deeplink_config, required_context, sample_context, throttle_config,
			quiet_hours, is_active, created_by, updated_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,NOW(),NOW())
		ON CONFLICT (name, locale) DO UPDATE SET
			category = EXCLUDED.category,
			title_template = EXCLUDED.title_template,
			body_template = EXCLUDED.body_template,
			email_subject = EXCLUDED.email_subject,
			email_body = EXCLUDED.email_body,
			email_is_html = EXCLUDED.email_is_html,
			sms_template = EXCLUDED.sms_template,
			whatsapp_template = EXCLUDED.whatsapp_template,
			enabled_channels = EXCLUDED.enabled_channels,
			channel_config = EXCLUDED.channel_config,
			default_priority = EXCLUDED.default_priority,
			type = EXCLUDED.type,
			action_buttons = EXCLUDED.action_buttons,
			deeplink_config = EXCLUDED.deeplink_config,
			required_context = EXCLUDED.required_context,
			sample_context = EXCLUDED.sample_context,
			throttle_config = EXCLUDED.throttle_config,
			quiet_hours = EXCLUDED.quiet_hours,
			is_active = EXCLUDED.is_active,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING id`,
		tpl.Name, tpl.Locale, tpl.Category, tpl.TitleTemplate, tpl.BodyTemplate,
		tpl.EmailSubject, tpl.EmailBody, tpl.EmailIsHTML, tpl.SMSTemplate, tpl.WhatsAppTemplate,
		channels, channelConfig, string(tpl.DefaultPriority), string(tpl.Type), buttons,
		deeplink, required, sample, throttle,
		quiet, tpl.IsActive, tpl.CreatedBy, tpl.UpdatedBy,
	).Scan(&tpl.ID)
	if err != nil {
		return errors.NewQueryExecutionFailedError("template upsert", err)
	}
	return nil
}

// IsReferenced reports whether any notification points at the template.
// Referenced templates are deactivated, never deleted.
func (r *TemplateRepo) IsReferenced(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM notifications WHERE template_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("template referenced", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row rowScanner) (*models.Template, error) {
	var tpl models.Template
	var channels, channelConfig, buttons, deeplink, required, sample, throttle, quiet []byte
	var priority, typ string
	err := row.Scan(
		&tpl.ID, &tpl.Name, &tpl.Locale, &tpl.Category, &tpl.TitleTemplate, &tpl.BodyTemplate,
		&tpl.EmailSubject, &tpl.EmailBody, &tpl.EmailIsHTML, &tpl.SMSTemplate, &tpl.WhatsAppTemplate,
		&channels, &channelConfig, &priority, &typ, &buttons,
		&deeplink, &required, &sample, &throttle,
		&quiet, &tpl.IsActive, &tpl.CreatedBy, &tpl.UpdatedBy, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tpl.DefaultPriority = models.Priority(priority)
	tpl.Type = models.NotificationType(typ)
	unmarshalInto(channels, &tpl.EnabledChannels)
	unmarshalInto(channelConfig, &tpl.ChannelConfig)
	unmarshalInto(buttons, &tpl.ActionButtons)
	unmarshalInto(deeplink, &tpl.DeepLink)
	unmarshalInto(required, &tpl.RequiredContext)
	unmarshalInto(sample, &tpl.SampleContext)
	unmarshalInto(throttle, &tpl.Throttle)
	unmarshalInto(quiet, &tpl.QuietHours)
	return &tpl, nil
}

func unmarshalInto(raw []byte, dst interface{}) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dst)
}
