package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/models"
)

// seedSchema validates template seed files before they touch the database.
var seedSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"name", "locale", "title_template", "body_template", "enabled_channels"},
	"properties": map[string]interface{}{
		"name":           map[string]interface{}{"type": "string", "minLength": 1},
		"locale":         map[string]interface{}{"type": "string", "minLength": 2},
		"category":       map[string]interface{}{"type": "string"},
		"title_template": map[string]interface{}{"type": "string", "minLength": 1},
		"body_template":  map[string]interface{}{"type": "string", "minLength": 1},
		"enabled_channels": map[string]interface{}{
			"type":     "array",
			"minItems": 1,
			"items": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"push", "email", "sms", "whatsapp", "in_app", "webhook"},
			},
		},
		"default_priority": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"low", "normal", "high", "urgent"},
		},
		"type": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"info", "success", "warning", "error", "action"},
		},
	},
}

type seedFile struct {
	Name             string                            `json:"name"`
	Locale           string                            `json:"locale"`
	Category         string                            `json:"category"`
	TitleTemplate    string                            `json:"title_template"`
	BodyTemplate     string                            `json:"body_template"`
	EmailSubject     string                            `json:"email_subject"`
	EmailBody        string                            `json:"email_body"`
	EmailIsHTML      bool                              `json:"email_is_html"`
	SMSTemplate      string                            `json:"sms_template"`
	WhatsAppTemplate string                            `json:"whatsapp_template"`
	EnabledChannels  []models.Channel                  `json:"enabled_channels"`
	ChannelConfig    map[string]map[string]interface{} `json:"channel_config"`
	DefaultPriority  models.Priority                   `json:"default_priority"`
	Type             models.NotificationType           `json:"type"`
	ActionButtons    []models.ActionButton             `json:"action_buttons"`
	DeepLink         models.DeepLinkConfig             `json:"deeplink"`
	RequiredContext  []string                          `json:"required_context"`
	SampleContext    map[string]interface{}            `json:"sample_context"`
	Throttle         models.ThrottleConfig             `json:"throttle"`
	QuietHours       models.QuietHours                 `json:"quiet_hours"`
}

// Upserter persists one template keyed by (name, locale).
type Upserter interface {
	Upsert(ctx context.Context, tpl *models.Template) error
}

// Seeder loads JSON template definitions from a directory into the store.
type Seeder struct {
	store  Upserter
	engine *Engine
	log    logger.Logger
}

func NewSeeder(store Upserter, engine *Engine, log logger.Logger) *Seeder {
	return &Seeder{store: store, engine: engine, log: log}
}

// SeedDir validates and upserts every *.json file under dir. Files are
// processed in name order; a bad file is logged and skipped.
func (s *Seeder) SeedDir(ctx context.Context, dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)

	var seeded int
	for _, path := range paths {
		if err := s.seedFile(ctx, path); err != nil {
			s.log.WithError(err).Warn("Skipping template seed file", map[string]interface{}{
				"file": filepath.Base(path),
			})
			continue
		}
		seeded++
	}
	return seeded, nil
}

func (s *Seeder) seedFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(seedSchema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("seed validation failed: %v", errs)
	}

	var sf seedFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return fmt.Errorf("invalid seed structure: %w", err)
	}

	tpl := sf.toTemplate()
	if err := tpl.Validate(); err != nil {
		return err
	}
	for _, text := range []string{tpl.TitleTemplate, tpl.BodyTemplate, tpl.EmailSubject, tpl.EmailBody, tpl.SMSTemplate, tpl.WhatsAppTemplate} {
		if text == "" {
			continue
		}
		if err := s.engine.Parse(text); err != nil {
			return fmt.Errorf("template %s: %w", tpl.Name, err)
		}
	}

	if err := s.store.Upsert(ctx, tpl); err != nil {
		return err
	}
	s.log.Info("Seeded notification template", map[string]interface{}{
		"template": tpl.Name,
		"locale":   tpl.Locale,
	})
	return nil
}

func (sf *seedFile) toTemplate() *models.Template {
	priority := sf.DefaultPriority
	if priority == "" {
		priority = models.PriorityNormal
	}
	typ := sf.Type
	if typ == "" {
		typ = models.TypeInfo
	}
	return &models.Template{
		Name:             sf.Name,
		Locale:           sf.Locale,
		Category:         sf.Category,
		TitleTemplate:    sf.TitleTemplate,
		BodyTemplate:     sf.BodyTemplate,
		EmailSubject:     sf.EmailSubject,
		EmailBody:        sf.EmailBody,
		EmailIsHTML:      sf.EmailIsHTML,
		SMSTemplate:      sf.SMSTemplate,
		WhatsAppTemplate: sf.WhatsAppTemplate,
		EnabledChannels:  sf.EnabledChannels,
		ChannelConfig:    sf.ChannelConfig,
		DefaultPriority:  priority,
		Type:             typ,
		ActionButtons:    sf.ActionButtons,
		DeepLink:         sf.DeepLink,
		RequiredContext:  sf.RequiredContext,
		SampleContext:    sf.SampleContext,
		Throttle:         sf.Throttle,
		QuietHours:       sf.QuietHours,
		IsActive:         true,
	}
}
