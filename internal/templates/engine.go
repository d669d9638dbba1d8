// Package templates renders notification templates into per-channel content
// and resolves their declarative deep-link configuration.
package templates

import (
	"regexp"
	"strings"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/contextdata"
	"kashee-notify/internal/models"
)

// placeholderRe matches {{ var }} and {{ var|filter }} and
// {{ var|filter:"arg" }} substitutions.
var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*((?:\|[a-zA-Z_]+(?::"[^"]*")?)*)\s*\}\}`)

// Rendered is the per-channel output of a single render pass.
type Rendered struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	EmailSubject string `json:"email_subject,omitempty"`
	EmailBody    string `json:"email_body,omitempty"`
	SMS          string `json:"sms,omitempty"`
	WhatsApp     string `json:"whatsapp,omitempty"`
}

// ResolvedDeepLink is a template's deep-link block after substituting the
// notification context into its route templates.
type ResolvedDeepLink struct {
	Module           string                 `json:"module,omitempty"`
	URLName          string                 `json:"url_name,omitempty"`
	RouteTemplate    string                 `json:"route_template,omitempty"`
	FallbackURL      string                 `json:"fallback_url,omitempty"`
	InAppRoute       string                 `json:"inapp_route,omitempty"`
	DeepLinkType     string                 `json:"deeplink_type,omitempty"`
	ExpiresAfterDays int                    `json:"expires_after_days,omitempty"`
	MaxUses          int                    `json:"max_uses,omitempty"`
	RouteParams      map[string]string      `json:"route_params,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Engine substitutes context values into template text. Strict mode turns a
// missing required variable into a render error instead of an empty string.
type Engine struct {
	Strict bool
}

func NewEngine(strict bool) *Engine {
	return &Engine{Strict: strict}
}

// Parse checks template text for well-formedness. Called at template save
// time so bad templates never reach the render path.
func (e *Engine) Parse(text string) error {
	opens := strings.Count(text, "{{")
	closes := strings.Count(text, "}}")
	if opens != closes {
		return errors.NewTemplateRenderError("unbalanced placeholder braces", nil)
	}
	matched := len(placeholderRe.FindAllString(text, -1))
	if matched != opens {
		return errors.NewTemplateRenderError("malformed placeholder expression", nil)
	}
	return nil
}

// RenderText substitutes context into one template string.
func (e *Engine) RenderText(text string, ctx map[string]interface{}) (string, error) {
	var renderErr error
	out := placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := placeholderRe.FindStringSubmatch(match)
		name, filterExpr := parts[1], parts[2]
		val, ok := lookup(ctx, name)
		if !ok && !hasDefaultFilter(filterExpr) {
			if e.Strict && renderErr == nil {
				renderErr = errors.NewTemplateRenderError("missing context variable: "+name, nil)
			}
			val = nil
		}
		s, err := applyFilters(val, ok, filterExpr)
		if err != nil && renderErr == nil {
			renderErr = err
		}
		return s
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

// Render produces the per-channel content for a template. When channel is
// non-empty only that channel's fields (plus title and body) are rendered.
func (e *Engine) Render(tpl *models.Template, ctx map[string]interface{}, channel models.Channel) (*Rendered, error) {
	out := &Rendered{}
	var err error
	if out.Title, err = e.RenderText(tpl.TitleTemplate, ctx); err != nil {
		return nil, errors.NewTemplateRenderError("title", err)
	}
	if out.Body, err = e.RenderText(tpl.BodyTemplate, ctx); err != nil {
		return nil, errors.NewTemplateRenderError("body", err)
	}

	want := func(ch models.Channel) bool {
		return channel == "" || channel == ch
	}
	if want(models.ChannelEmail) && tpl.EmailSubject != "" {
		if out.EmailSubject, err = e.RenderText(tpl.EmailSubject, ctx); err != nil {
			return nil, errors.NewTemplateRenderError("email subject", err)
		}
		if out.EmailBody, err = e.RenderText(tpl.EmailBody, ctx); err != nil {
			return nil, errors.NewTemplateRenderError("email body", err)
		}
	}
	if want(models.ChannelSMS) && tpl.SMSTemplate != "" {
		if out.SMS, err = e.RenderText(tpl.SMSTemplate, ctx); err != nil {
			return nil, errors.NewTemplateRenderError("sms", err)
		}
	}
	if want(models.ChannelWhatsApp) && tpl.WhatsAppTemplate != "" {
		if out.WhatsApp, err = e.RenderText(tpl.WhatsAppTemplate, ctx); err != nil {
			return nil, errors.NewTemplateRenderError("whatsapp", err)
		}
	}
	return out, nil
}

// ValidateContext returns the names of required context variables missing
// from ctx.
func (e *Engine) ValidateContext(tpl *models.Template, ctx map[string]interface{}) []string {
	var missing []string
	for _, name := range tpl.RequiredContext {
		if _, ok := lookup(ctx, name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// ResolveDeepLink substitutes ctx into the template's deep-link block and
// extracts route parameters. Returns nil when no deep-link is configured.
func (e *Engine) ResolveDeepLink(tpl *models.Template, ctx map[string]interface{}) (*ResolvedDeepLink, error) {
	cfg := tpl.DeepLink
	if cfg.IsZero() {
		return nil, nil
	}
	out := &ResolvedDeepLink{
		Module:           cfg.Module,
		URLName:          cfg.URLName,
		DeepLinkType:     cfg.DeepLinkType,
		ExpiresAfterDays: cfg.ExpiresAfterDays,
		MaxUses:          cfg.MaxUses,
		Metadata:         cfg.Metadata,
		RouteParams:      extractRouteParams(ctx),
	}
	var err error
	if cfg.RouteTemplate != "" {
		if out.RouteTemplate, err = e.RenderText(cfg.RouteTemplate, ctx); err != nil {
			return nil, errors.NewTemplateRenderError("route template", err)
		}
	}
	if cfg.FallbackTemplate != "" {
		if out.FallbackURL, err = e.RenderText(cfg.FallbackTemplate, ctx); err != nil {
			return nil, errors.NewTemplateRenderError("fallback template", err)
		}
	}
	if cfg.InAppRoute != "" {
		if out.InAppRoute, err = e.RenderText(cfg.InAppRoute, ctx); err != nil {
			return nil, errors.NewTemplateRenderError("inapp route", err)
		}
	}
	return out, nil
}

// Preview bundles rendered content, resolved deep-link config and the echoed
// context for admin tooling. Missing sample context falls back to the
// template's own SampleContext.
func (e *Engine) Preview(tpl *models.Template, ctx map[string]interface{}) (map[string]interface{}, error) {
	if ctx == nil {
		ctx = tpl.SampleContext
	}
	ctx = contextdata.Sanitize(ctx)

	// preview is tooling; never strict
	eng := &Engine{Strict: false}
	rendered, err := eng.Render(tpl, ctx, "")
	if err != nil {
		return nil, err
	}
	deeplink, err := eng.ResolveDeepLink(tpl, ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"template": tpl.Name,
		"locale":   tpl.Locale,
		"rendered": rendered,
		"deeplink": deeplink,
		"context":  ctx,
	}, nil
}

// extractRouteParams pulls identifier-like keys from the context for use as
// named route arguments.
func extractRouteParams(ctx map[string]interface{}) map[string]string {
	params := map[string]string{}
	for k, v := range ctx {
		switch {
		case k == "pk", k == "id", k == "slug", k == "uuid", k == "object_id":
			params[k] = contextdata.Stringify(v)
		case strings.HasSuffix(k, "_id"):
			params[k] = contextdata.Stringify(v)
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// lookup resolves dotted names against nested maps, e.g. "member.name".
func lookup(ctx map[string]interface{}, name string) (interface{}, bool) {
	parts := strings.Split(name, ".")
	var cur interface{} = ctx
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
