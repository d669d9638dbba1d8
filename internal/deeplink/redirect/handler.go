// Package redirect serves the public smart-link endpoint that turns a
// deep-link token plus a User-Agent into a platform-specific app launch.
package redirect

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/common/metrics"
	"kashee-notify/internal/deeplink"
	"kashee-notify/internal/models"
	"kashee-notify/internal/repository"
)

const playStoreBase = "https://play.google.com/store/apps/details?id="

// Pinger reports backend reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves /open and its companion endpoints.
type Handler struct {
	service   *deeplink.Service
	analytics repository.AnalyticsRepository
	log       logger.Logger
	db        Pinger
	cache     Pinger
}

func NewHandler(service *deeplink.Service, analytics repository.AnalyticsRepository, log logger.Logger, db, cache Pinger) *Handler {
	return &Handler{service: service, analytics: analytics, log: log, db: db, cache: cache}
}

// Routes mounts the redirect surface. Redirects are rate limited per client
// IP; probing invalid tokens stays cheap.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.NoCache)
	r.Use(httprate.LimitByIP(60, time.Minute))

	r.Get("/open", h.Redirect)
	r.Get("/open/{token}", h.Redirect)
	r.Get("/open/info/{token}", h.Info)
	r.Get("/open/healthz", h.Healthz)
	return r
}

// Redirect is the stable external contract: token in, platform-specific
// response out. The use counter increments exactly once per successful
// response and never on error paths.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		h.errorJSON(w, http.StatusBadRequest, "Missing token parameter")
		return
	}

	platform := detectPlatform(r.UserAgent())

	link, err := h.service.Validate(r.Context(), token)
	if err != nil {
		h.renderInvalid(w, r, link, token, platform)
		return
	}

	link, err = h.service.IncrementUse(r.Context(), link)
	if err != nil {
		h.log.WithError(err).Error("Deep link use tracking failed", map[string]interface{}{"token": token})
		h.errorJSON(w, http.StatusInternalServerError, "Internal error")
		return
	}
	h.trackClick(r, token, platform)

	switch platform {
	case "android":
		h.renderAndroid(w, link)
	case "ios":
		h.renderIOS(w, link)
	default:
		metrics.Redirects.WithLabelValues("web", "ok").Inc()
		http.Redirect(w, r, link.FallbackURL, http.StatusFound)
	}
}

func (h *Handler) renderAndroid(w http.ResponseWriter, link *models.DeepLink) {
	intentURL := "intent://" + link.AppRoute + "#Intent;" +
		"scheme=" + scheme(link) + ";" +
		"package=" + link.AndroidPackage + ";" +
		"S.browser_fallback_url=" + playStoreBase + link.AndroidPackage + ";" +
		"end"

	metrics.Redirects.WithLabelValues("android", "ok").Inc()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = androidPage.Execute(w, map[string]interface{}{
		"IntentURL": intentURL,
		"Fallback":  link.FallbackURL,
	})
}

func (h *Handler) renderIOS(w http.ResponseWriter, link *models.DeepLink) {
	metrics.Redirects.WithLabelValues("ios", "ok").Inc()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = iosPage.Execute(w, map[string]interface{}{
		"DeepLink":    link.DeepLinkURL,
		"AppStoreURL": "https://apps.apple.com/app/" + link.IOSBundleID,
		"Fallback":    link.FallbackURL,
	})
}

// renderInvalid maps dead tokens to their status pages: 404 for unknown,
// 410 for expired, revoked and consumed.
func (h *Handler) renderInvalid(w http.ResponseWriter, r *http.Request, link *models.DeepLink, token, platform string) {
	if link == nil {
		metrics.Redirects.WithLabelValues(platform, "not_found").Inc()
		h.renderStatusPage(w, notFoundPage, http.StatusNotFound, link)
		return
	}
	switch link.Status {
	case models.DeepLinkExpired:
		metrics.Redirects.WithLabelValues(platform, "expired").Inc()
		h.renderStatusPage(w, expiredPage, http.StatusGone, link)
	case models.DeepLinkRevoked:
		metrics.Redirects.WithLabelValues(platform, "revoked").Inc()
		h.renderStatusPage(w, revokedPage, http.StatusGone, link)
	case models.DeepLinkConsumed:
		metrics.Redirects.WithLabelValues(platform, "consumed").Inc()
		h.renderStatusPage(w, consumedPage, http.StatusGone, link)
	default:
		metrics.Redirects.WithLabelValues(platform, "not_found").Inc()
		h.renderStatusPage(w, notFoundPage, http.StatusNotFound, link)
	}
}

func (h *Handler) renderStatusPage(w http.ResponseWriter, page *template.Template, status int, link *models.DeepLink) {
	home := "https://tech.kasheemilk.com/"
	if link != nil && link.FallbackURL != "" {
		home = link.FallbackURL
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = page.Execute(w, map[string]interface{}{"HomeURL": home})
}

// Info exposes token metadata for debugging and admin tooling. Only tokens
// that would still redirect get metadata; dead tokens are indistinguishable
// from unknown ones here.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	link, err := h.service.Validate(r.Context(), token)
	if err != nil {
		h.errorJSON(w, http.StatusNotFound, "Link not found")
		return
	}

	now := time.Now().UTC()
	payload := map[string]interface{}{
		"token":        link.Token,
		"module":       link.Module,
		"path":         link.AppRoute,
		"status":       string(link.Status),
		"is_valid":     link.IsValid(now),
		"is_expired":   link.IsExpired(now),
		"use_count":    link.UseCount,
		"max_uses":     link.MaxUses,
		"created_at":   link.CreatedAt.Format(time.RFC3339),
		"fallback_url": link.FallbackURL,
	}
	if link.ExpiresAt != nil {
		payload["expires_at"] = link.ExpiresAt.Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// Healthz pings postgres and redis; a failing backend turns the response
// into a 503 with the error inline.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "healthy"}
	code := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["postgres"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["postgres"] = "ok"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["redis"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (h *Handler) trackClick(r *http.Request, token, platform string) {
	if h.analytics == nil {
		return
	}
	click := &models.ClickEvent{
		Token:     token,
		Platform:  platform,
		UserAgent: r.UserAgent(),
	}
	if err := h.analytics.InsertClick(r.Context(), click); err != nil {
		h.log.WithError(err).Debug("Click tracking failed", map[string]interface{}{"token": token})
	}
}

func (h *Handler) errorJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": message, "status": status})
}

func detectPlatform(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "ios"
	default:
		return "web"
	}
}

func scheme(link *models.DeepLink) string {
	if i := strings.Index(link.DeepLinkURL, "://"); i > 0 {
		return link.DeepLinkURL[:i]
	}
	return link.Module
}
