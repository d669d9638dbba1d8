package deeplink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/models"
	"kashee-notify/internal/repository"
)

const (
	moduleCacheKeyPrefix = "deeplink:user_module:"
	defaultModule        = "member"
)

// MintRequest carries everything needed to create one deep-link token.
type MintRequest struct {
	UserID        *int64
	Module        string
	URLName       string
	RouteTemplate string
	RouteParams   map[string]string
	FallbackURL   string
	ExpiresInDays int
	MaxUses       int
	Metadata      map[string]interface{}
}

// Config holds the service's tunables.
type Config struct {
	SmartHost         string
	DefaultExpiryDays int
	ModuleCacheTTL    time.Duration
}

// Service mints, validates and administers deep-link tokens.
type Service struct {
	repo     repository.DeepLinkRepository
	devices  repository.DeviceRepository
	registry *Registry
	routes   *RouteRegistry
	rdb      *redis.Client
	cfg      Config
	log      logger.Logger
	now      func() time.Time
}

func NewService(repo repository.DeepLinkRepository, devices repository.DeviceRepository, registry *Registry, routes *RouteRegistry, rdb *redis.Client, cfg Config, log logger.Logger) *Service {
	if cfg.DefaultExpiryDays <= 0 {
		cfg.DefaultExpiryDays = 30
	}
	if cfg.ModuleCacheTTL <= 0 {
		cfg.ModuleCacheTTL = time.Hour
	}
	return &Service{
		repo:     repo,
		devices:  devices,
		registry: registry,
		routes:   routes,
		rdb:      rdb,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// ResolveUserModule returns the app variant of the user's most recently
// registered device, falling back to member. Results are cached in Redis.
func (s *Service) ResolveUserModule(ctx context.Context, userID int64) string {
	key := fmt.Sprintf("%s%d", moduleCacheKeyPrefix, userID)
	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, key).Result(); err == nil && s.registry.Exists(cached) {
			return cached
		}
	}

	module, err := s.devices.LatestModule(ctx, userID)
	if err != nil || module == "" || !s.registry.Exists(module) {
		module = defaultModule
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, key, module, s.cfg.ModuleCacheTTL).Err(); err != nil {
			s.log.WithError(err).Debug("Module cache write failed", map[string]interface{}{"user_id": userID})
		}
	}
	return module
}

// Mint creates and persists one deep-link token. The module is auto-detected
// from the user's devices when the request leaves it empty.
func (s *Service) Mint(ctx context.Context, req MintRequest) (*models.DeepLink, error) {
	module := req.Module
	if module == "" {
		if req.UserID != nil {
			module = s.ResolveUserModule(ctx, *req.UserID)
		} else {
			module = defaultModule
		}
	}
	appCfg, err := s.registry.Get(module)
	if err != nil {
		return nil, err
	}

	route, err := s.resolveRoute(req)
	if err != nil {
		return nil, err
	}
	route = strings.TrimPrefix(route, "/")

	expiryDays := req.ExpiresInDays
	if expiryDays == 0 {
		expiryDays = s.cfg.DefaultExpiryDays
	}
	var expiresAt *time.Time
	if expiryDays > 0 {
		t := s.now().UTC().AddDate(0, 0, expiryDays)
		expiresAt = &t
	}
	if expiresAt != nil && expiresAt.Before(s.now().UTC()) {
		return nil, errors.NewDeepLinkExpiryInPastError(*expiresAt)
	}
	if req.MaxUses < 0 {
		return nil, errors.NewDeepLinkInvalidError("", "max_uses must be >= 0")
	}

	fallback := req.FallbackURL
	if fallback == "" {
		fallback = appCfg.DefaultFallback
	}

	link := &models.DeepLink{
		Token:          uuid.NewString(),
		UserID:         req.UserID,
		Module:         module,
		DeepLinkURL:    appCfg.Scheme + "://" + route,
		AppRoute:       route,
		AndroidPackage: appCfg.AndroidPackage,
		IOSBundleID:    appCfg.IOSBundleID,
		FallbackURL:    fallback,
		Status:         models.DeepLinkActive,
		ExpiresAt:      expiresAt,
		MaxUses:        req.MaxUses,
		Metadata:       req.Metadata,
	}
	if err := s.repo.Create(ctx, link); err != nil {
		return nil, err
	}
	s.log.Debug("Minted deep link", map[string]interface{}{
		"token":  link.Token,
		"module": module,
		"route":  route,
	})
	return link, nil
}

func (s *Service) resolveRoute(req MintRequest) (string, error) {
	if req.URLName != "" {
		route, err := s.routes.Reverse(req.URLName, req.RouteParams)
		if err == nil {
			return route, nil
		}
		if req.RouteTemplate == "" {
			return "", err
		}
	}
	if req.RouteTemplate != "" {
		return req.RouteTemplate, nil
	}
	return "", errors.NewRouteResolutionError("neither url_name nor route_template given")
}

// SmartURL wraps a token into the public redirect URL placed in payloads.
func (s *Service) SmartURL(link *models.DeepLink) string {
	return s.cfg.SmartHost + "?token=" + link.Token
}

// Validate loads a token and checks it is redeemable. Expiry detected here
// opportunistically flips the row to expired. Returns nil when the token
// cannot be served, with the reason in the error.
func (s *Service) Validate(ctx context.Context, token string) (*models.DeepLink, error) {
	link, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if link.Status == models.DeepLinkActive && link.IsExpired(now) {
		if err := s.repo.UpdateStatus(ctx, link.ID, models.DeepLinkExpired); err != nil {
			s.log.WithError(err).Warn("Failed to expire deep link", map[string]interface{}{"token": token})
		}
		link.Status = models.DeepLinkExpired
	}
	if !link.IsValid(now) {
		return link, errors.NewDeepLinkInvalidError(token, string(link.Status))
	}
	return link, nil
}

// IncrementUse records one successful redirect.
func (s *Service) IncrementUse(ctx context.Context, link *models.DeepLink) (*models.DeepLink, error) {
	return s.repo.IncrementUse(ctx, link.ID)
}

// Revoke permanently disables a token.
func (s *Service) Revoke(ctx context.Context, link *models.DeepLink) error {
	return s.repo.UpdateStatus(ctx, link.ID, models.DeepLinkRevoked)
}

// ExtendExpiry pushes a link's expiry out by the given days and reactivates
// an expired link.
func (s *Service) ExtendExpiry(ctx context.Context, link *models.DeepLink, days int) error {
	base := s.now().UTC()
	if link.ExpiresAt != nil && link.ExpiresAt.After(base) {
		base = *link.ExpiresAt
	}
	return s.repo.ExtendExpiry(ctx, link.ID, base.AddDate(0, 0, days))
}

// CleanupExpired sweeps active rows past their expiry.
func (s *Service) CleanupExpired(ctx context.Context, batchSize int) (int64, error) {
	return s.repo.SweepExpired(ctx, batchSize)
}

// DeleteOld removes dead rows older than the retention window.
func (s *Service) DeleteOld(ctx context.Context, days int) (int64, error) {
	return s.repo.DeleteOld(ctx, s.now().UTC().AddDate(0, 0, -days))
}
