package deeplink

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

type mockDeepLinkRepo struct {
	createFn       func(ctx context.Context, d *models.DeepLink) error
	getByTokenFn   func(ctx context.Context, token string) (*models.DeepLink, error)
	updateStatusFn func(ctx context.Context, id int64, status models.DeepLinkStatus) error
	incrementFn    func(ctx context.Context, id int64) (*models.DeepLink, error)
}

func (m *mockDeepLinkRepo) Create(ctx context.Context, d *models.DeepLink) error {
	if m.createFn != nil {
		return m.createFn(ctx, d)
	}
	d.ID = 1
	return nil
}

func (m *mockDeepLinkRepo) GetByToken(ctx context.Context, token string) (*models.DeepLink, error) {
	if m.getByTokenFn != nil {
		return m.getByTokenFn(ctx, token)
	}
	return nil, errors.NewDeepLinkInvalidError(token, "not found")
}

func (m *mockDeepLinkRepo) UpdateStatus(ctx context.Context, id int64, status models.DeepLinkStatus) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (m *mockDeepLinkRepo) ExtendExpiry(ctx context.Context, id int64, until time.Time) error {
	return nil
}

func (m *mockDeepLinkRepo) IncrementUse(ctx context.Context, id int64) (*models.DeepLink, error) {
	if m.incrementFn != nil {
		return m.incrementFn(ctx, id)
	}
	return &models.DeepLink{ID: id, UseCount: 1}, nil
}

func (m *mockDeepLinkRepo) SweepExpired(ctx context.Context, batchSize int) (int64, error) {
	return 0, nil
}

func (m *mockDeepLinkRepo) DeleteOld(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

type mockDeviceRepo struct {
	latestModuleFn func(ctx context.Context, userID int64) (string, error)
	moduleCalls    int
}

func (m *mockDeviceRepo) ActiveToken(ctx context.Context, userID int64) (string, error) {
	return "", nil
}

func (m *mockDeviceRepo) LatestModule(ctx context.Context, userID int64) (string, error) {
	m.moduleCalls++
	if m.latestModuleFn != nil {
		return m.latestModuleFn(ctx, userID)
	}
	return "", nil
}

func (m *mockDeviceRepo) Register(ctx context.Context, d *models.UserDevice) error {
	return nil
}

func newTestService(t *testing.T, repo *mockDeepLinkRepo, devices *mockDeviceRepo) *Service {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewService(repo, devices, NewRegistry(), NewRouteRegistry(), rdb, Config{
		SmartHost:         "https://tech.kasheemilk.com/open",
		DefaultExpiryDays: 30,
		ModuleCacheTTL:    time.Hour,
	}, logger.NewNoOpLogger())
}

func int64Ptr(v int64) *int64 { return &v }

// ==========================
// Registry Tests
// ==========================

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	t.Run("default modules registered", func(t *testing.T) {
		cfg, err := reg.Get("member")
		require.NoError(t, err)
		assert.Equal(t, "kashee-member", cfg.Scheme)
		assert.Equal(t, "com.kasheemilk.kashee", cfg.AndroidPackage)

		assert.True(t, reg.Exists("sahayak"))
		assert.True(t, reg.Exists("pes"))
	})

	t.Run("unknown module fails", func(t *testing.T) {
		_, err := reg.Get("ghost")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidModule))
	})

	t.Run("registration bumps generation", func(t *testing.T) {
		before := reg.Generation()
		reg.Register("vendor", AppConfig{Scheme: "kashee-vendor"})
		assert.Greater(t, reg.Generation(), before)
		assert.True(t, reg.Exists("vendor"))
	})
}

// ==========================
// Route Registry Tests
// ==========================

func TestRouteRegistry_Reverse(t *testing.T) {
	routes := NewRouteRegistry()

	t.Run("substitutes named params", func(t *testing.T) {
		path, err := routes.Reverse("collection_detail", map[string]string{"collection_id": "42"})
		require.NoError(t, err)
		assert.Equal(t, "collections/42", path)
	})

	t.Run("pk alias satisfies id params", func(t *testing.T) {
		path, err := routes.Reverse("collection_detail", map[string]string{"pk": "7"})
		require.NoError(t, err)
		assert.Equal(t, "collections/7", path)
	})

	t.Run("unknown name fails", func(t *testing.T) {
		_, err := routes.Reverse("nope", nil)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeRouteResolutionFailed))
	})

	t.Run("missing params fail", func(t *testing.T) {
		_, err := routes.Reverse("collection_detail", nil)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeRouteResolutionFailed))
	})
}

// ==========================
// Service Tests
// ==========================

func TestService_Mint(t *testing.T) {
	t.Run("builds scheme url from module", func(t *testing.T) {
		svc := newTestService(t, &mockDeepLinkRepo{}, &mockDeviceRepo{})

		link, err := svc.Mint(context.Background(), MintRequest{
			UserID:        int64Ptr(10),
			Module:        "member",
			RouteTemplate: "/products/123",
		})
		require.NoError(t, err)
		assert.Equal(t, "kashee-member://products/123", link.DeepLinkURL)
		assert.Equal(t, "products/123", link.AppRoute)
		assert.Equal(t, "com.kasheemilk.kashee", link.AndroidPackage)
		assert.Equal(t, models.DeepLinkActive, link.Status)
		assert.NotEmpty(t, link.Token)
		require.NotNil(t, link.ExpiresAt)
	})

	t.Run("url name reverses through route registry", func(t *testing.T) {
		svc := newTestService(t, &mockDeepLinkRepo{}, &mockDeviceRepo{})

		link, err := svc.Mint(context.Background(), MintRequest{
			Module:      "member",
			URLName:     "collection_detail",
			RouteParams: map[string]string{"collection_id": "42"},
		})
		require.NoError(t, err)
		assert.Equal(t, "collections/42", link.AppRoute)
	})

	t.Run("auto-detects module from devices", func(t *testing.T) {
		devices := &mockDeviceRepo{
			latestModuleFn: func(ctx context.Context, userID int64) (string, error) {
				return "sahayak", nil
			},
		}
		svc := newTestService(t, &mockDeepLinkRepo{}, devices)

		link, err := svc.Mint(context.Background(), MintRequest{
			UserID:        int64Ptr(10),
			RouteTemplate: "tasks/9",
		})
		require.NoError(t, err)
		assert.Equal(t, "sahayak", link.Module)
		assert.Equal(t, "kashee-sahayak://tasks/9", link.DeepLinkURL)
	})

	t.Run("unknown module fails", func(t *testing.T) {
		svc := newTestService(t, &mockDeepLinkRepo{}, &mockDeviceRepo{})
		_, err := svc.Mint(context.Background(), MintRequest{
			Module:        "ghost",
			RouteTemplate: "x",
		})
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidModule))
	})

	t.Run("no route fails", func(t *testing.T) {
		svc := newTestService(t, &mockDeepLinkRepo{}, &mockDeviceRepo{})
		_, err := svc.Mint(context.Background(), MintRequest{Module: "member"})
		assert.True(t, errors.IsCode(err, errors.ErrCodeRouteResolutionFailed))
	})

	t.Run("negative max uses rejected", func(t *testing.T) {
		svc := newTestService(t, &mockDeepLinkRepo{}, &mockDeviceRepo{})
		_, err := svc.Mint(context.Background(), MintRequest{
			Module: "member", RouteTemplate: "x", MaxUses: -1,
		})
		assert.Error(t, err)
	})
}

func TestService_ResolveUserModule_Caches(t *testing.T) {
	devices := &mockDeviceRepo{
		latestModuleFn: func(ctx context.Context, userID int64) (string, error) {
			return "pes", nil
		},
	}
	svc := newTestService(t, &mockDeepLinkRepo{}, devices)

	ctx := context.Background()
	assert.Equal(t, "pes", svc.ResolveUserModule(ctx, 10))
	assert.Equal(t, "pes", svc.ResolveUserModule(ctx, 10))
	assert.Equal(t, 1, devices.moduleCalls)
}

func TestService_ResolveUserModule_CacheCommands(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	devices := &mockDeviceRepo{
		latestModuleFn: func(ctx context.Context, userID int64) (string, error) {
			return "sahayak", nil
		},
	}
	svc := NewService(&mockDeepLinkRepo{}, devices, NewRegistry(), NewRouteRegistry(), rdb, Config{
		SmartHost:      "https://tech.kasheemilk.com/open",
		ModuleCacheTTL: time.Hour,
	}, logger.NewNoOpLogger())

	mock.ExpectGet("deeplink:user_module:42").RedisNil()
	mock.ExpectSet("deeplink:user_module:42", "sahayak", time.Hour).SetVal("OK")

	assert.Equal(t, "sahayak", svc.ResolveUserModule(context.Background(), 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_SmartURL(t *testing.T) {
	svc := newTestService(t, &mockDeepLinkRepo{}, &mockDeviceRepo{})
	url := svc.SmartURL(&models.DeepLink{Token: "abc-123"})
	assert.Equal(t, "https://tech.kasheemilk.com/open?token=abc-123", url)
}

func TestService_Validate(t *testing.T) {
	t.Run("valid link passes", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		repo := &mockDeepLinkRepo{
			getByTokenFn: func(ctx context.Context, token string) (*models.DeepLink, error) {
				return &models.DeepLink{ID: 1, Token: token, Status: models.DeepLinkActive, ExpiresAt: &future}, nil
			},
		}
		svc := newTestService(t, repo, &mockDeviceRepo{})

		link, err := svc.Validate(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, models.DeepLinkActive, link.Status)
	})

	t.Run("lazy expiry promotion", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		var promoted models.DeepLinkStatus
		repo := &mockDeepLinkRepo{
			getByTokenFn: func(ctx context.Context, token string) (*models.DeepLink, error) {
				return &models.DeepLink{ID: 1, Token: token, Status: models.DeepLinkActive, ExpiresAt: &past}, nil
			},
			updateStatusFn: func(ctx context.Context, id int64, status models.DeepLinkStatus) error {
				promoted = status
				return nil
			},
		}
		svc := newTestService(t, repo, &mockDeviceRepo{})

		link, err := svc.Validate(context.Background(), "tok")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeDeepLinkInvalid))
		assert.Equal(t, models.DeepLinkExpired, promoted)
		assert.Equal(t, models.DeepLinkExpired, link.Status)
	})

	t.Run("exhausted link is invalid", func(t *testing.T) {
		repo := &mockDeepLinkRepo{
			getByTokenFn: func(ctx context.Context, token string) (*models.DeepLink, error) {
				return &models.DeepLink{ID: 1, Token: token, Status: models.DeepLinkActive, MaxUses: 1, UseCount: 1}, nil
			},
		}
		svc := newTestService(t, repo, &mockDeviceRepo{})

		_, err := svc.Validate(context.Background(), "tok")
		assert.True(t, errors.IsCode(err, errors.ErrCodeDeepLinkInvalid))
	})
}
