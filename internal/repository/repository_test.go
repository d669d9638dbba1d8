package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// ==========================
// Template Repository Tests
// ==========================

func TestTemplateRepo_GetActive_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTemplateRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM notification_templates`).
		WithArgs("mpp_collection_created", "hi").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetActive(context.Background(), "mpp_collection_created", "hi")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTemplateNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepo_ActiveLocales(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTemplateRepo(db)

	mock.ExpectQuery(`SELECT locale FROM notification_templates`).
		WithArgs("mpp_collection_created").
		WillReturnRows(sqlmock.NewRows([]string{"locale"}).AddRow("hi").AddRow("en"))

	locales, err := repo.ActiveLocales(context.Background(), "mpp_collection_created")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "en"}, locales)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Notification Repository Tests
// ==========================

func TestNotificationRepo_ClaimSending(t *testing.T) {
	tests := []struct {
		name         string
		rowsAffected int64
		wantClaimed  bool
	}{
		{"claims a queued notification", 1, true},
		{"declines an already-claimed notification", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewNotificationRepo(db)

			mock.ExpectExec(`UPDATE notifications`).
				WithArgs(int64(7)).
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))

			claimed, err := repo.ClaimSending(context.Background(), 7)
			require.NoError(t, err)
			assert.Equal(t, tt.wantClaimed, claimed)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNotificationRepo_CountSince(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepo(db)

	last := time.Date(2025, 5, 12, 6, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\), MAX\(created_at\)`).
		WithArgs(int64(10), int64(3), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(2, last))

	count, lastAt, err := repo.CountSince(context.Background(), 10, 3, last.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.NotNil(t, lastAt)
	assert.True(t, lastAt.Equal(last))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepo_CreateBatchWithLedger(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO notifications`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))
	mock.ExpectExec(`INSERT INTO notification_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	batch := []*models.Notification{{
		UUID:         "u-1",
		TemplateID:   3,
		TemplateName: "mpp_collection_created",
		RecipientID:  10,
		Title:        "t",
		Body:         "b",
		Channels:     []models.Channel{models.ChannelPush},
		Priority:     models.PriorityNormal,
		Type:         models.TypeInfo,
		Status:       models.StatusPending,
		ScheduledAt:  time.Now().UTC(),
	}}
	ledger := []*models.LedgerEntry{{
		Producer:  "collection",
		SourceKey: "MPP-0042",
		UserID:    10,
		IsSent:    true,
	}}

	ids, err := repo.CreateBatchWithLedger(context.Background(), batch, ledger)
	require.NoError(t, err)
	assert.Equal(t, []int64{101}, ids)
	assert.Equal(t, int64(101), batch[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepo_CreateBatchWithLedger_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO notifications`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.CreateBatchWithLedger(context.Background(), []*models.Notification{{
		UUID: "u-1", Status: models.StatusPending, ScheduledAt: time.Now(),
	}}, nil)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepo_ReclaimStale(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepo(db)

	mock.ExpectQuery(`UPDATE notifications`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4).AddRow(9))

	ids, err := repo.ReclaimStale(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Deep-Link Repository Tests
// ==========================

func deeplinkRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "token", "user_id", "module", "deep_link_url", "app_route",
		"android_package", "ios_bundle_id", "fallback_url", "status",
		"expires_at", "max_uses", "use_count", "last_accessed_at", "metadata",
		"created_at", "updated_at",
	})
}

func TestDeepLinkRepo_IncrementUse_Consumes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeepLinkRepo(db)

	now := time.Now().UTC()
	mock.ExpectQuery(`UPDATE deep_links`).
		WithArgs(int64(5)).
		WillReturnRows(deeplinkRows().AddRow(
			5, "tok-1", 10, "member", "kashee-member://products/123", "products/123",
			"com.kasheemilk.kashee", "com.kasheemilk.kashee.ios", "https://kashee.com", "consumed",
			nil, 1, 1, now, []byte(`{}`),
			now, now,
		))

	d, err := repo.IncrementUse(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.DeepLinkConsumed, d.Status)
	assert.Equal(t, 1, d.UseCount)
	require.NotNil(t, d.LastAccessedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeepLinkRepo_GetByToken_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeepLinkRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM deep_links`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByToken(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDeepLinkInvalid))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeepLinkRepo_SweepExpired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeepLinkRepo(db)

	mock.ExpectExec(`UPDATE deep_links SET status = 'expired'`).
		WithArgs(500).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := repo.SweepExpired(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Preference Repository Tests
// ==========================

func TestPreferenceRepo_GetForTemplate_NoneIsNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPreferenceRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM notification_preferences`).
		WithArgs(int64(10), int64(3)).
		WillReturnError(sql.ErrNoRows)

	p, err := repo.GetForTemplate(context.Background(), 10, 3)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Delivery Repository Tests
// ==========================

func TestDeliveryRepo_RecordAttempt(t *testing.T) {
	t.Run("transient failure schedules retry", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDeliveryRepo(db)

		next := time.Now().Add(time.Minute)
		mock.ExpectExec(`UPDATE notification_deliveries`).
			WithArgs(int64(7), "email", "smtp timeout", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.RecordAttempt(context.Background(), 7, models.ChannelEmail,
			models.SendResult{Status: models.StatusFailed, Error: "smtp timeout"}, &next)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("permanent failure exhausts attempts", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDeliveryRepo(db)

		mock.ExpectExec(`UPDATE notification_deliveries`).
			WithArgs(int64(7), "push", "unregistered token", "").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.RecordAttempt(context.Background(), 7, models.ChannelPush,
			models.SendResult{Status: models.StatusFailed, Error: "unregistered token", Permanent: true}, nil)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success clears retry state", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewDeliveryRepo(db)

		mock.ExpectExec(`UPDATE notification_deliveries`).
			WithArgs(int64(7), "sms", "msg-99", "OK").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.RecordAttempt(context.Background(), 7, models.ChannelSMS,
			models.SendResult{Status: models.StatusDelivered, ExternalID: "msg-99", Response: "OK"}, nil)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeliveryRepo_DueRetries(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepo(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "notification_id", "channel", "recipient", "status", "attempt_count", "max_attempts",
		"next_attempt_at", "external_id", "vendor_response", "error_message",
		"sent_at", "delivered_at", "failed_at", "created_at", "updated_at",
	}).AddRow(1, 7, "email", "a@b.c", "failed", 1, 3, now, nil, nil, "smtp timeout", nil, nil, now, now, now)

	mock.ExpectQuery(`SELECT .+ FROM notification_deliveries`).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnRows(rows)

	due, err := repo.DueRetries(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, models.ChannelEmail, due[0].Channel)
	assert.True(t, due[0].CanRetry())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// User and Device Repository Tests
// ==========================

func TestUserRepo_GetByMemberCode_Unresolvable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM users`).
		WithArgs("M-404").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByMemberCode(context.Background(), "M-404")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRecipientUnresolvable))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceRepo_ActiveToken_NoneIsEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeviceRepo(db)

	mock.ExpectQuery(`SELECT device_token FROM user_devices`).
		WithArgs(int64(10)).
		WillReturnError(sql.ErrNoRows)

	token, err := repo.ActiveToken(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Analytics Repository Tests
// ==========================

func TestAnalyticsRepo_LedgerKeys(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalyticsRepo(db)

	mock.ExpectQuery(`SELECT source_key FROM notification_ledger`).
		WithArgs("collection", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"source_key"}).AddRow("MPP-1").AddRow("MPP-2"))

	keys, err := repo.LedgerKeys(context.Background(), "collection", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, keys["MPP-1"])
	assert.True(t, keys["MPP-2"])
	assert.False(t, keys["MPP-3"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
