package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	stderrors "errors"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/models"
)

const deeplinkColumns = `
	id, token, user_id, module, deep_link_url, app_route,
	android_package, ios_bundle_id, fallback_url, status,
	expires_at, max_uses, use_count, last_accessed_at, metadata,
	created_at, updated_at`

type DeepLinkRepo struct {
	db *sql.DB
}

func NewDeepLinkRepo(db *sql.DB) *DeepLinkRepo {
	return &DeepLinkRepo{db: db}
}

func (r *DeepLinkRepo) Create(ctx context.Context, d *models.DeepLink) error {
	metadata, _ := json.Marshal(d.Metadata)
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO deep_links (
			token, user_id, module, deep_link_url, app_route,
			android_package, ios_bundle_id, fallback_url, status,
			expires_at, max_uses, use_count, metadata, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,NOW(),NOW())
		RETURNING id, created_at`,
		d.Token, d.UserID, d.Module, d.DeepLinkURL, d.AppRoute,
		d.AndroidPackage, d.IOSBundleID, d.FallbackURL, string(d.Status),
		d.ExpiresAt, d.MaxUses, metadata,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("deeplink create", err)
	}
	return nil
}

func (r *DeepLinkRepo) GetByToken(ctx context.Context, token string) (*models.DeepLink, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+deeplinkColumns+`
		FROM deep_links WHERE token = $1`, token)
	d, err := scanDeepLink(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewDeepLinkInvalidError(token, "not found")
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("deeplink get", err)
	}
	return d, nil
}

func (r *DeepLinkRepo) UpdateStatus(ctx context.Context, id int64, status models.DeepLinkStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deep_links SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return errors.NewQueryExecutionFailedError("deeplink status update", err)
	}
	return nil
}

func (r *DeepLinkRepo) ExtendExpiry(ctx context.Context, id int64, until time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deep_links
		SET expires_at = $2, status = 'active', updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'expired')`, id, until)
	if err != nil {
		return errors.NewQueryExecutionFailedError("deeplink extend", err)
	}
	return nil
}

// IncrementUse bumps use_count, stamps last_accessed_at and flips the row to
// consumed when the use budget is spent, all in one statement so concurrent
// redirects cannot double-consume.
func (r *DeepLinkRepo) IncrementUse(ctx context.Context, id int64) (*models.DeepLink, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE deep_links
		SET use_count = use_count + 1,
		    last_accessed_at = NOW(),
		    status = CASE WHEN max_uses > 0 AND use_count + 1 >= max_uses THEN 'consumed' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+deeplinkColumns, id)
	d, err := scanDeepLink(row)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("deeplink increment", err)
	}
	return d, nil
}

// SweepExpired flips active rows whose expiry passed. Runs in batches so the
// periodic job holds no long transaction.
func (r *DeepLinkRepo) SweepExpired(ctx context.Context, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE deep_links SET status = 'expired', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM deep_links
			WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= NOW()
			LIMIT $1
		)`, batchSize)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("deeplink sweep", err)
	}
	return res.RowsAffected()
}

func (r *DeepLinkRepo) DeleteOld(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM deep_links
		WHERE status IN ('expired', 'revoked', 'consumed') AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("deeplink cleanup", err)
	}
	return res.RowsAffected()
}

func scanDeepLink(row rowScanner) (*models.DeepLink, error) {
	var d models.DeepLink
	var userID sql.NullInt64
	var fallback sql.NullString
	var status string
	var expiresAt, lastAccessed sql.NullTime
	var metadata []byte

	err := row.Scan(
		&d.ID, &d.Token, &userID, &d.Module, &d.DeepLinkURL, &d.AppRoute,
		&d.AndroidPackage, &d.IOSBundleID, &fallback, &status,
		&expiresAt, &d.MaxUses, &d.UseCount, &lastAccessed, &metadata,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = models.DeepLinkStatus(status)
	if userID.Valid {
		d.UserID = &userID.Int64
	}
	if fallback.Valid {
		d.FallbackURL = fallback.String
	}
	d.ExpiresAt = timePtr(expiresAt)
	d.LastAccessedAt = timePtr(lastAccessed)
	unmarshalInto(metadata, &d.Metadata)
	return &d, nil
}
