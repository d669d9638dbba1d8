package repository

import (
	"context"
	"database/sql"

	stderrors "errors"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/models"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `
	id, username, full_name, email, phone, language, member_code, is_active, created_at`

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE id = $1`, id)
	return scanUser(row, "")
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE LOWER(email) = LOWER($1)`, email)
	return scanUser(row, email)
}

// GetByMemberCode resolves an ERP member code to a user account, the path
// batch producers take from source rows to recipients.
func (r *UserRepo) GetByMemberCode(ctx context.Context, code string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE member_code = $1 AND is_active = TRUE`, code)
	return scanUser(row, code)
}

func scanUser(row rowScanner, identifier string) (*models.User, error) {
	var u models.User
	var fullName, email, phone, language, memberCode sql.NullString
	err := row.Scan(&u.ID, &u.Username, &fullName, &email, &phone, &language, &memberCode, &u.IsActive, &u.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewRecipientUnresolvableError(identifier)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("user get", err)
	}
	u.FullName = fullName.String
	u.Email = email.String
	u.Phone = phone.String
	u.Language = language.String
	u.MemberCode = memberCode.String
	return &u, nil
}

type DeviceRepo struct {
	db *sql.DB
}

func NewDeviceRepo(db *sql.DB) *DeviceRepo {
	return &DeviceRepo{db: db}
}

// ActiveToken returns the most recently seen active device token for a user,
// or empty when the user has no push target.
func (r *DeviceRepo) ActiveToken(ctx context.Context, userID int64) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, `
		SELECT device_token FROM user_devices
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY last_seen_at DESC
		LIMIT 1`, userID).Scan(&token)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.NewQueryExecutionFailedError("device token", err)
	}
	return token, nil
}

// LatestModule returns the app variant of the user's most recent device.
func (r *DeviceRepo) LatestModule(ctx context.Context, userID int64) (string, error) {
	var module string
	err := r.db.QueryRowContext(ctx, `
		SELECT module FROM user_devices
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY registered_at DESC
		LIMIT 1`, userID).Scan(&module)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.NewQueryExecutionFailedError("device module", err)
	}
	return module, nil
}

func (r *DeviceRepo) Register(ctx context.Context, d *models.UserDevice) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO user_devices (
			user_id, device_token, platform, module, app_version,
			is_active, registered_at, last_seen_at
		) VALUES ($1,$2,$3,$4,$5,TRUE,NOW(),NOW())
		ON CONFLICT (device_token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			module = EXCLUDED.module,
			app_version = EXCLUDED.app_version,
			is_active = TRUE,
			last_seen_at = NOW()
		RETURNING id`,
		d.UserID, d.DeviceToken, d.Platform, d.Module, d.AppVersion,
	).Scan(&d.ID)
	if err != nil {
		return errors.NewQueryExecutionFailedError("device register", err)
	}
	return nil
}
