package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"otp-identity/backend/internal/user/domain"
)

const userColumns = `id, email, phone, name, password_hash, status, oauth_provider, oauth_id,
	avatar_color, profile_image, created_at, updated_at, last_login_at`

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `WHERE email = $1`, email)
}

// GetByPhone returns the user with the given phone, or nil if not found.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.getOne(ctx, `WHERE phone = $1`, phone)
}

// GetByOAuth returns the user linked to the provider pair, or nil if not found.
func (r *PostgresRepository) GetByOAuth(ctx context.Context, provider, subject string) (*domain.User, error) {
	return r.getOne(ctx, `WHERE oauth_provider = $1 AND oauth_id = $2`, provider, subject)
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, args ...any) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users `+where, args...)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
// A unique violation is reported as ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, u.Email, nullString(u.Phone), nullString(u.Name), nullString(u.PasswordHash), string(u.Status),
		nullString(u.OAuthProvider), nullString(u.OAuthID), nullString(u.AvatarColor), nullString(u.ProfileImage),
		u.CreatedAt, u.UpdatedAt, u.LastLoginAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w (%s)", ErrDuplicate, pgErr.ConstraintName)
		}
		return err
	}
	return nil
}

// LinkOAuth sets the provider pair only when the row has none or already has the same pair.
func (r *PostgresRepository) LinkOAuth(ctx context.Context, userID, provider, subject string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE users
		SET oauth_provider = $2, oauth_id = $3, updated_at = $4
		WHERE id = $1 AND (oauth_provider IS NULL OR (oauth_provider = $2 AND oauth_id = $3))`,
		userID, provider, subject, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetProfileImage replaces the profile image URL.
func (r *PostgresRepository) SetProfileImage(ctx context.Context, userID, url string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET profile_image = $2, updated_at = $3 WHERE id = $1`,
		userID, nullString(url), time.Now().UTC())
	return err
}

// TouchLastLogin records a successful sign-in.
func (r *PostgresRepository) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, userID, at)
	return err
}

// SetPassword stores a new password hash.
func (r *PostgresRepository) SetPassword(ctx context.Context, userID, passwordHash string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, userID, passwordHash, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateProfile applies the non-nil fields of p in one statement.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, userID string, p domain.ProfileUpdate) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET
		name = COALESCE($2, name),
		avatar_color = COALESCE($3, avatar_color),
		profile_image = COALESCE($4, profile_image),
		updated_at = $5
		WHERE id = $1`,
		userID, p.Name, p.AvatarColor, p.ProfileImage, time.Now().UTC())
	return err
}

// Delete removes the user row.
func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                                          domain.User
		status                                     string
		phone, name, passwordHash                  sql.NullString
		oauthProvider, oauthID, avatar, profileImg sql.NullString
		lastLogin                                  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &phone, &name, &passwordHash, &status, &oauthProvider, &oauthID,
		&avatar, &profileImg, &u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	u.Phone = phone.String
	u.Name = name.String
	u.PasswordHash = passwordHash.String
	u.Status = domain.UserStatus(status)
	u.OAuthProvider = oauthProvider.String
	u.OAuthID = oauthID.String
	u.AvatarColor = avatar.String
	u.ProfileImage = profileImg.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
