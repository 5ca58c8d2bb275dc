package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"otp-identity/backend/internal/pending/domain"
)

const pendingColumns = `id, identity_key, key_kind, name, password_hash, avatar_color, profile_image,
	code_hash, purpose, attempts, challenge_created_at, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a pending identity repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts p or, when a row for the key already exists, overwrites it in place
// (new id, staged fields and challenge). A single statement keeps concurrent requests for
// one key from ever producing two live rows: the later write wins.
func (r *PostgresRepository) Upsert(ctx context.Context, p *domain.PendingIdentity) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO pending_identities (`+pendingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (identity_key) DO UPDATE SET
			id = EXCLUDED.id,
			key_kind = EXCLUDED.key_kind,
			name = EXCLUDED.name,
			password_hash = EXCLUDED.password_hash,
			avatar_color = EXCLUDED.avatar_color,
			profile_image = EXCLUDED.profile_image,
			code_hash = EXCLUDED.code_hash,
			purpose = EXCLUDED.purpose,
			attempts = EXCLUDED.attempts,
			challenge_created_at = EXCLUDED.challenge_created_at,
			created_at = EXCLUDED.created_at`,
		p.ID, p.Key, string(p.KeyKind), p.Name, nullString(p.PasswordHash), nullString(p.AvatarColor),
		nullString(p.ProfileImage), p.Challenge.CodeHash, string(p.Challenge.Purpose), p.Challenge.Attempts,
		p.Challenge.CreatedAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pending upsert: %w", err)
	}
	return nil
}

// GetByKey returns the pending identity for key, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByKey(ctx context.Context, key string) (*domain.PendingIdentity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_identities WHERE identity_key = $1`, key)
	p, err := scanPending(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// RefreshChallenge stores a new code hash and resets attempts and the challenge clock.
func (r *PostgresRepository) RefreshChallenge(ctx context.Context, id, codeHash string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE pending_identities
		SET code_hash = $2, attempts = 0, challenge_created_at = $3
		WHERE id = $1`, id, codeHash, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IncrementAttempts counts one failed attempt. The WHERE clause serialises concurrent submissions
// on the row so no more than max failures are ever recorded.
func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id string, max int) (int, bool, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `UPDATE pending_identities
		SET attempts = attempts + 1
		WHERE id = $1 AND attempts < $2
		RETURNING attempts`, id, max).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return attempts, true, nil
}

// ConsumeIf locks the row with SELECT ... FOR UPDATE, runs check on the locked challenge and
// deletes the row in the same transaction. Concurrent attempt increments and resends wait on the lock.
func (r *PostgresRepository) ConsumeIf(ctx context.Context, id string, check func(domain.Challenge) error) (found bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var c domain.Challenge
	var purpose string
	err = tx.QueryRowContext(ctx, `SELECT code_hash, purpose, attempts, challenge_created_at
		FROM pending_identities WHERE id = $1 FOR UPDATE`, id).Scan(&c.CodeHash, &purpose, &c.Attempts, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return false, nil
		}
		return false, err
	}
	c.Purpose = domain.Purpose(purpose)
	if err = check(c); err != nil {
		return true, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM pending_identities WHERE id = $1`, id); err != nil {
		return true, err
	}
	if err = tx.Commit(); err != nil {
		return true, err
	}
	return true, nil
}

// DeleteExpired removes rows whose challenge clock started before the cutoff.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_identities WHERE challenge_created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (*domain.PendingIdentity, error) {
	var (
		p                                       domain.PendingIdentity
		kind, purpose                           string
		passwordHash, avatarColor, profileImage sql.NullString
	)
	err := row.Scan(&p.ID, &p.Key, &kind, &p.Name, &passwordHash, &avatarColor, &profileImage,
		&p.Challenge.CodeHash, &purpose, &p.Challenge.Attempts, &p.Challenge.CreatedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.KeyKind = domain.KeyKind(kind)
	p.Challenge.Purpose = domain.Purpose(purpose)
	p.PasswordHash = passwordHash.String
	p.AvatarColor = avatarColor.String
	p.ProfileImage = profileImage.String
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
