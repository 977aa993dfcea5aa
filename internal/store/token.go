package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jjudge-oj/accounts/types"
)

// TokenRepository persists opaque auth tokens by fingerprint.
type TokenRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewTokenRepository(db *sql.DB, dialect Dialect) *TokenRepository {
	return &TokenRepository{db: db, dialect: dialect}
}

// Replace stores token as the only token of its user, dropping any previous one.
func (r *TokenRepository) Replace(ctx context.Context, token types.AuthToken) (err error) {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM auth_tokens WHERE user_id = ?`), token.UserID); err != nil {
		return err
	}

	var expiresAt sql.NullTime
	if token.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: token.ExpiresAt.UTC(), Valid: true}
	}

	query := r.dialect.Rebind(`
		INSERT INTO auth_tokens (digest, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)`)
	if _, err = tx.ExecContext(ctx, query, token.Digest, token.UserID, token.CreatedAt.UTC(), expiresAt); err != nil {
		if isUniqueViolation(err) {
			err = ErrConflict
		}
		return err
	}

	return tx.Commit()
}

func (r *TokenRepository) GetByDigest(ctx context.Context, digest string) (types.AuthToken, error) {
	query := r.dialect.Rebind(`
		SELECT digest, user_id, created_at, expires_at
		FROM auth_tokens
		WHERE digest = ?`)

	var (
		token     types.AuthToken
		expiresAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, digest).Scan(
		&token.Digest,
		&token.UserID,
		&token.CreatedAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.AuthToken{}, ErrNotFound
		}
		return types.AuthToken{}, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		token.ExpiresAt = &t
	}
	return token, nil
}

func (r *TokenRepository) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM auth_tokens WHERE user_id = ?`), userID)
	return err
}
