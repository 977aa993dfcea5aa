package types

import "time"

// AuthToken associates an opaque bearer token with exactly one user.
// Only the token's fingerprint is persisted.
type AuthToken struct {
	Digest    string     `db:"digest"`
	UserID    int64      `db:"user_id"`
	CreatedAt time.Time  `db:"created_at"`
	ExpiresAt *time.Time `db:"expires_at"`
}

// Expired reports whether the token is past its expiry at now.
// Tokens without an expiry never expire.
func (t AuthToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}
