package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jjudge-oj/accounts/internal/store"
	"github.com/jjudge-oj/accounts/types"
)

const (
	opaqueTokenBytes = 32
	defaultJWTTTL    = 24 * time.Hour
)

// ErrInvalidToken is returned when a bearer token does not resolve to a user.
var ErrInvalidToken = errors.New("invalid token")

// TokenIssuer issues bearer tokens for users and resolves them back.
type TokenIssuer interface {
	Issue(ctx context.Context, user types.User) (string, error)
	// Resolve returns the id of the user the token was issued to.
	Resolve(ctx context.Context, token string) (int64, error)
}

// TokenStore persists opaque token fingerprints.
type TokenStore interface {
	Replace(ctx context.Context, token types.AuthToken) error
	GetByDigest(ctx context.Context, digest string) (types.AuthToken, error)
}

// OpaqueIssuer issues random tokens and keeps one fingerprint per user.
// A zero ttl means tokens never expire.
type OpaqueIssuer struct {
	store TokenStore
	ttl   time.Duration
	now   func() time.Time
}

func NewOpaqueIssuer(tokenStore TokenStore, ttl time.Duration) *OpaqueIssuer {
	return &OpaqueIssuer{store: tokenStore, ttl: ttl, now: time.Now}
}

func (o *OpaqueIssuer) Issue(ctx context.Context, user types.User) (string, error) {
	token, err := GenerateToken(opaqueTokenBytes)
	if err != nil {
		return "", err
	}

	now := o.now().UTC()
	record := types.AuthToken{
		Digest:    Fingerprint(token),
		UserID:    user.ID,
		CreatedAt: now,
	}
	if o.ttl > 0 {
		expires := now.Add(o.ttl)
		record.ExpiresAt = &expires
	}

	if err := o.store.Replace(ctx, record); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

func (o *OpaqueIssuer) Resolve(ctx context.Context, token string) (int64, error) {
	if strings.TrimSpace(token) == "" {
		return 0, ErrInvalidToken
	}

	record, err := o.store.GetByDigest(ctx, Fingerprint(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrInvalidToken
		}
		return 0, err
	}
	if record.Expired(o.now()) {
		return 0, ErrInvalidToken
	}
	return record.UserID, nil
}

// JWTIssuer issues stateless HS256 tokens whose subject is the user id.
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTIssuer(secret string, ttl time.Duration) *JWTIssuer {
	if ttl <= 0 {
		ttl = defaultJWTTTL
	}
	return &JWTIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (j *JWTIssuer) Issue(_ context.Context, user types.User) (string, error) {
	now := j.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

func (j *JWTIssuer) Resolve(_ context.Context, tokenString string) (int64, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(claims.Subject), 10, 64)
	if err != nil || userID < 1 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// GenerateToken returns size random bytes encoded as unpadded base64url.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint is the SHA-256 digest of token, used as its storage key.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
