package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jjudge-oj/accounts/internal/auth"
	"github.com/jjudge-oj/accounts/internal/logging"
	"github.com/jjudge-oj/accounts/internal/store"
	"github.com/jjudge-oj/accounts/types"
)

// TokenResolver maps a bearer token to the id of its user.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (int64, error)
}

// UserLoader loads users by id.
type UserLoader interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
}

// RequireAuth enforces bearer authentication and injects the caller into
// the request context.
func RequireAuth(tokens TokenResolver, users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeUnauthorized(w, "authentication credentials were not provided")
				return
			}

			userID, err := tokens.Resolve(r.Context(), tokenString)
			if err != nil {
				if !errors.Is(err, auth.ErrInvalidToken) {
					logging.FromContext(r.Context()).Error("resolve token", "err", err)
					writeError(w, http.StatusInternalServerError, "failed to authenticate")
					return
				}
				writeUnauthorized(w, "invalid token")
				return
			}

			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeUnauthorized(w, "user inactive or deleted")
					return
				}
				logging.FromContext(r.Context()).Error("load user", "user_id", userID, "err", err)
				writeError(w, http.StatusInternalServerError, "failed to authenticate")
				return
			}
			if !user.IsActive {
				writeUnauthorized(w, "user inactive or deleted")
				return
			}

			ctx := logging.WithContext(r.Context(), logging.FromContext(r.Context()).With("user_id", user.ID))
			next.ServeHTTP(w, r.WithContext(withUser(ctx, user)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	writeError(w, http.StatusUnauthorized, message)
}

// bearerToken extracts the credential from "Bearer <token>" or
// "Token <token>" authorization headers.
func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !(strings.EqualFold(parts[0], "Bearer") || strings.EqualFold(parts[0], "Token")) {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
