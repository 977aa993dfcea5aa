package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jjudge-oj/accounts/internal/logging"
	"github.com/jjudge-oj/accounts/internal/services"
	"github.com/jjudge-oj/accounts/internal/store"
)

// UserHandler provides the account endpoints.
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler constructs a UserHandler with the provided dependencies.
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// UsersRouter registers account routes on the given router. Authentication
// is attached per route so that unsupported methods on /me answer 405
// before any credential check.
func UsersRouter(
	r chi.Router,
	userService *services.UserService,
	tokens TokenResolver,
	tokenLimiter func(http.Handler) http.Handler,
) {
	handler := NewUserHandler(userService)
	requireAuth := RequireAuth(tokens, userService)

	r.Post("/create", handler.Create)
	if tokenLimiter != nil {
		r.With(tokenLimiter).Post("/token", handler.Token)
	} else {
		r.Post("/token", handler.Token)
	}
	r.With(requireAuth).Get("/me", handler.Me)
	r.With(requireAuth).Patch("/me", handler.PartialUpdateMe)
	r.With(requireAuth).Put("/me", handler.UpdateMe)
}

// Create registers a new user and returns its public profile.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.userService.Register(r.Context(), services.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to create user")
		return
	}

	logging.FromContext(r.Context()).Info("user created", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user.Profile())
}

// Token exchanges credentials for a bearer token.
func (h *UserHandler) Token(w http.ResponseWriter, r *http.Request) {
	noCache(w)

	var req TokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	token, err := h.userService.ObtainToken(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:  "invalid credentials",
				Fields: map[string][]string{"non_field_errors": {"Unable to log in with provided credentials."}},
			})
			return
		}
		h.writeServiceError(w, r, err, "failed to create token")
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

// Me returns the authenticated caller's profile.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user.Profile())
}

// PartialUpdateMe updates the fields present in the body.
func (h *UserHandler) PartialUpdateMe(w http.ResponseWriter, r *http.Request) {
	h.updateMe(w, r, true)
}

// UpdateMe replaces the caller's profile; email and password are required.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	h.updateMe(w, r, false)
}

func (h *UserHandler) updateMe(w http.ResponseWriter, r *http.Request, partial bool) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, "unauthorized")
		return
	}

	var req UpdateProfileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.userService.UpdateProfile(r.Context(), user.ID, services.ProfileUpdate{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, partial)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeUnauthorized(w, "user inactive or deleted")
			return
		}
		h.writeServiceError(w, r, err, "failed to update user")
		return
	}

	writeJSON(w, http.StatusOK, updated.Profile())
}

func (h *UserHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: ve.Fields})
		return
	}
	logging.FromContext(r.Context()).Error(message, "err", err)
	writeError(w, http.StatusInternalServerError, message)
}

// MethodNotAllowed answers requests whose path exists but method does not.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method \""+r.Method+"\" not allowed")
}

// NotFound answers requests for unknown paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

type CreateUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

type TokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// UpdateProfileRequest uses pointers so absent fields can be told apart
// from empty ones.
type UpdateProfileRequest struct {
	Email     *string `json:"email"`
	Password  *string `json:"password"`
	FirstName *string `json:"firstname"`
	LastName  *string `json:"lastname"`
}
