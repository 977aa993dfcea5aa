package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jjudge-oj/accounts/internal/logging"
	"github.com/jjudge-oj/accounts/internal/store"
	"github.com/jjudge-oj/accounts/types"
)

const (
	defaultMinPasswordLength = 5
	defaultEventsChannel     = "account-events"
)

// ErrInvalidCredentials is returned when an email/password pair does not
// identify an active user.
var ErrInvalidCredentials = errors.New("unable to log in with provided credentials")

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) (bool, error)
	NeedsRehash(digest string) bool
}

// TokenIssuer issues bearer tokens for authenticated users.
type TokenIssuer interface {
	Issue(ctx context.Context, user types.User) (string, error)
}

// UserFields carries the optional profile fields of a new user.
type UserFields struct {
	FirstName string
	LastName  string
}

// RegisterInput is the create-user payload.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// ProfileUpdate carries the fields a user may change on their own profile.
// Nil fields are left untouched.
type ProfileUpdate struct {
	Email     *string
	Password  *string
	FirstName *string
	LastName  *string
}

// UserService encapsulates user use-cases: creating users and superusers,
// checking credentials, issuing tokens and self-service profile updates.
type UserService struct {
	repo              UserRepository
	passwords         PasswordHasher
	tokens            TokenIssuer
	events            EventPublisher
	eventsChannel     string
	minPasswordLength int
	now               func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

// UserServiceOption configures optional UserService behaviour.
type UserServiceOption func(*UserService)

// WithTokenIssuer enables ObtainToken.
func WithTokenIssuer(tokens TokenIssuer) UserServiceOption {
	return func(s *UserService) { s.tokens = tokens }
}

// WithEventPublisher publishes account events on channel.
func WithEventPublisher(events EventPublisher, channel string) UserServiceOption {
	return func(s *UserService) {
		s.events = events
		if channel != "" {
			s.eventsChannel = channel
		}
	}
}

// WithMinPasswordLength sets the shortest accepted password.
func WithMinPasswordLength(n int) UserServiceOption {
	return func(s *UserService) {
		if n > 0 {
			s.minPasswordLength = n
		}
	}
}

func NewUserService(repo UserRepository, passwords PasswordHasher, opts ...UserServiceOption) *UserService {
	s := &UserService{
		repo:              repo,
		passwords:         passwords,
		eventsChannel:     defaultEventsChannel,
		minPasswordLength: defaultMinPasswordLength,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *UserService) GetByID(ctx context.Context, id int64) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

// CreateUser persists a regular user with a hashed password.
func (s *UserService) CreateUser(ctx context.Context, email, password string, fields UserFields) (types.User, error) {
	return s.createUser(ctx, email, password, fields, false)
}

// CreateSuperuser persists a user with staff and superuser flags set.
func (s *UserService) CreateSuperuser(ctx context.Context, email, password string) (types.User, error) {
	return s.createUser(ctx, email, password, UserFields{}, true)
}

func (s *UserService) createUser(ctx context.Context, email, password string, fields UserFields, superuser bool) (types.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return types.User{}, fieldError("email", msgEmailMissing)
	}

	hashed, err := s.passwords.Hash(password)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Email:        email,
		PasswordHash: hashed,
		FirstName:    fields.FirstName,
		LastName:     fields.LastName,
		IsStaff:      superuser,
		IsSuperuser:  superuser,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, fieldError("email", msgEmailTaken)
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	s.publish(ctx, EventUserCreated, user)
	return user, nil
}

// Register validates a create-user payload and creates the user.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	in.Email = NormalizeEmail(in.Email)
	if err := ValidateRegistration(in, s.minPasswordLength); err != nil {
		return types.User{}, err
	}

	if _, err := s.repo.GetByEmail(ctx, in.Email); err == nil {
		return types.User{}, fieldError("email", msgEmailTaken)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("check user: %w", err)
	}

	return s.CreateUser(ctx, in.Email, in.Password, UserFields{
		FirstName: in.FirstName,
		LastName:  in.LastName,
	})
}

// Authenticate returns the active user identified by email and password.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	if err := ValidateCredentials(email, password); err != nil {
		return types.User{}, err
	}

	user, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Spend the same hashing time as a real check so unknown
			// emails cannot be told apart by latency.
			_, _ = s.passwords.Verify(password, s.dummyHash())
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, fmt.Errorf("load user: %w", err)
	}

	ok, err := s.passwords.Verify(password, user.PasswordHash)
	if err != nil {
		logging.FromContext(ctx).Warn("password verification failed", "user_id", user.ID, "err", err)
		return types.User{}, ErrInvalidCredentials
	}
	if !ok || !user.IsActive {
		return types.User{}, ErrInvalidCredentials
	}

	if s.passwords.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}
	return user, nil
}

func (s *UserService) rehash(ctx context.Context, user types.User, password string) {
	hashed, err := s.passwords.Hash(password)
	if err == nil {
		user.PasswordHash = hashed
		_, err = s.repo.Update(ctx, user)
	}
	if err != nil {
		logging.FromContext(ctx).Warn("password rehash failed", "user_id", user.ID, "err", err)
	}
}

func (s *UserService) dummyHash() string {
	s.dummyOnce.Do(func() {
		s.dummyDigest, _ = s.passwords.Hash("accounts-dummy-password")
	})
	return s.dummyDigest
}

// ObtainToken authenticates the credentials and issues a bearer token.
func (s *UserService) ObtainToken(ctx context.Context, email, password string) (string, error) {
	if s.tokens == nil {
		return "", errors.New("token issuer not configured")
	}

	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return "", err
	}

	token, err := s.tokens.Issue(ctx, user)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	if err := s.repo.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		logging.FromContext(ctx).Warn("update last login failed", "user_id", user.ID, "err", err)
	}
	s.publish(ctx, EventUserTokenIssued, user)
	return token, nil
}

// UpdateProfile applies a self-service update to the user with userID.
// When partial is false the update must carry email and password.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate, partial bool) (types.User, error) {
	if err := ValidateProfileUpdate(upd, s.minPasswordLength, !partial); err != nil {
		return types.User{}, err
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, err
	}

	if upd.Email != nil {
		email := NormalizeEmail(*upd.Email)
		existing, err := s.repo.GetByEmail(ctx, email)
		switch {
		case err == nil && existing.ID != user.ID:
			return types.User{}, fieldError("email", msgEmailTaken)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return types.User{}, fmt.Errorf("check email: %w", err)
		}
		user.Email = email
	}
	if upd.FirstName != nil {
		user.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		user.LastName = *upd.LastName
	}
	if upd.Password != nil {
		hashed, err := s.passwords.Hash(*upd.Password)
		if err != nil {
			return types.User{}, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hashed
	}

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, fieldError("email", msgEmailTaken)
		}
		return types.User{}, fmt.Errorf("update user: %w", err)
	}

	s.publish(ctx, EventUserUpdated, updated)
	return updated, nil
}
