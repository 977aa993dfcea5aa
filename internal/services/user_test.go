package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jjudge-oj/accounts/config"
	"github.com/jjudge-oj/accounts/internal/auth"
	"github.com/jjudge-oj/accounts/internal/db"
	"github.com/jjudge-oj/accounts/internal/store"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []AccountEvent
	fail   bool
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if p.fail {
		return "", errors.New("broker down")
	}
	var event AccountEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", err
	}
	if attrs["type"] != event.Type || channel == "" {
		return "", errors.New("bad envelope")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return event.ID, nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	service   *UserService
	users     *store.UserRepository
	passwords *auth.Passwords
	events    *recordingPublisher
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	conn, err := db.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.MigrateUp(conn, config.DriverSQLite))

	users := store.NewUserRepository(conn, store.SQLite)
	tokens := store.NewTokenRepository(conn, store.SQLite)
	passwords := auth.NewPasswords(auth.BcryptHasher{Cost: bcrypt.MinCost}, auth.Argon2idHasher{})
	events := &recordingPublisher{}

	service := NewUserService(users, passwords,
		WithTokenIssuer(auth.NewOpaqueIssuer(tokens, 0)),
		WithEventPublisher(events, "account-events"),
	)
	return fixture{service: service, users: users, passwords: passwords, events: events}
}

func requireFieldError(t *testing.T, err error, field string) {
	t.Helper()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Fields, field)
}

func TestCreateUserWithEmail(t *testing.T) {
	f := newFixture(t)

	user, err := f.service.CreateUser(context.Background(), "testuser@gmail.com", "testpass123", UserFields{})
	require.NoError(t, err)

	require.Equal(t, "testuser@gmail.com", user.Email)
	require.NotEqual(t, "testpass123", user.PasswordHash)
	ok, err := f.passwords.Verify("testpass123", user.PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, user.IsActive)
	require.False(t, user.IsStaff)
	require.False(t, user.IsSuperuser)
	require.Equal(t, []string{EventUserCreated}, f.events.types())
}

func TestNewUserNormalizedEmail(t *testing.T) {
	f := newFixture(t)

	user, err := f.service.CreateUser(context.Background(), "testuser@GMAIL.COM", "testpass123", UserFields{})
	require.NoError(t, err)
	require.Equal(t, "testuser@gmail.com", user.Email)
}

func TestNewUserInvalidEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, email := range []string{"", "   "} {
		_, err := f.service.CreateUser(ctx, email, "testpass123", UserFields{})
		requireFieldError(t, err, "email")
	}

	count, err := f.users.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Empty(t, f.events.types())
}

func TestCreateNewSuperuser(t *testing.T) {
	f := newFixture(t)

	user, err := f.service.CreateSuperuser(context.Background(), "testsuperuser@gmail.com", "testsuperpass123")
	require.NoError(t, err)
	require.True(t, user.IsSuperuser)
	require.True(t, user.IsStaff)

	_, err = f.service.CreateSuperuser(context.Background(), "", "testsuperpass123")
	requireFieldError(t, err, "email")
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateUser(ctx, "testuser@gmail.com", "testpass123", UserFields{})
	require.NoError(t, err)

	_, err = f.service.CreateUser(ctx, "testuser@GMAIL.com", "testpass123", UserFields{})
	requireFieldError(t, err, "email")
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name      string
		in        RegisterInput
		wantField string
	}{
		{"valid", RegisterInput{Email: "testuser@gmail.com", Password: "testpass123", FirstName: "Test", LastName: "User"}, ""},
		{"five char password", RegisterInput{Email: "five@gmail.com", Password: "abcde"}, ""},
		{"short password", RegisterInput{Email: "testuser@gmail.com", Password: "test"}, "password"},
		{"missing password", RegisterInput{Email: "testuser@gmail.com"}, "password"},
		{"missing email", RegisterInput{Password: "testpass123"}, "email"},
		{"malformed email", RegisterInput{Email: "not-an-email", Password: "testpass123"}, "email"},
		{"display name email", RegisterInput{Email: "Test <t@gmail.com>", Password: "testpass123"}, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			user, err := f.service.Register(ctx, tt.in)
			count, countErr := f.users.Count(ctx)
			require.NoError(t, countErr)

			if tt.wantField != "" {
				requireFieldError(t, err, tt.wantField)
				require.Zero(t, count)
				return
			}
			require.NoError(t, err)
			require.Equal(t, 1, count)
			require.Equal(t, tt.in.FirstName, user.FirstName)
			require.Equal(t, tt.in.LastName, user.LastName)
		})
	}
}

func TestRegisterExistingUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateUser(ctx, "testuser@gmail.com", "testpass123", UserFields{})
	require.NoError(t, err)

	_, err = f.service.Register(ctx, RegisterInput{Email: "testuser@gmail.com", Password: "testpass123"})
	requireFieldError(t, err, "email")

	count, err := f.users.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestObtainToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.CreateUser(ctx, "testuser@gmail.com", "testpass123", UserFields{})
	require.NoError(t, err)

	token, err := f.service.ObtainToken(ctx, "testuser@GMAIL.COM", "testpass123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	reloaded, err := f.users.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastLogin)
	require.Equal(t, []string{EventUserCreated, EventUserTokenIssued}, f.events.types())
}

func TestObtainTokenFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.service.CreateUser(ctx, "testuser@gmail.com", "testpass123", UserFields{})
	require.NoError(t, err)
	inactive, err := f.service.CreateUser(ctx, "inactive@gmail.com", "testpass123", UserFields{})
	require.NoError(t, err)
	inactive.IsActive = false
	_, err = f.users.Update(ctx, inactive)
	require.NoError(t, err)

	_, err = f.service.ObtainToken(ctx, user.Email, "wrongpass")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.service.ObtainToken(ctx, "nobody@gmail.com", "testpass123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.service.ObtainToken(ctx, "inactive@gmail.com", "testpass123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.service.ObtainToken(ctx, user.Email, "")
	requireFieldError(t, err, "password")

	_, err = f.service.ObtainToken(ctx, "", "testpass123")
	requireFieldError(t, err, "email")
}

func TestAuthenticateRehashesLegacyDigests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.service.CreateUser(ctx, "legacy@gmail.com", "testpass123", UserFields{})
	require.NoError(t, err)

	legacy, err := auth.Argon2idHasher{}.Hash("testpass123")
	require.NoError(t, err)
	user.PasswordHash = legacy
	_, err = f.users.Update(ctx, user)
	require.NoError(t, err)

	_, err = f.service.Authenticate(ctx, "legacy@gmail.com", "testpass123")
	require.NoError(t, err)

	reloaded, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, f.passwords.NeedsRehash(reloaded.PasswordHash))
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.service.CreateUser(ctx, "testuser@gmail.com", "testpass123", UserFields{FirstName: "Test", LastName: "User"})
	require.NoError(t, err)

	email := "testusernew@GMAIL.COM"
	password := "testpass123new"
	first := "New"
	updated, err := f.service.UpdateProfile(ctx, user.ID, ProfileUpdate{
		Email:     &email,
		Password:  &password,
		FirstName: &first,
	}, true)
	require.NoError(t, err)
	require.Equal(t, "testusernew@gmail.com", updated.Email)
	require.Equal(t, "New", updated.FirstName)
	require.Equal(t, "User", updated.LastName, "absent fields are untouched")

	_, err = f.service.Authenticate(ctx, "testusernew@gmail.com", "testpass123new")
	require.NoError(t, err)
	_, err = f.service.Authenticate(ctx, "testusernew@gmail.com", "testpass123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.Equal(t, []string{EventUserCreated, EventUserUpdated}, f.events.types())
}

func TestUpdateProfileValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.service.CreateUser(ctx, "testuser@gmail.com", "testpass123", UserFields{})
	require.NoError(t, err)
	_, err = f.service.CreateUser(ctx, "taken@gmail.com", "testpass123", UserFields{})
	require.NoError(t, err)

	short := "abc"
	_, err = f.service.UpdateProfile(ctx, user.ID, ProfileUpdate{Password: &short}, false)
	requireFieldError(t, err, "password")

	taken := "Taken@gmail.com"
	_, err = f.service.UpdateProfile(ctx, user.ID, ProfileUpdate{Email: &taken}, false)
	requireFieldError(t, err, "email")

	same := "testuser@gmail.com"
	_, err = f.service.UpdateProfile(ctx, user.ID, ProfileUpdate{Email: &same}, false)
	require.NoError(t, err, "keeping your own email is not a conflict")

	first := "Only"
	_, err = f.service.UpdateProfile(ctx, user.ID, ProfileUpdate{FirstName: &first}, true)
	requireFieldError(t, err, "email")
	requireFieldError(t, err, "password")

	_, err = f.service.UpdateProfile(ctx, 9999, ProfileUpdate{FirstName: &first}, false)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.events.fail = true

	_, err := f.service.CreateUser(context.Background(), "testuser@gmail.com", "testpass123", UserFields{})
	require.NoError(t, err)
}
