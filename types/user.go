package types

import "time"

// User represents an account in the system.
// Identity is the email address; the password is only ever held as a hash.
type User struct {
	// ID is the unique identifier of the user.
	ID int64 `json:"id" db:"id"`

	// Email is the user's normalized email address. It is unique
	// case-insensitively.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	FirstName string `json:"firstname" db:"firstname"`
	LastName  string `json:"lastname" db:"lastname"`

	// IsStaff marks accounts allowed into administrative tooling.
	IsStaff bool `json:"is_staff" db:"is_staff"`

	// IsSuperuser marks accounts holding every permission.
	IsSuperuser bool `json:"is_superuser" db:"is_superuser"`

	// IsActive is false for disabled accounts. Inactive users cannot log in.
	IsActive bool `json:"is_active" db:"is_active"`

	// LastLogin is the time the user last obtained a token.
	LastLogin *time.Time `json:"last_login,omitempty" db:"last_login"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Profile is the public, self-service view of a user.
type Profile struct {
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// Profile projects the user onto its public fields.
func (u User) Profile() Profile {
	return Profile{
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}
