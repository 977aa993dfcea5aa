package services

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	msgRequired     = "This field is required."
	msgEmailInvalid = "Enter a valid email address."
	msgEmailTaken   = "A user with this email already exists."
	msgEmailMissing = "email required"
)

// ValidationError collects per-field validation messages.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], " ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records msg against field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) errOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func fieldError(field, msg string) *ValidationError {
	ve := &ValidationError{}
	ve.Add(field, msg)
	return ve
}

// NormalizeEmail trims surrounding whitespace and lower-cases the domain
// part. The local part is kept as typed.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1
}

func validatePassword(ve *ValidationError, password string, minLength int) {
	if password == "" {
		ve.Add("password", msgRequired)
		return
	}
	if utf8.RuneCountInString(password) < minLength {
		ve.Add("password", fmt.Sprintf("Ensure this field has at least %d characters.", minLength))
	}
}

func validateEmailField(ve *ValidationError, email string) {
	if email == "" {
		ve.Add("email", msgRequired)
		return
	}
	if !validEmail(email) {
		ve.Add("email", msgEmailInvalid)
	}
}

// ValidateRegistration checks a create-user payload. Email is expected to be
// normalized already.
func ValidateRegistration(in RegisterInput, minPasswordLength int) error {
	ve := &ValidationError{}
	validateEmailField(ve, in.Email)
	validatePassword(ve, in.Password, minPasswordLength)
	return ve.errOrNil()
}

// ValidateCredentials checks that both login fields are present.
func ValidateCredentials(email, password string) error {
	ve := &ValidationError{}
	if strings.TrimSpace(email) == "" {
		ve.Add("email", msgRequired)
	}
	if password == "" {
		ve.Add("password", msgRequired)
	}
	return ve.errOrNil()
}

// ValidateProfileUpdate checks a profile update. A full update must carry
// email and password; a partial one validates only the fields present.
func ValidateProfileUpdate(upd ProfileUpdate, minPasswordLength int, full bool) error {
	ve := &ValidationError{}

	switch {
	case upd.Email != nil:
		validateEmailField(ve, NormalizeEmail(*upd.Email))
	case full:
		ve.Add("email", msgRequired)
	}

	switch {
	case upd.Password != nil:
		validatePassword(ve, *upd.Password, minPasswordLength)
	case full:
		ve.Add("password", msgRequired)
	}

	return ve.errOrNil()
}
