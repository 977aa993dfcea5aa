package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnknownHashFormat is returned when no configured hasher recognizes a digest.
var ErrUnknownHashFormat = errors.New("unknown password hash format")

// PasswordHasher hashes passwords and verifies them against stored digests.
type PasswordHasher interface {
	Name() string
	Hash(password string) (string, error)
	Verify(password, digest string) (bool, error)
	// Identifies reports whether digest was produced by this hasher.
	Identifies(digest string) bool
}

// bcryptMaxInput is the number of bytes bcrypt consumes.
const bcryptMaxInput = 72

// BcryptHasher hashes with bcrypt. Passwords longer than bcrypt's input
// limit are pre-hashed with SHA-256 so every byte counts.
type BcryptHasher struct {
	Cost int
}

func bcryptInput(password string) []byte {
	if len(password) <= bcryptMaxInput {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

func (h BcryptHasher) Name() string { return "bcrypt" }

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h BcryptHasher) Verify(password, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), bcryptInput(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}

func (h BcryptHasher) Identifies(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

const (
	argon2Prefix      = "$argon2id$"
	argon2SaltLength  = 16
	argon2KeyLength   = 32
	argon2Iterations  = 3
	argon2Memory      = 64 * 1024
	argon2Parallelism = 2
)

// Argon2idHasher produces PHC-format argon2id digests:
// $argon2id$v=19$m=<memory>,t=<iterations>,p=<parallelism>$<salt>$<hash>
type Argon2idHasher struct{}

func (Argon2idHasher) Name() string { return "argon2id" }

func (Argon2idHasher) Hash(password string) (string, error) {
	salt := make([]byte, argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argon2Iterations, argon2Memory, argon2Parallelism, argon2KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Iterations,
		argon2Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (Argon2idHasher) Verify(password, digest string) (bool, error) {
	// ["", "argon2id", "v=19", "m=X,t=Y,p=Z", "salt", "hash"]
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("invalid argon2id hash: malformed")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errors.New("invalid argon2id hash: unsupported version")
	}

	var (
		mem, iters uint32
		par        uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return false, fmt.Errorf("invalid argon2id hash: parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("invalid argon2id hash: salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("invalid argon2id hash: key: %w", err)
	}

	computed := argon2.IDKey([]byte(password), salt, iters, mem, par, uint32(len(expected))) // #nosec G115
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func (Argon2idHasher) Identifies(digest string) bool {
	return strings.HasPrefix(digest, argon2Prefix)
}

// Passwords hashes new passwords with a preferred hasher and verifies
// digests produced by any of the accepted hashers.
type Passwords struct {
	preferred PasswordHasher
	accepted  []PasswordHasher
}

// NewPasswords builds a Passwords. The preferred hasher is always accepted.
func NewPasswords(preferred PasswordHasher, accepted ...PasswordHasher) *Passwords {
	return &Passwords{
		preferred: preferred,
		accepted:  append([]PasswordHasher{preferred}, accepted...),
	}
}

// NewPasswordsByName selects the preferred hasher by name and accepts
// digests from every built-in hasher.
func NewPasswordsByName(name string, bcryptCost int) (*Passwords, error) {
	bcryptHasher := BcryptHasher{Cost: bcryptCost}
	switch name {
	case "bcrypt", "":
		return NewPasswords(bcryptHasher, Argon2idHasher{}), nil
	case "argon2id":
		return NewPasswords(Argon2idHasher{}, bcryptHasher), nil
	default:
		return nil, fmt.Errorf("unknown password hasher %q", name)
	}
}

// Hash hashes password with the preferred hasher.
func (p *Passwords) Hash(password string) (string, error) {
	return p.preferred.Hash(password)
}

// Verify checks password against digest using whichever accepted hasher
// produced it.
func (p *Passwords) Verify(password, digest string) (bool, error) {
	for _, h := range p.accepted {
		if h.Identifies(digest) {
			return h.Verify(password, digest)
		}
	}
	return false, ErrUnknownHashFormat
}

// NeedsRehash reports whether digest was produced by a hasher other than
// the preferred one.
func (p *Passwords) NeedsRehash(digest string) bool {
	return !p.preferred.Identifies(digest)
}
