package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores everything past 72 bytes, so longer secrets are refused
// instead of being silently truncated.
const maxPasswordBytes = 72

var (
	ErrPasswordTooLong  = errors.New("password longer than 72 bytes")
	ErrPasswordMismatch = errors.New("password does not match")
)

// Cost is the bcrypt work factor for new hashes.
var Cost = bcrypt.DefaultCost

func HashPassword(plain string) (string, error) {
	if len(plain) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword returns ErrPasswordMismatch for a wrong password and the
// underlying bcrypt error when the stored hash itself is unusable.
func CheckPassword(hash, plain string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
