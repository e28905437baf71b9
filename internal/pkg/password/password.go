package password

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinLength = 8
	// bcrypt ignores everything past 72 bytes.
	MaxLength = 72
)

var ErrPolicy = errors.New("password must be between 8 and 72 characters")

func Hash(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func Compare(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

func CheckPolicy(plain string) error {
	if utf8.RuneCountInString(plain) < MinLength || len(plain) > MaxLength {
		return ErrPolicy
	}
	return nil
}
