package middleware

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const PasswordPolicy = "Password must be at least 10 characters and include uppercase, lowercase, number, and symbol."

const (
	minPasswordLength = 10
	passwordAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
)

// IsStrongPassword reports whether pw satisfies PasswordPolicy.
func IsStrongPassword(pw string) bool {
	if len(pw) < minPasswordLength {
		return false
	}

	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

// GeneratePassword draws random passwords of the given length until one
// satisfies PasswordPolicy.
func GeneratePassword(length int) (string, error) {
	if length < minPasswordLength {
		return "", fmt.Errorf("password length must be at least %d", minPasswordLength)
	}

	max := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, length)
	for {
		for i := range buf {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			buf[i] = passwordAlphabet[n.Int64()]
		}
		if pw := string(buf); IsStrongPassword(pw) {
			return pw, nil
		}
	}
}
