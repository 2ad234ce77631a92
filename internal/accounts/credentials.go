package accounts

import (
	"fmt"

	"github.com/sethvargo/go-password/password"
	"golang.org/x/crypto/bcrypt"
)

const (
	placeholderLength  = 64
	placeholderDigits  = 16
	placeholderSymbols = 0
)

// CredentialGenerator produces the stored credential of directory users.
type CredentialGenerator interface {
	Placeholder() (string, error)
}

// RandomCredentials hashes a freshly generated random secret and throws the
// secret away, so the stored value cannot be used to log in.
type RandomCredentials struct {
	Cost int
}

// Placeholder returns a bcrypt hash of a new random secret.
func (g RandomCredentials) Placeholder() (string, error) {
	secret, err := password.Generate(placeholderLength, placeholderDigits, placeholderSymbols, false, true)
	if err != nil {
		return "", fmt.Errorf("failed to generate credential placeholder: %w", err)
	}

	cost := g.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash credential placeholder: %w", err)
	}

	return string(hash), nil
}
