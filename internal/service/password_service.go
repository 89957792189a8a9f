package service

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordService hashes and verifies credentials using bcrypt.
type PasswordService struct {
	cost int
}

// NewPasswordService builds a hasher with the given bcrypt cost. Costs outside
// the range bcrypt accepts fall back to the library default.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordService{cost: cost}
}

// Hash returns the bcrypt hash of the plaintext. Two calls on the same input
// produce different hashes; both verify.
func (s *PasswordService) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether the plaintext matches the stored hash. Any failure,
// including a malformed hash, yields false so the caller only ever sees a
// yes/no authentication decision.
func (s *PasswordService) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
