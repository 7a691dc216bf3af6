package security

import "golang.org/x/crypto/bcrypt"

// NewTestHasher returns a Hasher at bcrypt.MinCost so tests stay fast.
// For unit tests only. Callers must not use in production.
func NewTestHasher() *Hasher {
	return NewHasher(bcrypt.MinCost)
}
