package auth

import "golang.org/x/crypto/bcrypt"

// bcryptCost matches the work factor the rest of the fleet uses for
// user credentials.
const bcryptCost = 10

// HashPassword produces a salted one-way digest of plaintext.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether plaintext matches digest. Malformed
// digests simply fail the check; this never panics or returns an error.
func VerifyPassword(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
