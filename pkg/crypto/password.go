package crypto

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes plaintext with bcrypt at the default cost.
func HashPassword(plain string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
}

// ComparePassword reports a non-nil error when plaintext does not match the
// stored hash.
func ComparePassword(hash []byte, plain string) error {
	return bcrypt.CompareHashAndPassword(hash, []byte(plain))
}
