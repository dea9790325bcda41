package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var ten = big.NewInt(10)

// NumericCode generates n cryptographically random ASCII digits. Leading
// zeros are kept, so the result is always exactly n characters.
func NumericCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", n)
	}
	b := make([]byte, n)
	for i := range b {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b[i] = byte('0' + d.Int64())
	}
	return string(b), nil
}
