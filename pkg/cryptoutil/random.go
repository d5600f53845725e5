package cryptoutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// RandomHex returns n cryptographically secure random bytes in hex.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
