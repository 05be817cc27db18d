package confirm

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const base62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// SecretShape describes how a one-time secret is drawn: which alphabet and
// how many characters. Both observed schemes — short numeric codes typed by
// hand and long opaque tokens embedded in links — are instances of this.
type SecretShape struct {
	Alphabet string
	Length   int
}

// ShapeNumericCode is an 8-digit code, suitable for the short-TTL alias flows.
var ShapeNumericCode = SecretShape{Alphabet: "0123456789", Length: 8}

// ShapeOpaqueToken is a high-entropy base62 token for credential issuance.
var ShapeOpaqueToken = SecretShape{Alphabet: base62, Length: 43}

// Generate draws a fresh secret of this shape from crypto/rand. Each
// character is sampled without modulo bias.
func (s SecretShape) Generate() (string, error) {
	if s.Length <= 0 || len(s.Alphabet) < 2 {
		return "", fmt.Errorf("secret shape must have length > 0 and at least 2 alphabet characters")
	}
	n := big.NewInt(int64(len(s.Alphabet)))
	buf := make([]byte, s.Length)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("draw secret character: %w", err)
		}
		buf[i] = s.Alphabet[idx.Int64()]
	}
	return string(buf), nil
}

// Digest returns the hex-encoded SHA-256 of a secret. This is the only form
// in which a confirmation secret is ever persisted or looked up.
func Digest(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
