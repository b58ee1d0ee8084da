// internal/utils/crypto.go
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const QRTokenPrefix = "VCH-"

func GenerateRandomString(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)

	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}

	return string(b), nil
}

func HashString(input string) string {
	hasher := sha256.New()
	hasher.Write([]byte(input))
	return hex.EncodeToString(hasher.Sum(nil))
}

// GenerateQRToken returns VCH-<base36 millis>-<12 chars>. The tail is the
// base32 rendering of sha256(timestamp || 16 random bytes), so it is
// uppercase alphanumeric and carries no sequential component.
func GenerateQRToken(now time.Time) (string, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}

	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))

	hasher := sha256.New()
	hasher.Write([]byte(stamp))
	hasher.Write(random)
	digest := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(hasher.Sum(nil))

	return QRTokenPrefix + stamp + "-" + digest[:12], nil
}

// GenerateSessionToken returns an opaque vendor session token and its hash.
// Only the hash is persisted.
func GenerateSessionToken() (token string, hash string, err error) {
	randomPart, err := GenerateRandomString(48)
	if err != nil {
		return "", "", err
	}
	token = "vs_" + randomPart
	return token, HashString(token), nil
}
