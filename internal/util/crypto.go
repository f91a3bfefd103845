package util

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	tokenBytes = 32

	// QRChallengeLen is how much of a session challenge is embedded in a QR
	// code. Wallet callbacks echo this prefix back.
	QRChallengeLen = 32
)

func GenerateToken() (string, error) {
	bytes := make([]byte, tokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateChallenge returns the sha256 hex digest of a fresh random token.
func GenerateChallenge() (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	return HashToken(token), nil
}

// QRChallenge truncates a challenge to the part carried in a QR payload.
func QRChallenge(challenge string) string {
	if len(challenge) <= QRChallengeLen {
		return challenge
	}
	return challenge[:QRChallengeLen]
}

// MatchChallenge compares a challenge echoed by a wallet against the stored
// one. Either the full value or its QR prefix is accepted.
func MatchChallenge(stored, echoed string) bool {
	if echoed == "" {
		return false
	}
	if len(echoed) == len(stored) {
		return ConstantTimeEqual(stored, echoed)
	}
	return ConstantTimeEqual(QRChallenge(stored), echoed)
}

func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// MaskIDNumber keeps the first and last two characters of a national id,
// e.g. A123456789 -> A1******89.
func MaskIDNumber(id string) string {
	if len(id) <= 4 {
		return strings.Repeat("*", len(id))
	}
	return id[:2] + strings.Repeat("*", len(id)-4) + id[len(id)-2:]
}
