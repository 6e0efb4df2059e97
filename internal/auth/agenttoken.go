// ABOUTME: Provisioning credentials handed to agents on their gateway
// ABOUTME: Only a salted PBKDF2 hash is persisted; the raw token leaves the process once

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	agentTokenBytes  = 32
	agentTokenSalt   = 16
	agentTokenKeyLen = 32
	// AgentTokenIterations is the PBKDF2 work factor for new hashes.
	AgentTokenIterations = 200_000
	agentTokenScheme     = "pbkdf2_sha256"
)

// ErrMalformedHash is returned when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed agent token hash")

// GenerateAgentToken returns a fresh URL-safe random token.
func GenerateAgentToken() (string, error) {
	buf := make([]byte, agentTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAgentToken derives the storable form pbkdf2_sha256$<iterations>$<salt>$<hash>.
func HashAgentToken(token string) (string, error) {
	salt := make([]byte, agentTokenSalt)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("reading salt: %w", err)
	}
	return encodeAgentTokenHash(token, salt, AgentTokenIterations), nil
}

func encodeAgentTokenHash(token string, salt []byte, iterations int) string {
	key := pbkdf2.Key([]byte(token), salt, iterations, agentTokenKeyLen, sha256.New)
	return strings.Join([]string{
		agentTokenScheme,
		strconv.Itoa(iterations),
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(key),
	}, "$")
}

// VerifyAgentToken checks a raw token against a stored hash in constant time.
func VerifyAgentToken(token, stored string) (bool, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != agentTokenScheme {
		return false, ErrMalformedHash
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false, ErrMalformedHash
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return false, ErrMalformedHash
	}

	candidate := encodeAgentTokenHash(token, salt, iterations)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(stored)) == 1, nil
}
