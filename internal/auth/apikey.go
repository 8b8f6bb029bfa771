// Package auth generates and checks the API key guarding the bifrost status
// API. Only a bcrypt hash of the key is ever stored in the configuration.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of the random part of an API key
	APIKeyLength = 32
	// APIKeyPrefix is the standard prefix for all API keys
	APIKeyPrefix = "bf"
	// BcryptCost is the bcrypt cost for hashing API keys
	BcryptCost = 12
	// BcryptMaxInputLength is the maximum input length for bcrypt
	BcryptMaxInputLength = 72

	minKeyLength = 15
	maxKeyLength = 50
	displayChars = 8
)

// GeneratedAPIKey is a new key together with the hash to put in the config.
type GeneratedAPIKey struct {
	Key       string `json:"key"`
	Hash      string `json:"hash"`
	KeyPrefix string `json:"key_prefix"`
}

// GenerateAPIKey creates a random API key and its bcrypt hash.
func GenerateAPIKey() (*GeneratedAPIKey, error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	// base32 avoids ambiguous characters
	randomPart := strings.ToLower(base32.StdEncoding.EncodeToString(randomBytes))[:APIKeyLength]
	key := APIKeyPrefix + "_" + randomPart

	hash, err := HashAPIKey(key)
	if err != nil {
		return nil, err
	}
	return &GeneratedAPIKey{Key: key, Hash: hash, KeyPrefix: CreateDisplayPrefix(key)}, nil
}

// HashAPIKey creates a bcrypt hash of an API key.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(prepare(apiKey), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// ValidateAPIKey checks if a provided API key matches the stored hash.
func ValidateAPIKey(apiKey, storedHash string) bool {
	if apiKey == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), prepare(apiKey)) == nil
}

// prepare pre-hashes keys longer than bcrypt accepts.
func prepare(apiKey string) []byte {
	keyBytes := []byte(apiKey)
	if len(keyBytes) > BcryptMaxInputLength {
		sum := sha256.Sum256(keyBytes)
		keyBytes = sum[:]
	}
	return keyBytes
}

// IsValidAPIKeyFormat checks if an API key has the correct format.
func IsValidAPIKeyFormat(apiKey string) bool {
	if !strings.HasPrefix(apiKey, APIKeyPrefix+"_") {
		return false
	}
	if len(apiKey) < minKeyLength || len(apiKey) > maxKeyLength {
		return false
	}
	for _, char := range apiKey {
		if (char < 'a' || char > 'z') &&
			(char < 'A' || char > 'Z') &&
			(char < '0' || char > '9') &&
			char != '_' {
			return false
		}
	}
	return true
}

// CreateDisplayPrefix creates a safe-to-display prefix from a full API key.
func CreateDisplayPrefix(apiKey string) string {
	if !IsValidAPIKeyFormat(apiKey) {
		return "invalid_key"
	}
	prefix, random, _ := strings.Cut(apiKey, "_")
	if len(random) > displayChars {
		random = random[:displayChars]
	}
	return prefix + "_" + random + "..."
}
