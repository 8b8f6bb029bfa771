package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	generated, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(generated.Key, APIKeyPrefix+"_"))
	assert.Len(t, generated.Key, len(APIKeyPrefix)+1+APIKeyLength)
	assert.True(t, IsValidAPIKeyFormat(generated.Key))
	assert.True(t, ValidateAPIKey(generated.Key, generated.Hash))
	assert.Equal(t, generated.Key[:len(APIKeyPrefix)+1+displayChars]+"...", generated.KeyPrefix)

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, generated.Key, other.Key)
}

func TestHashAndValidateAPIKey(t *testing.T) {
	_, err := HashAPIKey("")
	assert.Error(t, err)

	long := "bf_" + strings.Repeat("a", 100)
	hash, err := HashAPIKey(long)
	require.NoError(t, err)

	tests := []struct {
		name  string
		key   string
		hash  string
		valid bool
	}{
		{name: "matching long key", key: long, hash: hash, valid: true},
		{name: "different key", key: long + "b", hash: hash},
		{name: "empty key", key: "", hash: hash},
		{name: "empty hash", key: long, hash: ""},
		{name: "malformed hash", key: long, hash: "not-bcrypt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateAPIKey(tt.key, tt.hash))
		})
	}
}

func TestIsValidAPIKeyFormat(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{key: "bf_abcdefghijklmnop", valid: true},
		{key: "sk_abcdefghijklmnop"},
		{key: "bf_short"},
		{key: "bf_" + strings.Repeat("a", 60)},
		{key: "bf_abcdefgh-jklmnop"},
		{key: ""},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidAPIKeyFormat(tt.key))
		})
	}
}

func TestCreateDisplayPrefix(t *testing.T) {
	assert.Equal(t, "bf_abcdefgh...", CreateDisplayPrefix("bf_abcdefghijklmnop"))
	assert.Equal(t, "invalid_key", CreateDisplayPrefix("nope"))
}
