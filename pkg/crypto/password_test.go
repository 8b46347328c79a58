package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"empty password", ""},
		{"normal password", "password123"},
		{"max length", strings.Repeat("a", 72)},
		{"unicode password", "пароль123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			require.NoError(t, err)
			assert.NotEqual(t, tt.password, hash)
			assert.True(t, strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$"))
		})
	}
}

func TestHashPassword_TooLong(t *testing.T) {
	_, err := HashPassword(strings.Repeat("a", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestHashPassword_Salted(t *testing.T) {
	a, err := HashPassword("testpassword")
	require.NoError(t, err)
	b, err := HashPassword("testpassword")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestCheckPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		attempt  string
		want     bool
	}{
		{"correct password", "password123", "password123", true},
		{"wrong password", "password123", "wrongpassword", false},
		{"case sensitive", "Password", "password", false},
		{"whitespace matters", "pass word", "password", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			require.NoError(t, err)
			assert.Equal(t, tt.want, CheckPassword(tt.attempt, hash))
		})
	}

	assert.False(t, CheckPassword("password", "invalid-hash"))
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := GenerateSecureToken(32)
	require.NoError(t, err)
	b, err := GenerateSecureToken(32)
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}
