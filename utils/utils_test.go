package utils

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"focalcrm/config"
	"focalcrm/models"
)

func TestEncryptDecrypt(t *testing.T) {
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	t.Run("Success - round trip", func(t *testing.T) {
		encrypted, err := Encrypt("smtp-password-123")
		require.NoError(t, err)
		assert.NotEqual(t, "smtp-password-123", encrypted)

		decrypted, err := Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, "smtp-password-123", decrypted)
	})

	t.Run("Success - empty credential stays empty", func(t *testing.T) {
		encrypted, err := Encrypt("")
		require.NoError(t, err)
		assert.Empty(t, encrypted)

		decrypted, err := Decrypt("")
		require.NoError(t, err)
		assert.Empty(t, decrypted)
	})

	t.Run("Error - ciphertext shorter than one block", func(t *testing.T) {
		_, err := Decrypt("c2hvcnQ=")
		assert.Error(t, err)
	})

	t.Run("Error - not base64", func(t *testing.T) {
		_, err := Decrypt("%%%not-base64%%%")
		assert.Error(t, err)
	})
}

func TestJWT(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"

	user := &models.User{Model: gorm.Model{ID: 42}, BusinessID: 7, Email: "ana@lumen.example"}

	t.Run("Success - round trip carries user and business", func(t *testing.T) {
		token, err := GenerateJWTToken(user)
		require.NoError(t, err)

		claims, err := ParseJWTToken(token)
		require.NoError(t, err)
		assert.EqualValues(t, 42, claims.UserID)
		assert.EqualValues(t, 7, claims.BusinessID)
	})

	t.Run("Error - tampered token rejected", func(t *testing.T) {
		token, err := GenerateJWTToken(user)
		require.NoError(t, err)

		_, err = ParseJWTToken(token + "x")
		assert.Error(t, err)
	})

	t.Run("Error - wrong signing method rejected", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 42})
		token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = ParseJWTToken(token)
		assert.Error(t, err)
	})
}

func TestValidateStruct(t *testing.T) {
	type input struct {
		Email   string `validate:"required,email"`
		Channel string `validate:"required,oneof=EMAIL SMS"`
	}

	t.Run("Success - valid input", func(t *testing.T) {
		assert.NoError(t, ValidateStruct(input{Email: "ana@lumen.example", Channel: "EMAIL"}))
	})

	t.Run("Error - bad channel", func(t *testing.T) {
		err := ValidateStruct(input{Email: "ana@lumen.example", Channel: "FAX"})
		assert.Error(t, err)
	})

	t.Run("Error - missing email", func(t *testing.T) {
		err := ValidateStruct(input{Channel: "SMS"})
		assert.Error(t, err)
	})
}
