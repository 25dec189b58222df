package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "local")
	t.Setenv("PORT", "9090")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.S3UseSSL)
	assert.Equal(t, 720*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "chat-media", cfg.S3BucketName)
}

func TestLoadRequiresJWTSecretOutsideLocal(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.ErrorIs(t, err, ErrMissingJWTSecret)

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadLocalFallsBackToDevSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "local")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
}

func TestLoadAttachmentRoot(t *testing.T) {
	t.Setenv("ENVIRONMENT", "local")
	t.Setenv("ATTACHMENT_ROOT", "/srv/uploads")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/uploads", cfg.AttachmentRoot)
}

func TestLoadInvalidTTL(t *testing.T) {
	t.Setenv("TOKEN_TTL", "forever")

	_, err := Load()
	require.Error(t, err)
}

func TestGetBoolFallsBackOnGarbage(t *testing.T) {
	t.Setenv("DEBUG_ROUTES", "maybe")
	assert.False(t, getBool("DEBUG_ROUTES", false))
}
