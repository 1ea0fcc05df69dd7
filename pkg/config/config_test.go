package config_test

import (
	"log/slog"
	"testing"
	"time"

	"collie-procedures-backend/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COLLIE_JWT_SECRET", "s3cret")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "Procedures", cfg.ProceduresTable)
	assert.Equal(t, "Employees", cfg.WorkersTable)
	assert.Equal(t, config.BackendRedis, cfg.ChallengeStore)
	assert.Equal(t, 5*time.Minute, cfg.Signature.CodeTTL)
	assert.Equal(t, 6, cfg.Signature.CodeLength)
	assert.False(t, cfg.Signature.RevealCodes)

	policy := cfg.Signature.LockoutPolicy()
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 15*time.Minute, policy.Window)
	assert.Equal(t, 15*time.Minute, policy.Lockout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("COLLIE_JWT_SECRET", "s3cret")
	t.Setenv("COLLIE_CHALLENGE_STORE", "memory")
	t.Setenv("COLLIE_SIGNATURE_CODE_TTL", "2m")
	t.Setenv("COLLIE_SIGNATURE_MAX_ATTEMPTS", "3")
	t.Setenv("PROCEDURES_TABLE_NAME", "procedures-dev")
	t.Setenv("COLLIE_LOG_LEVEL", "DEBUG")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, cfg.ChallengeStore)
	assert.Equal(t, 2*time.Minute, cfg.Signature.CodeTTL)
	assert.Equal(t, 3, cfg.Signature.LockoutPolicy().MaxAttempts)
	assert.Equal(t, "procedures-dev", cfg.ProceduresTable)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("COLLIE_JWT_SECRET", "")
	_, err := config.Load()
	assert.ErrorContains(t, err, "COLLIE_JWT_SECRET")

	t.Setenv("COLLIE_JWT_SECRET", "s3cret")
	t.Setenv("COLLIE_CHALLENGE_STORE", "etcd")
	_, err = config.Load()
	assert.ErrorContains(t, err, "COLLIE_CHALLENGE_STORE")

	// El secreto se borra del entorno al leerlo.
	t.Setenv("COLLIE_JWT_SECRET", "s3cret")
	t.Setenv("COLLIE_CHALLENGE_STORE", "memory")
	t.Setenv("COLLIE_SIGNATURE_CODE_LENGTH", "3")
	_, err = config.Load()
	assert.ErrorContains(t, err, "CODE_LENGTH")

	t.Setenv("COLLIE_JWT_SECRET", "s3cret")
	t.Setenv("COLLIE_SIGNATURE_CODE_LENGTH", "6")
	t.Setenv("COLLIE_SIGNATURE_CODE_TTL", "soon")
	_, err = config.Load()
	assert.ErrorContains(t, err, "parse env")
}
